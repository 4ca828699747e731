package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

type fakeRunner struct {
	got  []models.Question
	resp models.Response
}

func (f *fakeRunner) Run(_ context.Context, q models.Question) models.Response {
	f.got = append(f.got, q)
	return f.resp
}

func serveQuery(t *testing.T, runner QueryRunner, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewQueryHandler(runner, zap.NewNop()).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestQueryHandler_Success(t *testing.T) {
	sql := "SELECT COUNT(DISTINCT cik) AS count FROM companies WHERE gics_sector = ?"
	runner := &fakeRunner{resp: models.Response{
		Answer:  "There are 3 companies in the Information Technology sector.",
		SQL:     &sql,
		Success: true,
	}}

	body := `{"question":"How many companies are in the Information Technology sector?","history":[{"role":"user","text":"hi","timestamp":"2024-01-02T03:04:05Z"}],"debug":true}`
	rec := serveQuery(t, runner, "/query", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, sql, got["sql"])
	assert.Equal(t, runner.resp.Answer, got["answer"])

	require.Len(t, runner.got, 1)
	q := runner.got[0]
	assert.Equal(t, "How many companies are in the Information Technology sector?", q.Text)
	assert.True(t, q.Debug)
	require.Len(t, q.History, 1)
	assert.Equal(t, 2024, q.History[0].Timestamp.Year())
}

func TestQueryHandler_FailureIsStill200(t *testing.T) {
	category := "routing_rejected"
	runner := &fakeRunner{resp: models.Response{
		Answer:  "I couldn't understand your question.",
		Success: false,
		Error:   &category,
	}}

	rec := serveQuery(t, runner, "/api/query", `{"question":"Tell me a joke"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, false, got["success"])
	assert.Nil(t, got["sql"])
	assert.Equal(t, "routing_rejected", got["error"])
}

func TestQueryHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"not json", `question=hello`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"wrong type", `{"question": 42}`, http.StatusBadRequest},
		{"bad role", `{"question":"q","history":[{"role":"system","text":"x"}]}`, http.StatusBadRequest},
		{"unknown field", `{"question":"q","sql":"DELETE FROM companies"}`, http.StatusBadRequest},
		{"unknown history field", `{"question":"q","history":[{"role":"user","text":"x","extra":1}]}`, http.StatusBadRequest},
		{"second object", `{"question":"q"}{"question":"r"}`, http.StatusBadRequest},
		{"trailing garbage", `{"question":"q"} x`, http.StatusBadRequest},
		{"too large", `{"question":"` + strings.Repeat("a", maxQueryBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			rec := serveQuery(t, runner, "/query", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			var got map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.NotEmpty(t, got["error"])
			assert.Empty(t, runner.got)
		})
	}
}

func TestQueryHandler_TrailingWhitespaceAccepted(t *testing.T) {
	runner := &fakeRunner{}
	rec := serveQuery(t, runner, "/query", "{\"question\":\"How many companies?\"}\n\t ")

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.got, 1)
	assert.Equal(t, "How many companies?", runner.got[0].Text)
}

func TestQueryHandler_MethodNotAllowed(t *testing.T) {
	mux := http.NewServeMux()
	NewQueryHandler(&fakeRunner{}, zap.NewNop()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/query", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
