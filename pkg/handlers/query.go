package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

// maxQueryBodyBytes bounds the request body, history included.
const maxQueryBodyBytes = 1 << 20

// QueryRunner answers one question.
type QueryRunner interface {
	Run(ctx context.Context, q models.Question) models.Response
}

// QueryHandler serves the natural-language query endpoint.
type QueryHandler struct {
	runner QueryRunner
	logger *zap.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(runner QueryRunner, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{runner: runner, logger: logger.Named("query-handler")}
}

// RegisterRoutes registers the query handler's routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /query", h.Query)
	mux.HandleFunc("POST /api/query", h.Query)
}

// Query handles POST /query.
// A malformed body is a 400. Anything the pipeline produces, including an
// unanswerable question, is a 200 whose body carries success=false.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBodyBytes)

	var q models.Question
	if err := decodeStrict(r.Body, &q); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body is too large")
			return
		}
		h.logger.Debug("Invalid query request body", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON with a \"question\" field")
		return
	}
	for i, t := range q.History {
		if t.Role != "user" && t.Role != "assistant" {
			h.logger.Debug("Invalid history role", zap.Int("index", i), zap.String("role", t.Role))
			h.writeError(w, http.StatusBadRequest, "invalid_request", "History roles must be \"user\" or \"assistant\"")
			return
		}
	}

	resp := h.runner.Run(r.Context(), q)
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode query response", zap.Error(err))
	}
}

// decodeStrict decodes exactly one JSON object into v. Unknown fields and anything
// after the object other than whitespace are errors.
func decodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	switch err := dec.Decode(&json.RawMessage{}); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return err
	default:
		return errors.New("unexpected data after JSON body")
	}
}

func (h *QueryHandler) writeError(w http.ResponseWriter, status int, code, msg string) {
	if err := ErrorResponse(w, status, code, msg); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}
