package services

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/apperrors"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/schema"
	"github.com/ekaya-inc/finsql-engine/pkg/telemetry"
)

const (
	reviewMarker = "SQL TO REVIEW:"

	energyCountSQL = "SELECT COUNT(DISTINCT cik) AS count FROM companies WHERE gics_sector = 'Energy'"
	energyRowsSQL  = "SELECT COUNT(*) AS count FROM sub JOIN companies ON sub.cik = companies.cik WHERE gics_sector = 'Energy'"
)

func newTestValidator(t *testing.T, gateway LLMGateway, cfg ValidatorConfig, metrics *telemetry.Metrics) SQLValidator {
	t.Helper()
	var regen SQLRegenerator
	if gateway != nil {
		regen = newTestRouter(t, gateway)
	}
	return NewSQLValidator(schema.Default(), newTestRegistry(t), gateway, regen, cfg, metrics, zap.NewNop())
}

func TestSQLValidator_StaticFailureNeedsNoLLM(t *testing.T) {
	mock := scriptedLLM(t, nil)
	reg := prometheus.NewRegistry()
	v := newTestValidator(t, newTestGateway(mock), ValidatorConfig{}, telemetry.NewMetrics(reg))

	rec := telemetry.NewRecord("req-static")
	ctx := telemetry.WithRecord(context.Background(), rec)

	tests := []struct {
		sql    string
		reason string
	}{
		{"DELETE FROM sub", "write_keyword"},
		{"SELECT 1; SELECT 2", "multiple_statements"},
		{"SELECT * FROM users", "unknown_table"},
		{"SELECT value FROM num WHERE tag = 'Revenues'", "join_path"},
	}
	for _, tt := range tests {
		verdict := v.Validate(ctx, tt.sql, question("q"), models.ExtractedEntities{}, true)
		assert.False(t, verdict.Passed(), tt.sql)
		assert.Equal(t, tt.reason, verdict.Reason(), tt.sql)
		assert.Nil(t, verdict.Semantic, "semantic pass never runs after a static failure")
	}

	assert.Equal(t, 0, mock.GenerateResponseCalls())
	assert.Len(t, rec.Report().ValidationAttempts, len(tests))
	n, err := testutil.GatherAndCount(reg, "finsql_validation_passes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one static/failure series")
}

func TestSQLValidator_SemanticPass(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		passed    bool
		rationale string
	}{
		{"accepted", `{"is_valid": true, "confidence": 0.9}`, true, ""},
		{"rejected", `{"is_valid": false, "confidence": 0.95, "reason": "counts filings, not companies"}`, false, "counts filings, not companies"},
		{"below threshold", `{"is_valid": true, "confidence": 0.5}`, false, "confidence 0.50 below threshold 0.70"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := scriptedLLM(t, map[string]string{reviewMarker: tt.reply})
			v := newTestValidator(t, newTestGateway(mock), ValidatorConfig{SemanticThreshold: 0.7}, nil)

			rec := telemetry.NewRecord("req")
			verdict := v.Validate(telemetry.WithRecord(context.Background(), rec), energyCountSQL,
				question("How many energy companies?"), sectorEntities("Energy", models.QuestionTypeCount), true)

			assert.True(t, verdict.Static.Pass)
			require.NotNil(t, verdict.Semantic)
			assert.False(t, verdict.Semantic.Skipped)
			assert.Equal(t, tt.passed, verdict.Passed())
			assert.Equal(t, tt.rationale, verdict.Semantic.Rationale)
			if !tt.passed {
				assert.Equal(t, "semantic_rejected", verdict.Reason())
			}

			attempts := rec.Report().ValidationAttempts
			require.Len(t, attempts, 2)
			assert.Equal(t, "static", attempts[0].Pass)
			assert.Equal(t, "semantic", attempts[1].Pass)
			assert.Equal(t, tt.passed, attempts[1].OK)
			assert.Contains(t, mock.Prompts()[0], energyCountSQL)
		})
	}
}

func TestSQLValidator_SemanticSkippedWithoutLLM(t *testing.T) {
	v := newTestValidator(t, nil, ValidatorConfig{}, nil)

	verdict := v.Validate(context.Background(), energyCountSQL, question("q"), models.ExtractedEntities{}, true)

	require.NotNil(t, verdict.Semantic)
	assert.True(t, verdict.Semantic.Skipped)
	assert.True(t, verdict.Passed())
}

func TestSQLValidator_SemanticSkippedOnLLMError(t *testing.T) {
	v := newTestValidator(t, newTestGateway(failingLLM()), ValidatorConfig{}, nil)

	verdict := v.Validate(context.Background(), energyCountSQL, question("q"), models.ExtractedEntities{}, true)

	require.NotNil(t, verdict.Semantic)
	assert.True(t, verdict.Semantic.Skipped)
	assert.Equal(t, "semantic validation error (auth)", verdict.Semantic.Rationale)
	assert.True(t, verdict.Passed())
}

func TestSQLValidator_TemplateDecision(t *testing.T) {
	mock := scriptedLLM(t, nil)
	v := newTestValidator(t, newTestGateway(mock), ValidatorConfig{}, nil)

	d, err := v.ValidateDecision(context.Background(), question("q"), sectorEntities("Energy", models.QuestionTypeCount),
		models.TemplateDirect("sector_count", 0.9))
	require.NoError(t, err)
	require.NotNil(t, d.Validation)
	assert.True(t, d.Validation.Passed())
	assert.Nil(t, d.Validation.Semantic)
	assert.NoError(t, d.ReadyForExecution())
	assert.Equal(t, 0, mock.GenerateResponseCalls())
}

func TestSQLValidator_TemplateDecisionWithSemanticPass(t *testing.T) {
	mock := scriptedLLM(t, map[string]string{reviewMarker: `{"is_valid": false, "confidence": 0.9, "reason": "wrong sector"}`})
	v := newTestValidator(t, newTestGateway(mock), ValidatorConfig{ValidateTemplates: true}, nil)

	d, err := v.ValidateDecision(context.Background(), question("q"), sectorEntities("Energy", models.QuestionTypeCount),
		models.TemplateConfirmed("sector_count", models.SourceConfirmation, 0.7))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)
	assert.Error(t, d.ReadyForExecution())
}

func TestSQLValidator_RegeneratesAfterSemanticFailure(t *testing.T) {
	mock := sequencedLLM(t, map[string][]string{
		reviewMarker: {
			`{"is_valid": false, "confidence": 0.9, "reason": "counts filings, not companies"}`,
			`{"is_valid": true, "confidence": 0.92}`,
		},
		regenMarker: {`{"sql": "` + energyCountSQL + `"}`},
	})
	v := newTestValidator(t, newTestGateway(mock), ValidatorConfig{RetryBudget: 3}, nil)

	rec := telemetry.NewRecord("req-regen")
	d, err := v.ValidateDecision(telemetry.WithRecord(context.Background(), rec), question("How many energy companies?"),
		sectorEntities("Energy", models.QuestionTypeCount), models.CustomSQL(energyRowsSQL, models.SourceGeneration))
	require.NoError(t, err)

	assert.Equal(t, models.RoutingCustomSQL, d.Kind)
	assert.Equal(t, energyCountSQL, d.SQL)
	assert.Equal(t, models.SourceRegeneration, d.Source)
	require.NotNil(t, d.Validation)
	assert.Equal(t, 2, d.Validation.Attempts)
	assert.NoError(t, d.ReadyForExecution())

	assert.Equal(t, 3, mock.GenerateResponseCalls())
	assert.Contains(t, mock.Prompts()[1], "counts filings, not companies")
	assert.Len(t, rec.Report().ValidationAttempts, 4)
}

func TestSQLValidator_RetryBudgetExhausted(t *testing.T) {
	mock := sequencedLLM(t, map[string][]string{
		reviewMarker: {`{"is_valid": false, "confidence": 0.9, "reason": "still wrong"}`},
		regenMarker:  {`{"sql": "` + energyRowsSQL + `"}`},
	})
	v := newTestValidator(t, newTestGateway(mock), ValidatorConfig{RetryBudget: 3}, nil)

	d, err := v.ValidateDecision(context.Background(), question("q"), models.ExtractedEntities{},
		models.CustomSQL(energyRowsSQL, models.SourceGeneration))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidationFailed)

	var pe *apperrors.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, apperrors.StageValidation, pe.Stage)
	assert.Equal(t, "semantic_rejected", pe.Code)
	assert.Equal(t, 3, d.Validation.Attempts)
	assert.Equal(t, 5, mock.GenerateResponseCalls(), "three reviews and two regenerations")
}

func TestSQLValidator_StaticFailureOnCustomSQLIsTerminal(t *testing.T) {
	mock := scriptedLLM(t, nil)
	v := newTestValidator(t, newTestGateway(mock), ValidatorConfig{}, nil)

	d, err := v.ValidateDecision(context.Background(), question("q"), models.ExtractedEntities{},
		models.CustomSQL("SELECT * FROM companies; DROP TABLE companies", models.SourceGeneration))
	require.Error(t, err)

	var pe *apperrors.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "multiple_statements", pe.Code)
	assert.Equal(t, 1, d.Validation.Attempts)
	assert.Equal(t, 0, mock.GenerateResponseCalls())
}

func TestSQLValidator_RejectedDecision(t *testing.T) {
	v := newTestValidator(t, nil, ValidatorConfig{}, nil)

	_, err := v.ValidateDecision(context.Background(), question("q"), models.ExtractedEntities{}, models.Rejected(models.ReasonNoTemplate))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRoutingRejected)
}
