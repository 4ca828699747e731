package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/finsql-engine/pkg/apperrors"
	"github.com/ekaya-inc/finsql-engine/pkg/logging"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
	"github.com/ekaya-inc/finsql-engine/pkg/schema"
	sqlpkg "github.com/ekaya-inc/finsql-engine/pkg/sql"
	"github.com/ekaya-inc/finsql-engine/pkg/telemetry"
	"github.com/ekaya-inc/finsql-engine/pkg/templates"
)

// PreparedQuery is a validated statement with its driver-bound parameters.
type PreparedQuery struct {
	SQL    string
	Params []any
	// Values holds the named template values before binding; nil for custom SQL.
	Values map[string]any
}

// QueryExecutor binds and runs validated SQL against the read-only store.
type QueryExecutor interface {
	// Prepare turns a validated decision into a statement for the store dialect.
	Prepare(d models.RoutingDecision, e models.ExtractedEntities) (PreparedQuery, error)

	// Execute runs sql under the row and time budgets. Failures are *apperrors.ExecutionError.
	Execute(ctx context.Context, sql string, params []any) (*models.QueryResult, error)
}

// ExecutorConfig holds the execution budgets.
type ExecutorConfig struct {
	MaxRows      int
	QueryTimeout time.Duration
}

type queryExecutor struct {
	store    datasource.Store
	registry *templates.Registry
	catalog  *schema.Catalog
	cfg      ExecutorConfig
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

var _ QueryExecutor = (*queryExecutor)(nil)

// NewQueryExecutor creates an executor over store.
func NewQueryExecutor(store datasource.Store, registry *templates.Registry, catalog *schema.Catalog, cfg ExecutorConfig, metrics *telemetry.Metrics, logger *zap.Logger) QueryExecutor {
	// one extra row is fetched to detect overflow
	if cfg.MaxRows <= 0 || cfg.MaxRows >= datasource.MaxQueryLimit {
		cfg.MaxRows = datasource.MaxQueryLimit - 1
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}
	return &queryExecutor{
		store:    store,
		registry: registry,
		catalog:  catalog,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("query-executor"),
	}
}

func (x *queryExecutor) Prepare(d models.RoutingDecision, e models.ExtractedEntities) (PreparedQuery, error) {
	if err := d.ReadyForExecution(); err != nil {
		return PreparedQuery{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if d.Kind == models.RoutingCustomSQL {
		return PreparedQuery{SQL: d.SQL}, nil
	}

	t, err := x.registry.Get(d.TemplateID)
	if err != nil {
		return PreparedQuery{}, err
	}
	values, err := templates.Bind(t, e, x.catalog)
	if err != nil {
		return PreparedQuery{}, x.fail(apperrors.ExecutionInvalidParameter, err)
	}
	if findings := sqlpkg.ScreenParameters(values); len(findings) > 0 {
		x.logger.Warn("Template parameter rejected by injection screen",
			zap.String("template_id", t.ID),
			zap.String("param", findings[0].Param),
			zap.String("fingerprint", findings[0].Fingerprint))
		return PreparedQuery{}, x.fail(apperrors.ExecutionInvalidParameter, findings[0])
	}

	query, params, err := sqlpkg.SubstituteParameters(t.SQL, x.store.Dialect(), t.Parameters, values)
	if err != nil {
		return PreparedQuery{}, x.fail(apperrors.ExecutionInvalidParameter, err)
	}
	return PreparedQuery{SQL: query, Params: params, Values: values}, nil
}

func (x *queryExecutor) Execute(ctx context.Context, sql string, params []any) (*models.QueryResult, error) {
	if err := sqlpkg.ScreenValues(params); err != nil {
		return nil, x.fail(apperrors.ExecutionInvalidParameter, err)
	}

	start := time.Now()
	res, err := x.query(ctx, sql, params)
	if err != nil && datasource.IsTransient(err) && ctx.Err() == nil {
		x.logger.Info("Transient store error, retrying once", zap.String("error", logging.SanitizeError(err)))
		res, err = x.query(ctx, sql, params)
	}
	elapsed := time.Since(start)

	if err != nil {
		kind := apperrors.ExecutionStore
		if errors.Is(err, context.DeadlineExceeded) {
			kind = apperrors.ExecutionTimeout
		}
		x.logger.Error("Query execution failed",
			zap.String("kind", string(kind)),
			zap.String("sql", logging.SanitizeQuery(sql)),
			zap.String("error", logging.SanitizeError(err)),
			zap.Duration("elapsed", elapsed))
		return nil, x.fail(kind, err)
	}

	if res.RowCount > x.cfg.MaxRows {
		x.logger.Info("Query exceeded row budget",
			zap.Int("max_rows", x.cfg.MaxRows),
			zap.String("sql", logging.SanitizeQuery(sql)))
		return nil, x.fail(apperrors.ExecutionTooManyRows, fmt.Errorf("more than %d rows", x.cfg.MaxRows))
	}

	x.logger.Debug("Executed query",
		zap.Int("row_count", res.RowCount),
		zap.Duration("elapsed", elapsed))

	return &models.QueryResult{
		Columns:  res.ColumnNames(),
		Rows:     res.Rows,
		RowCount: res.RowCount,
		Duration: elapsed,
		SQL:      sql,
	}, nil
}

// query runs one attempt under the time budget. A budget overrun is reported as
// context.DeadlineExceeded whatever the driver returned.
func (x *queryExecutor) query(ctx context.Context, sql string, params []any) (*datasource.QueryExecutionResult, error) {
	qctx, cancel := context.WithTimeout(ctx, x.cfg.QueryTimeout)
	defer cancel()

	res, err := x.store.Query(qctx, sql, params, x.cfg.MaxRows+1)
	if err != nil && errors.Is(qctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return res, err
}

func (x *queryExecutor) fail(kind apperrors.ExecutionKind, err error) error {
	x.metrics.ObserveExecutionError(string(kind))
	return &apperrors.ExecutionError{Kind: kind, Err: err}
}
