package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/observer"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
	"gitlab.com/timkado/api/wa-group-etl/pkg/utils"
)

const storeLabelPostgres = "postgres"

// documentRow stores one document of any collection as JSONB, keyed by the
// collection name and the value of the collection's filter field.
type documentRow struct {
	Collection string         `gorm:"column:collection;primaryKey"`
	DocKey     string         `gorm:"column:doc_key;primaryKey"`
	Body       datatypes.JSON `gorm:"column:body;type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM, respecting the Namer.
func (documentRow) TableName(namer schema.Namer) string {
	return namer.TableName("document")
}

const documentsTableDDL = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	doc_key TEXT NOT NULL,
	body JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, doc_key)
)`

// upsertDocumentSQL merges Set into an existing body and writes Set plus
// SetOnInsert on first insert, matching $set / $setOnInsert semantics for
// top-level fields.
const upsertDocumentSQL = `INSERT INTO documents (collection, doc_key, body, created_at, updated_at) VALUES (?, ?, ?::jsonb, ?, ?) ` +
	`ON CONFLICT (collection, doc_key) DO UPDATE SET body = documents.body || ?::jsonb, updated_at = EXCLUDED.updated_at`

// PostgresRepo implements Store on a single JSONB document table.
type PostgresRepo struct {
	db     *gorm.DB
	layout Layout
}

// NewPostgresRepo connects with retries and prepares the schema.
func NewPostgresRepo(dsn string, autoMigrate bool, layout Layout) (*PostgresRepo, error) {
	operationConnect := func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormLogger.Default.LogMode(gormLogger.Warn),
		})
		if err != nil {
			if isTransientError(err) {
				logger.Log.Warn("Failed to connect to postgres (transient), retrying...", zap.Error(err))
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to connect to postgres: %w", err))
		}
		return db, nil
	}

	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying DB connection", zap.Error(err), zap.Duration("after", d))
	}

	db, err := backoff.RetryNotifyWithData(operationConnect, newConnectPolicy(), notify)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to postgres after retries: %w", apperrors.ErrStoreUnavailable, err)
	}

	repo := &PostgresRepo{db: db, layout: layout.withDefaults()}
	if err := repo.migrate(autoMigrate); err != nil {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRepo) migrate(autoMigrate bool) error {
	if err := r.db.Exec(documentsTableDDL).Error; err != nil {
		return fmt.Errorf("failed to ensure documents table: %w", err)
	}

	indexes := map[string]string{
		"idx_documents_updated_at":     "CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents USING btree (collection, updated_at);",
		"idx_documents_phone_number":   "CREATE INDEX IF NOT EXISTS idx_documents_phone_number ON documents USING btree ((body->>'phone_number'));",
		"idx_documents_current_lesson": "CREATE INDEX IF NOT EXISTS idx_documents_current_lesson ON documents USING btree ((body->>'current_lesson'));",
	}
	for indexName, indexSQL := range indexes {
		if err := r.db.Exec(indexSQL).Error; err != nil {
			// Log index creation errors but don't fail startup
			logger.Log.Warn("Failed to create index", zap.String("indexName", indexName), zap.Error(err))
		}
	}

	if !autoMigrate {
		logger.Log.Info("Auto-migration disabled")
		return nil
	}
	logger.Log.Info("Running auto-migration for run log table")
	if err := r.db.AutoMigrate(&model.RunLogEntry{}); err != nil {
		// Log migration errors but don't necessarily fail startup
		logger.Log.Error("Auto-migration failed or produced errors", zap.Error(err))
	}
	return nil
}

// FindStudent loads one ledger document by uniq_id.
func (r *PostgresRepo) FindStudent(ctx context.Context, uniqID string) (*model.StudentDocument, error) {
	var doc model.StudentDocument
	if err := r.findDocument(ctx, "find_student", r.layout.Students.Collection, uniqID, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindWatermark loads the watermark document by identifier.
func (r *PostgresRepo) FindWatermark(ctx context.Context, identifier string) (*model.SalesWatermark, error) {
	var wm model.SalesWatermark
	if err := r.findDocument(ctx, "find_watermark", r.layout.Watermarks.Collection, identifier, &wm); err != nil {
		return nil, err
	}
	return &wm, nil
}

func (r *PostgresRepo) findDocument(ctx context.Context, opName, collection, key string, out interface{}) error {
	var row documentRow
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("collection = ? AND doc_key = ?", collection, key).
			Take(&row)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, opName, isTransientError, operation)
	observer.ObserveDbOperationDuration(opName, collection, storeLabelPostgres, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find document after retries",
			zap.String("collection", collection),
			zap.String("key", key),
			zap.Error(findErr))
		return findErr
	}

	if err := json.Unmarshal(row.Body, out); err != nil {
		return fmt.Errorf("%w: decode %s/%s: %w", apperrors.ErrDatabase, collection, key, err)
	}
	return nil
}

// ApplyUpserts executes ops in order, each as its own atomic statement.
func (r *PostgresRepo) ApplyUpserts(ctx context.Context, ops []model.UpsertOp) (int, error) {
	for i, op := range ops {
		if err := r.applyUpsert(ctx, op); err != nil {
			return i, err
		}
	}
	return len(ops), nil
}

func (r *PostgresRepo) applyUpsert(ctx context.Context, op model.UpsertOp) error {
	insertBody, setBody, err := upsertBodies(op)
	if err != nil {
		return err
	}
	now := utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Exec(upsertDocumentSQL,
			op.Collection, op.Filter.Value, insertBody, now, now, setBody)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ApplyUpsert", isTransientError, operation)
	observer.ObserveDbOperationDuration("upsert", op.Collection, storeLabelPostgres, time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to apply upsert after retries",
			zap.String("collection", op.Collection),
			zap.String("key", op.Filter.Value),
			zap.Error(commitErr))
		return commitErr
	}
	observer.IncUpsert(op.Collection)
	return nil
}

// upsertBodies renders the insert body (SetOnInsert overlaid with Set) and the
// update patch (Set only).
func upsertBodies(op model.UpsertOp) (string, string, error) {
	if op.Filter.Field == "" || op.Filter.Value == "" {
		return "", "", fmt.Errorf("%w: upsert on %s has an empty filter", apperrors.ErrValidation, op.Collection)
	}
	insert := make(map[string]interface{}, len(op.Set)+len(op.SetOnInsert)+1)
	for k, v := range op.SetOnInsert {
		insert[k] = v
	}
	for k, v := range op.Set {
		insert[k] = v
	}
	insert[op.Filter.Field] = op.Filter.Value

	insertJSON, err := json.Marshal(insert)
	if err != nil {
		return "", "", fmt.Errorf("%w: encode insert body: %w", apperrors.ErrValidation, err)
	}
	set := op.Set
	if set == nil {
		set = map[string]interface{}{}
	}
	setJSON, err := json.Marshal(set)
	if err != nil {
		return "", "", fmt.Errorf("%w: encode set body: %w", apperrors.ErrValidation, err)
	}
	return string(insertJSON), string(setJSON), nil
}

// SaveRunLog appends one run log row.
func (r *PostgresRepo) SaveRunLog(ctx context.Context, entry model.RunLogEntry) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Create(&entry)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: create operation affected 0 rows", apperrors.ErrDatabase)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveRunLog", isTransientError, operation)
	observer.ObserveDbOperationDuration("save", "run_log", storeLabelPostgres, time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save run log after retries",
			zap.String("source", entry.Source),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// Ping checks the connection.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}

	if closeErr := sqlDB.Close(); closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed successfully")
	return nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	// Check for context deadline exceeded, often indicates a timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, apperrors.ErrNotFound) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: Connection Exception
		// Class 53: Insufficient Resources
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			pgErr.Code == "40P01" ||
			pgErr.Code == "40001" {
			return true
		}
		return false
	}

	// Fallback to string matching for common network-related errors
	errStr := strings.ToLower(err.Error())
	transientIndicators := []string{
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"connection reset by peer",
		"could not translate host name",
		"no route to host",
		"database system is starting up", // Might occur during failover/restart
		"connection timed out",
		"connection reset",
	}
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// Class 23: Integrity Constraint Violation
		case "23505": // unique_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrDuplicate, pgErr.ConstraintName, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: null value in column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "23514": // check_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)

		// Class 22: Data Exception
		case "22001": // string_data_right_truncation
			return fmt.Errorf("%w: value too long for column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "22P02": // invalid_text_representation
			return fmt.Errorf("%w: invalid input syntax for type %s: %w", apperrors.ErrBadRequest, pgErr.DataTypeName, err)

		// Class 40: Transaction Rollback
		case "40001": // serialization_failure
			fallthrough
		case "40P01": // deadlock_detected
			return fmt.Errorf("%w: transaction rollback (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)

		default:
			if strings.HasPrefix(pgErr.Code, "53") { // Class 53: Insufficient Resources
				return fmt.Errorf("%w: insufficient resources (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			if strings.HasPrefix(pgErr.Code, "08") { // Class 08: Connection Exception
				return fmt.Errorf("%w: connection error (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			return fmt.Errorf("%w: unhandled pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
		}
	}

	return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
}

var _ Store = (*PostgresRepo)(nil)
