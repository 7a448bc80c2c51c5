package storage

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
)

// Note on SQL Query Matching in Tests:
// GORM appends LIMIT clauses and placeholders that vary between versions, so
// these tests use sqlmock.QueryMatcherRegexp with partial patterns.

// AnyTime matches any time.Time argument.
type AnyTime struct{}

// Match satisfies sqlmock.Argument interface
func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

// JSONWith matches a JSON argument that decodes to an object containing every key.
type JSONWith []string

// Match satisfies sqlmock.Argument interface
func (j JSONWith) Match(v driver.Value) bool {
	var raw []byte
	switch b := v.(type) {
	case string:
		raw = []byte(b)
	case []byte:
		raw = b
	default:
		return false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	for _, k := range j {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

// --- Test Helpers ---

func newTestPostgresRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock, func()) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	repo := &PostgresRepo{db: gormDB, layout: DefaultLayout}
	teardown := func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	}
	return repo, mock, teardown
}

// --- Test Cases ---

func TestPostgresRepo_FindStudent_Success(t *testing.T) {
	repo, mock, teardown := newTestPostgresRepo(t)
	t.Cleanup(teardown)

	body := `{"uniq_id":"abc","phone_number":"972501234567","name":"Dana","current_lesson":"7",` +
		`"last_practice_timedate":"10:00, 01.01.2025","lessons":[{"lesson":"7","teacher":"Noa","practice_count":1,` +
		`"message_count":0,"first_practice":"10:00, 01.01.2025","last_practice":"10:00, 01.01.2025","paid":false}],` +
		`"total_messages":3,"created_at":"2025-01-01T10:00:00Z","updated_at":"2025-01-01T10:00:00Z"}`
	rows := sqlmock.NewRows([]string{"collection", "doc_key", "body", "created_at", "updated_at"}).
		AddRow("student_stats", "abc", []byte(body), time.Now(), time.Now())
	mock.ExpectQuery(`SELECT \* FROM "documents" WHERE collection = \$1 AND doc_key = \$2`).
		WillReturnRows(rows)

	doc, err := repo.FindStudent(context.Background(), "abc")

	require.NoError(t, err)
	assert.Equal(t, "Dana", doc.Name)
	assert.Equal(t, 3, doc.TotalMessages)
	require.Len(t, doc.Lessons, 1)
	assert.Equal(t, 1, doc.Lessons[0].PracticeCount)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), doc.CreatedAt.UTC())
}

func TestPostgresRepo_FindStudent_NotFound(t *testing.T) {
	repo, mock, teardown := newTestPostgresRepo(t)
	t.Cleanup(teardown)

	mock.ExpectQuery(`SELECT \* FROM "documents" WHERE collection = \$1 AND doc_key = \$2`).
		WillReturnError(gorm.ErrRecordNotFound)

	doc, err := repo.FindStudent(context.Background(), "missing")

	assert.Nil(t, doc)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgresRepo_FindWatermark_Success(t *testing.T) {
	repo, mock, teardown := newTestPostgresRepo(t)
	t.Cleanup(teardown)

	rows := sqlmock.NewRows([]string{"collection", "doc_key", "body", "created_at", "updated_at"}).
		AddRow("last_run_timestamp", "sales_leads_etl",
			[]byte(`{"identifier":"sales_leads_etl","last_run_timestamp":"2025-01-02T10:00:00.000Z"}`), time.Now(), time.Now())
	mock.ExpectQuery(`SELECT \* FROM "documents" WHERE collection = \$1 AND doc_key = \$2`).
		WillReturnRows(rows)

	wm, err := repo.FindWatermark(context.Background(), "sales_leads_etl")

	require.NoError(t, err)
	assert.Equal(t, "2025-01-02T10:00:00.000Z", wm.LastRunTimestamp)
}

func TestPostgresRepo_ApplyUpserts(t *testing.T) {
	repo, mock, teardown := newTestPostgresRepo(t)
	t.Cleanup(teardown)

	ops := []model.UpsertOp{
		{
			Collection:  "student_stats",
			Filter:      model.Filter{Field: "uniq_id", Value: "abc"},
			Set:         map[string]interface{}{"name": "Dana", "updated_at": time.Now()},
			SetOnInsert: map[string]interface{}{"uniq_id": "abc", "created_at": time.Now()},
		},
		{
			Collection:  "last_run_timestamp",
			Filter:      model.Filter{Field: "identifier", Value: "sales_leads_etl"},
			Set:         map[string]interface{}{"last_run_timestamp": "2025-01-02T10:00:00.000Z"},
			SetOnInsert: map[string]interface{}{"identifier": "sales_leads_etl"},
		},
	}

	mock.ExpectExec(`INSERT INTO documents .* ON CONFLICT \(collection, doc_key\) DO UPDATE SET body = documents.body \|\|`).
		WithArgs("student_stats", "abc", JSONWith{"uniq_id", "name", "created_at", "updated_at"}, AnyTime{}, AnyTime{}, JSONWith{"name", "updated_at"}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("last_run_timestamp", "sales_leads_etl", JSONWith{"identifier", "last_run_timestamp"}, AnyTime{}, AnyTime{}, JSONWith{"last_run_timestamp"}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.ApplyUpserts(context.Background(), ops)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPostgresRepo_ApplyUpserts_StopsOnPermanentError(t *testing.T) {
	repo, mock, teardown := newTestPostgresRepo(t)
	t.Cleanup(teardown)

	ops := []model.UpsertOp{
		{Collection: "student_stats", Filter: model.Filter{Field: "uniq_id", Value: "a"}, Set: map[string]interface{}{"name": "A"}},
		{Collection: "student_stats", Filter: model.Filter{Field: "uniq_id", Value: "b"}, Set: map[string]interface{}{"name": "B"}},
	}
	mock.ExpectExec(`INSERT INTO documents`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO documents`).WillReturnError(&pgconn.PgError{Code: "22P02", DataTypeName: "jsonb"})

	n, err := repo.ApplyUpserts(context.Background(), ops)

	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestPostgresRepo_ApplyUpserts_EmptyFilter(t *testing.T) {
	repo, _, teardown := newTestPostgresRepo(t)
	t.Cleanup(teardown)

	n, err := repo.ApplyUpserts(context.Background(), []model.UpsertOp{{Collection: "student_stats"}})

	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestPostgresRepo_SaveRunLog(t *testing.T) {
	repo, mock, teardown := newTestPostgresRepo(t)
	t.Cleanup(teardown)

	entry := *model.NewRunLogEntry(&model.RunLogEntry{Source: model.RunSourceSales})
	mock.ExpectExec(`INSERT INTO "run_logs"`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveRunLog(context.Background(), entry)
	assert.NoError(t, err)
}

func TestPostgresRepo_Ping(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)
	repo := &PostgresRepo{db: gormDB, layout: DefaultLayout}

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	assert.ErrorIs(t, repo.Ping(context.Background()), apperrors.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Close(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo, mock, teardown := newTestPostgresRepo(t)
		t.Cleanup(teardown)

		mock.ExpectClose()

		assert.NoError(t, repo.Close(context.Background()))
	})

	t.Run("Close Fails", func(t *testing.T) {
		repo, mock, teardown := newTestPostgresRepo(t)
		t.Cleanup(teardown)

		mock.ExpectClose().WillReturnError(errors.New("db close error"))

		err := repo.Close(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to close SQL DB")
		assert.Contains(t, err.Error(), "db close error")
	})
}

func TestUpsertBodies(t *testing.T) {
	op := model.UpsertOp{
		Collection:  "student_stats",
		Filter:      model.Filter{Field: "uniq_id", Value: "abc"},
		Set:         map[string]interface{}{"name": "Dana"},
		SetOnInsert: map[string]interface{}{"total_messages": 0},
	}

	insert, set, err := upsertBodies(op)

	require.NoError(t, err)
	assert.JSONEq(t, `{"uniq_id":"abc","name":"Dana","total_messages":0}`, insert)
	assert.JSONEq(t, `{"name":"Dana"}`, set)
}

func TestIsTransientError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "Nil error", err: nil, expected: false},
		{name: "Context deadline exceeded", err: context.DeadlineExceeded, expected: true},
		{name: "Wrapped Context deadline exceeded", err: fmt.Errorf("operation failed: %w", context.DeadlineExceeded), expected: true},
		{name: "GORM Record Not Found", err: gorm.ErrRecordNotFound, expected: false},
		{name: "Not found sentinel", err: fmt.Errorf("%w: x", apperrors.ErrNotFound), expected: false},
		{name: "PG Error - Connection Exception (08000)", err: &pgconn.PgError{Code: "08000"}, expected: true},
		{name: "PG Error - Insufficient Resources (53100)", err: &pgconn.PgError{Code: "53100"}, expected: true},
		{name: "PG Error - Deadlock Detected (40P01)", err: &pgconn.PgError{Code: "40P01"}, expected: true},
		{name: "PG Error - Syntax Error 42601", err: &pgconn.PgError{Code: "42601"}, expected: false},
		{name: "Wrapped PG connection error", err: checkConstraintViolation(&pgconn.PgError{Code: "08006"}), expected: true},
		{name: "Network Error - Connection Refused", err: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), expected: true},
		{name: "Network Error - DB Starting Up", err: errors.New("pq: the database system is starting up"), expected: true},
		{name: "Generic Non-Transient Error", err: errors.New("some other database error"), expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isTransientError(tc.err))
		})
	}
}

func TestCheckConstraintViolation(t *testing.T) {
	originalUnique := &pgconn.PgError{Code: "23505", ConstraintName: "documents_pkey"}

	testCases := []struct {
		name            string
		inErr           error
		expectedStdErr  error
		originalMsgFrag string
	}{
		{name: "Nil error"},
		{name: "GORM Record Not Found", inErr: gorm.ErrRecordNotFound, expectedStdErr: apperrors.ErrNotFound, originalMsgFrag: "record not found"},
		{name: "PG Unique Violation (23505)", inErr: originalUnique, expectedStdErr: apperrors.ErrDuplicate, originalMsgFrag: "documents_pkey"},
		{name: "PG Not Null Violation (23502)", inErr: &pgconn.PgError{Code: "23502", ColumnName: "body"}, expectedStdErr: apperrors.ErrBadRequest, originalMsgFrag: "body"},
		{name: "PG Invalid Text Representation (22P02)", inErr: &pgconn.PgError{Code: "22P02", DataTypeName: "jsonb"}, expectedStdErr: apperrors.ErrBadRequest, originalMsgFrag: "jsonb"},
		{name: "PG Deadlock Detected (40P01)", inErr: &pgconn.PgError{Code: "40P01"}, expectedStdErr: apperrors.ErrDatabase, originalMsgFrag: "40P01"},
		{name: "PG Connection Exception (08003)", inErr: &pgconn.PgError{Code: "08003"}, expectedStdErr: apperrors.ErrDatabase, originalMsgFrag: "08003"},
		{name: "PG Unhandled Code (XX000)", inErr: &pgconn.PgError{Code: "XX000"}, expectedStdErr: apperrors.ErrDatabase, originalMsgFrag: "XX000"},
		{name: "Generic error", inErr: errors.New("some generic DB error"), expectedStdErr: apperrors.ErrDatabase, originalMsgFrag: "some generic DB error"},
		{name: "Wrapped PG Unique Violation", inErr: fmt.Errorf("wrapper: %w", originalUnique), expectedStdErr: apperrors.ErrDuplicate, originalMsgFrag: "documents_pkey"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			outErr := checkConstraintViolation(tc.inErr)

			if tc.expectedStdErr == nil {
				assert.NoError(t, outErr)
				return
			}
			assert.ErrorIs(t, outErr, tc.expectedStdErr)
			assert.ErrorContains(t, outErr, tc.originalMsgFrag)
			assert.ErrorIs(t, outErr, tc.inErr)
		})
	}
}
