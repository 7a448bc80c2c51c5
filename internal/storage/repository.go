package storage

import (
	"context"

	"gitlab.com/timkado/api/wa-group-etl/internal/model"
)

// StudentRepo reads ledger documents.
type StudentRepo interface {
	// FindStudent returns apperrors.ErrNotFound when no document has uniqID.
	FindStudent(ctx context.Context, uniqID string) (*model.StudentDocument, error)
}

// WatermarkRepo reads the sales watermark.
type WatermarkRepo interface {
	// FindWatermark returns apperrors.ErrNotFound when identifier was never stored.
	FindWatermark(ctx context.Context, identifier string) (*model.SalesWatermark, error)
}

// UpsertExecutor executes planned upserts in order. It returns the number of
// operations applied before the first failure.
type UpsertExecutor interface {
	ApplyUpserts(ctx context.Context, ops []model.UpsertOp) (int, error)
}

// RunLogRepo appends run log entries.
type RunLogRepo interface {
	SaveRunLog(ctx context.Context, entry model.RunLogEntry) error
}

// Store is the full document store contract used by the pipelines.
type Store interface {
	StudentRepo
	WatermarkRepo
	UpsertExecutor
	RunLogRepo
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Namespace addresses one collection. DB is ignored by single-database stores.
type Namespace struct {
	DB         string `mapstructure:"db"`
	Collection string `mapstructure:"collection" validate:"required"`
}

// String renders the namespace as db.collection.
func (n Namespace) String() string {
	if n.DB == "" {
		return n.Collection
	}
	return n.DB + "." + n.Collection
}

// Layout names the collections of each domain.
type Layout struct {
	Students   Namespace `mapstructure:"students"`
	Watermarks Namespace `mapstructure:"sales"`
	RunLogs    Namespace `mapstructure:"logger"`
}

// DefaultLayout mirrors the production database names.
var DefaultLayout = Layout{
	Students:   Namespace{DB: "students_db", Collection: "student_stats"},
	Watermarks: Namespace{DB: "sales_db", Collection: "last_run_timestamp"},
	RunLogs:    Namespace{DB: "logger_db", Collection: "logger_stats"},
}

// withDefaults fills empty names from DefaultLayout.
func (l Layout) withDefaults() Layout {
	fill := func(n, d Namespace) Namespace {
		if n.DB == "" {
			n.DB = d.DB
		}
		if n.Collection == "" {
			n.Collection = d.Collection
		}
		return n
	}
	return Layout{
		Students:   fill(l.Students, DefaultLayout.Students),
		Watermarks: fill(l.Watermarks, DefaultLayout.Watermarks),
		RunLogs:    fill(l.RunLogs, DefaultLayout.RunLogs),
	}
}
