package usecase

import (
	"context"

	"gitlab.com/timkado/api/wa-group-etl/internal/model"
)

// Pipeline domains, used as run-log process names and metric labels.
const (
	DomainStudents = "students"
	DomainSales    = "sales"
)

// MessageSource returns the last count messages of a group, oldest first.
type MessageSource interface {
	ReadMessages(ctx context.Context, group string, count int) ([]model.RawMessage, error)
}

// RosterSource returns the known participants.
type RosterSource interface {
	LoadRoster(ctx context.Context) ([]model.RosterEntry, error)
}

// RosterWriter applies owed column updates to the roster. It returns the
// number of cells written.
type RosterWriter interface {
	ApplyLastPractice(ctx context.Context, updates []model.SheetUpdate) (int, error)
}

// LeadSink stores admitted leads. It returns the number of rows written.
type LeadSink interface {
	AppendLeads(ctx context.Context, leads []model.Lead) (int, error)
}

// EventPublisher announces run outcomes and admitted leads.
type EventPublisher interface {
	PublishRunLog(ctx context.Context, entry model.RunLogEntry) error
	PublishLeads(ctx context.Context, leads []model.Lead) error
}

// RunReport counts what one pipeline invocation did. The planned effects
// are kept for dry runs.
type RunReport struct {
	MessagesRead int `json:"messages_read" yaml:"messages_read"`
	Applied      int `json:"applied" yaml:"applied"`
	Skipped      int `json:"skipped" yaml:"skipped"`
	Upserts      int `json:"upserts" yaml:"upserts"`
	SheetWrites  int `json:"sheet_writes" yaml:"sheet_writes"`
	NewLeads     int `json:"new_leads" yaml:"new_leads"`
	// SkipReasons counts skipped records per reason label.
	SkipReasons map[string]int `json:"skip_reasons,omitempty" yaml:"skip_reasons,omitempty"`

	Plan         []model.UpsertOp    `json:"plan" yaml:"plan"`
	SheetUpdates []model.SheetUpdate `json:"sheet_updates" yaml:"sheet_updates"`
	Leads        []model.Lead        `json:"leads" yaml:"leads"`
}

func (r *RunReport) skip(reason string) {
	if r.SkipReasons == nil {
		r.SkipReasons = make(map[string]int)
	}
	r.SkipReasons[reason]++
	r.Skipped++
}
