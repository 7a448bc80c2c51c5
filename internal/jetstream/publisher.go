package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/observer"
	"gitlab.com/timkado/api/wa-group-etl/internal/runctx"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
)

// Published event kinds.
const (
	KindRunLog = "run_log"
	KindLead   = "lead"
)

// Header names set on every published message.
const (
	HeaderRunID  = "Run-Id"
	HeaderSource = "Source"
)

// PublisherConfig names the stream and subjects events go to.
type PublisherConfig struct {
	Stream        string        `mapstructure:"stream" validate:"required"`
	RunLogSubject string        `mapstructure:"runLogSubject" validate:"required"`
	LeadSubject   string        `mapstructure:"leadSubject" validate:"required"`
	MaxAge        time.Duration `mapstructure:"maxAge"`
}

// StreamConfig returns the stream definition covering both subjects.
func (c PublisherConfig) StreamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      c.Stream,
		Subjects:  []string{c.RunLogSubject, c.LeadSubject},
		Retention: nats.LimitsPolicy,
		MaxAge:    c.MaxAge,
		Storage:   nats.FileStorage,
	}
}

// Publisher emits run-log records and admitted leads. Message IDs make
// a republished run or lead a duplicate that JetStream drops.
type Publisher struct {
	client ClientInterface
	cfg    PublisherConfig
}

// NewPublisher creates a Publisher on top of client.
func NewPublisher(client ClientInterface, cfg PublisherConfig) *Publisher {
	return &Publisher{client: client, cfg: cfg}
}

// EnsureStream creates or updates the event stream.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	if err := p.client.SetupStream(ctx, p.cfg.StreamConfig()); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrNATS, err)
	}
	return nil
}

// PublishRunLog publishes one run-log record.
func (p *Publisher) PublishRunLog(ctx context.Context, entry model.RunLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: marshal run log: %w", apperrors.ErrValidation, err)
	}
	headers := p.headers(ctx, entry.Source)
	headers[nats.MsgIdHdr] = entry.ID

	err = p.client.Publish(p.cfg.RunLogSubject, data, headers)
	observer.IncEventPublished(KindRunLog, err)
	if err != nil {
		return fmt.Errorf("%w: publish run log: %w", apperrors.ErrNATS, err)
	}
	return nil
}

// PublishLeads publishes each lead as its own message. It stops at the
// first failure.
func (p *Publisher) PublishLeads(ctx context.Context, leads []model.Lead) error {
	for _, lead := range leads {
		data, err := json.Marshal(lead)
		if err != nil {
			return fmt.Errorf("%w: marshal lead: %w", apperrors.ErrValidation, err)
		}
		headers := p.headers(ctx, model.RunSourceSales)
		headers[nats.MsgIdHdr] = LeadMessageID(lead)

		err = p.client.Publish(p.cfg.LeadSubject, data, headers)
		observer.IncEventPublished(KindLead, err)
		if err != nil {
			return fmt.Errorf("%w: publish lead: %w", apperrors.ErrNATS, err)
		}
	}
	if len(leads) > 0 {
		logger.FromContext(ctx).Debug("Leads published", zap.Int("count", len(leads)))
	}
	return nil
}

func (p *Publisher) headers(ctx context.Context, source string) map[string]string {
	h := map[string]string{HeaderSource: source}
	if runID, err := runctx.RunIDFromContext(ctx); err == nil {
		h[HeaderRunID] = runID
	}
	return h
}

// LeadMessageID identifies a lead by phone and message timestamp.
func LeadMessageID(l model.Lead) string {
	return l.Phone + "@" + l.Timestamp
}

// NopPublisher discards events. It is used when NATS is disabled.
type NopPublisher struct{}

// PublishRunLog does nothing.
func (NopPublisher) PublishRunLog(context.Context, model.RunLogEntry) error { return nil }

// PublishLeads does nothing.
func (NopPublisher) PublishLeads(context.Context, []model.Lead) error { return nil }
