//go:build integration

package integration_test

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"gitlab.com/timkado/api/wa-group-etl/internal/jetstream"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/runctx"
)

// NewPublisher connects to the NATS container and creates a stream unique
// to the running test.
func (s *BaseIntegrationSuite) NewPublisher() (*jetstream.Publisher, jetstream.PublisherConfig, *jetstream.Client) {
	suffix := time.Now().UnixNano()
	cfg := jetstream.PublisherConfig{
		Stream:        fmt.Sprintf("wa_group_etl_%d", suffix),
		RunLogSubject: fmt.Sprintf("v1.etl.%d.run_log", suffix),
		LeadSubject:   fmt.Sprintf("v1.etl.%d.lead", suffix),
		MaxAge:        time.Hour,
	}
	client, err := jetstream.NewClient(s.NATSURL)
	s.Require().NoError(err)
	s.T().Cleanup(client.Close)

	publisher := jetstream.NewPublisher(client, cfg)
	s.Require().NoError(publisher.EnsureStream(s.Ctx))
	return publisher, cfg, client
}

func (s *IntegrationSuite) streamMessages(client *jetstream.Client, stream string) uint64 {
	js, err := client.NatsConn().JetStream()
	s.Require().NoError(err)
	info, err := js.StreamInfo(stream)
	s.Require().NoError(err)
	return info.State.Msgs
}

func (s *IntegrationSuite) TestPublisher_EnsureStreamIsIdempotent() {
	publisher, cfg, client := s.NewPublisher()
	s.Require().NoError(publisher.EnsureStream(s.Ctx))

	js, err := client.NatsConn().JetStream()
	s.Require().NoError(err)
	info, err := js.StreamInfo(cfg.Stream)
	s.Require().NoError(err)
	s.ElementsMatch([]string{cfg.RunLogSubject, cfg.LeadSubject}, info.Config.Subjects)
	s.Equal(time.Hour, info.Config.MaxAge)
}

func (s *IntegrationSuite) TestPublisher_RepublishedLeadsAreDropped() {
	publisher, cfg, client := s.NewPublisher()
	leads := []model.Lead{
		{Source: "FB", Name: "Noa", Phone: "0527654321", Email: "noa@example.com", Timestamp: "09:00, 02.01.2025"},
		{Source: "IG", Name: "Tal", Phone: "0541112222", Email: "tal@example.com", Timestamp: "09:05, 02.01.2025"},
	}
	ctx := runctx.WithRunID(s.Ctx, "run-1")

	s.Require().NoError(publisher.PublishLeads(ctx, leads))
	s.Require().NoError(publisher.PublishLeads(ctx, leads))
	s.Equal(uint64(2), s.streamMessages(client, cfg.Stream))

	js, err := client.NatsConn().JetStream()
	s.Require().NoError(err)
	sub, err := js.SubscribeSync(cfg.LeadSubject, nats.DeliverAll(), nats.AckExplicit())
	s.Require().NoError(err)
	defer func() { _ = sub.Unsubscribe() }()

	msg, err := sub.NextMsg(5 * time.Second)
	s.Require().NoError(err)
	s.Equal("run-1", msg.Header.Get(jetstream.HeaderRunID))
	s.Equal(model.RunSourceSales, msg.Header.Get(jetstream.HeaderSource))
	s.Equal(jetstream.LeadMessageID(leads[0]), msg.Header.Get(nats.MsgIdHdr))

	var got model.Lead
	s.Require().NoError(json.Unmarshal(msg.Data, &got))
	s.Equal(leads[0], got)
}

func (s *IntegrationSuite) TestPublisher_RunLog() {
	publisher, cfg, client := s.NewPublisher()
	entry := model.RunLogEntry{
		ID:        "3f2a1c9e-run",
		Source:    model.RunSourceStudents,
		LogLevel:  model.LogLevelInfo,
		Timestamp: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC),
		Applied:   4,
		Success:   true,
	}

	s.Require().NoError(publisher.PublishRunLog(s.Ctx, entry))
	s.Require().NoError(publisher.PublishRunLog(s.Ctx, entry))
	s.Equal(uint64(1), s.streamMessages(client, cfg.Stream))
}
