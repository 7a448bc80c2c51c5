package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
)

func TestParseMeta(t *testing.T) {
	tests := []struct {
		name string
		meta string
		want model.RawMessage
	}{
		{
			name: "phone sender with slash date",
			meta: "[20:15, 25/08/2025] +972 50-123-4567: ",
			want: model.RawMessage{Sender: "+972 50-123-4567", Timestamp: "20:15, 25.08.2025"},
		},
		{
			name: "saved contact name",
			meta: "[09:05, 1.9.2025] Dana Levi: ",
			want: model.RawMessage{Sender: "Dana Levi", Timestamp: "09:05, 01.09.2025"},
		},
		{
			name: "already display format",
			meta: "[18:30, 02.09.2025] Avi: ",
			want: model.RawMessage{Sender: "Avi", Timestamp: "18:30, 02.09.2025"},
		},
		{
			name: "unparseable timestamp kept raw",
			meta: "[yesterday] Avi: ",
			want: model.RawMessage{Sender: "Avi", Timestamp: "yesterday"},
		},
		{
			name: "no sender",
			meta: "[18:30, 02.09.2025]",
			want: model.RawMessage{Timestamp: "18:30, 02.09.2025"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseMeta(tt.meta))
		})
	}
}

func TestNewWhatsAppSource_Defaults(t *testing.T) {
	s := NewWhatsAppSource(BrowserConfig{URL: "https://web.whatsapp.com"})
	assert.Equal(t, 5, s.cfg.LoadAttempts)
	assert.Positive(t, s.cfg.NavigationTimeout)
	assert.Positive(t, s.cfg.LoadWait)
	assert.NoError(t, s.Close())
}

func TestWhatsAppSource_PingBeforeStart(t *testing.T) {
	s := NewWhatsAppSource(BrowserConfig{})
	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

const batchYAML = `
roster:
  - phone: "+972 50-111-2222"
    name: Dana
    current_lesson: "3"
    teacher: Rina
groups:
  students:
    - sender: "+972 50-111-2222"
      timestamp: "10:00, 01.09.2025"
      text: "practice done"
    - sender: Dana
      timestamp: "11:00, 01.09.2025"
      text: "question"
    - sender: Dana
      timestamp: "12:00, 01.09.2025"
      text: "practice again"
`

func TestParseBatch(t *testing.T) {
	b, err := ParseBatch([]byte(batchYAML))
	require.NoError(t, err)
	require.Len(t, b.Roster, 1)
	assert.Equal(t, "972501112222", b.Roster[0].Phone)
	assert.Equal(t, "3", b.Roster[0].CurrentLesson)
	assert.Len(t, b.Groups["students"], 3)
}

func TestParseBatch_RejectsUnknownFields(t *testing.T) {
	_, err := ParseBatch([]byte("rosters: []\n"))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestParseBatch_InvalidRosterPhone(t *testing.T) {
	_, err := ParseBatch([]byte("roster:\n  - phone: none\n    name: X\n"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidIdentity)
}

func TestLoadBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(batchYAML), 0o600))

	b, err := LoadBatch(path)
	require.NoError(t, err)
	assert.Len(t, b.Roster, 1)

	_, err = LoadBatch(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

func TestFileSource(t *testing.T) {
	b, err := ParseBatch([]byte(batchYAML))
	require.NoError(t, err)
	src := NewFileSource(b)
	ctx := context.Background()

	msgs, err := src.ReadMessages(ctx, "students", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "11:00, 01.09.2025", msgs[0].Timestamp)

	all, err := src.ReadMessages(ctx, "students", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := src.ReadMessages(ctx, "sales", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	roster, err := src.LoadRoster(ctx)
	require.NoError(t, err)
	assert.Len(t, roster, 1)

	n, err := src.ApplyLastPractice(ctx, []model.SheetUpdate{{Phone: "972501112222", Column: model.LastPracticeColumn, Value: "12:00, 01.09.2025"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, src.SheetUpdates(), 1)

	n, err = src.AppendLeads(ctx, []model.Lead{{Source: "fb"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, src.Leads(), 1)
}
