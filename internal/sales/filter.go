package sales

import (
	"errors"
	"time"

	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/timestamp"
	"gitlab.com/timkado/api/wa-group-etl/internal/validator"
)

// Skip records why one message produced no lead.
type Skip struct {
	Index int
	Err   error
}

// FilterResult is the outcome of one watermark pass.
type FilterResult struct {
	// Leads are admitted leads in batch order.
	Leads []model.Lead
	// NewWatermark is never before the watermark passed in.
	NewWatermark time.Time
	// Seen counts messages at or before the old watermark.
	Seen  int
	Skips []Skip
}

// Advanced reports whether the watermark moved forward.
func (r FilterResult) Advanced(old time.Time) bool {
	return r.NewWatermark.After(old)
}

// Filter admits leads strictly newer than watermark. A zero watermark admits
// everything. The new watermark covers every message with a readable
// timestamp, including ones that fail extraction.
func Filter(messages []model.RawMessage, watermark time.Time, labels Labels) FilterResult {
	res := FilterResult{NewWatermark: watermark}
	for i, msg := range messages {
		ts, err := MessageTime(msg.Timestamp)
		if err != nil {
			res.Skips = append(res.Skips, Skip{Index: i, Err: err})
			continue
		}
		if ts.After(res.NewWatermark) {
			res.NewWatermark = ts
		}
		if !ts.After(watermark) {
			res.Seen++
			continue
		}
		lead, err := Extract(msg.Text, labels)
		if err != nil {
			res.Skips = append(res.Skips, Skip{Index: i, Err: err})
			continue
		}
		lead.Timestamp = msg.Timestamp
		if err := validator.Validate(lead); err != nil {
			res.Skips = append(res.Skips, Skip{Index: i, Err: err})
			continue
		}
		res.Leads = append(res.Leads, lead)
	}
	return res
}

// MessageTime reads a sales message timestamp. Display-format values are the
// norm; ISO-8601 instants from recorded batches are accepted too.
func MessageTime(s string) (time.Time, error) {
	t, err := timestamp.ParseScraped(s)
	if err == nil {
		return t, nil
	}
	if wt, werr := timestamp.ParseWatermark(s); werr == nil {
		return wt, nil
	}
	return time.Time{}, err
}

// SkipsMatching counts skips whose error wraps target.
func (r FilterResult) SkipsMatching(target error) int {
	n := 0
	for _, s := range r.Skips {
		if errors.Is(s.Err, target) {
			n++
		}
	}
	return n
}
