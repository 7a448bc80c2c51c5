// Package timestamp converts between the chat display format, the watermark
// format and time.Time. All instants are UTC; comparisons never use raw strings.
package timestamp

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
)

const (
	// DisplayLayout is "HH:MM, DD.MM.YYYY".
	DisplayLayout = "15:04, 02.01.2006"
	// WatermarkLayout is ISO-8601 with milliseconds and a Z suffix.
	WatermarkLayout = "2006-01-02T15:04:05.000Z"
)

var (
	displayPattern   = regexp.MustCompile(`^\d{2}:\d{2}, \d{2}\.\d{2}\.\d{4}$`)
	watermarkPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d{1,9})?(Z|[+-]\d{2}:\d{2})$`)
)

// Order is the result of comparing two instants.
type Order int

const (
	Before Order = -1
	Equal  Order = 0
	After  Order = 1
)

func (o Order) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "equal"
	}
}

// ParseDisplay parses a strict display-format string.
func ParseDisplay(s string) (time.Time, error) {
	if !displayPattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: %q is not HH:MM, DD.MM.YYYY", apperrors.ErrMalformedTimestamp, s)
	}
	t, err := time.ParseInLocation(DisplayLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", apperrors.ErrMalformedTimestamp, s, err)
	}
	return t, nil
}

// FormatDisplay renders t in the display format.
func FormatDisplay(t time.Time) string {
	return t.UTC().Format(DisplayLayout)
}

// ParseWatermark parses an ISO-8601 instant. Offsets other than Z are
// accepted and converted to UTC.
func ParseWatermark(s string) (time.Time, error) {
	if !watermarkPattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: %q is not an ISO-8601 instant", apperrors.ErrMalformedTimestamp, s)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", apperrors.ErrMalformedTimestamp, s, err)
	}
	return t.UTC(), nil
}

// FormatWatermark renders t with millisecond precision and a Z suffix.
func FormatWatermark(t time.Time) string {
	return t.UTC().Format(WatermarkLayout)
}

// Compare orders two instants.
func Compare(a, b time.Time) Order {
	switch {
	case a.Before(b):
		return Before
	case a.After(b):
		return After
	default:
		return Equal
	}
}

// CompareDisplay decodes both display strings and compares the instants.
func CompareDisplay(a, b string) (Order, error) {
	ta, err := ParseDisplay(a)
	if err != nil {
		return Equal, err
	}
	tb, err := ParseDisplay(b)
	if err != nil {
		return Equal, err
	}
	return Compare(ta, tb), nil
}

// scrapedLayouts are the shapes the chat client and the roster sheet emit.
// The chat client runs in a day-first locale, so day-first layouts are tried
// before month-first ones: "3/4/2025" is 3 April. A month-first layout only
// matches when the day-first reading is impossible, as in "4/25/2025".
var scrapedLayouts = []string{
	DisplayLayout,
	"15:04, 2.1.2006",
	"15:04, 02/01/2006",
	"15:04, 2/1/2006",
	"3:04 PM, 2/1/2006",
	"15:04, 1/2/2006",
	"3:04 PM, 1/2/2006",
}

// ParseScraped parses the looser timestamp variants seen in chat metadata
// and spreadsheet cells. The result can be re-rendered with FormatDisplay.
func ParseScraped(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range scrapedLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised chat timestamp %q", apperrors.ErrMalformedTimestamp, s)
}
