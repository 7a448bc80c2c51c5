package sheets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/identity"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/validator"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
)

// rosterRange covers every column the roster can use.
const rosterRange = "A:Z"

// Roster header names.
const (
	HeaderPhone        = "phone_number"
	HeaderName         = "name"
	HeaderLesson       = "lesson"
	HeaderLastPractice = model.LastPracticeColumn
	HeaderTeacher      = "teacher"
)

// layout holds 0-based column indexes of the roster fields.
type layout struct {
	phone, name, lesson, lastPractice, teacher int
	// header is true when row 1 named the columns.
	header bool
}

// fallbackLayout is A=phone, B=name, C=lesson, D=last_practice, E=teacher.
var fallbackLayout = layout{phone: 0, name: 1, lesson: 2, lastPractice: 3, teacher: 4}

// locateColumns reads the header row. Missing headers keep their fallback
// column. A first row without a phone_number header is treated as data.
func locateColumns(first []interface{}) layout {
	l := fallbackLayout
	found := map[string]int{}
	for i, cell := range first {
		found[strings.ToLower(strings.TrimSpace(cellString(cell)))] = i
	}
	idx, ok := found[HeaderPhone]
	if !ok {
		return l
	}
	l.header = true
	l.phone = idx
	if i, ok := found[HeaderName]; ok {
		l.name = i
	}
	if i, ok := found[HeaderLesson]; ok {
		l.lesson = i
	}
	if i, ok := found[HeaderLastPractice]; ok {
		l.lastPractice = i
	}
	if i, ok := found[HeaderTeacher]; ok {
		l.teacher = i
	}
	return l
}

// LoadRoster reads every participant row of the students sheet.
// Rows with an unusable phone or no name are skipped and logged.
func (c *Client) LoadRoster(ctx context.Context) ([]model.RosterEntry, error) {
	rows, err := c.readStudents(ctx)
	if err != nil {
		return nil, err
	}
	entries, skipped := parseRoster(rows)
	log := logger.FromContext(ctx)
	for _, s := range skipped {
		log.Warn("Skipping roster row", zap.Int("row", s.row), zap.Error(s.err))
	}
	log.Info("Roster loaded", zap.Int("entries", len(entries)), zap.Int("skipped", len(skipped)))
	return entries, nil
}

func (c *Client) readStudents(ctx context.Context) ([][]interface{}, error) {
	var rows [][]interface{}
	err := c.do(ctx, "read_roster", func() error {
		var err error
		rows, err = c.values.Get(ctx, c.cfg.Students.SpreadsheetID, c.cfg.Students.a1(rosterRange))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSourceUnavailable, err)
	}
	return rows, nil
}

type rowError struct {
	row int
	err error
}

// parseRoster converts sheet rows into validated roster entries.
func parseRoster(rows [][]interface{}) ([]model.RosterEntry, []rowError) {
	if len(rows) == 0 {
		return nil, nil
	}
	l := locateColumns(rows[0])
	start := 0
	if l.header {
		start = 1
	}

	var (
		entries []model.RosterEntry
		skipped []rowError
	)
	for i := start; i < len(rows); i++ {
		row := rows[i]
		rowNum := i + 1
		rawPhone := cellAt(row, l.phone)
		if rawPhone == "" && cellAt(row, l.name) == "" {
			continue
		}
		phone, err := identity.NormalizePhone(rawPhone)
		if err != nil {
			skipped = append(skipped, rowError{row: rowNum, err: err})
			continue
		}
		entry := model.RosterEntry{
			Phone:         phone,
			Name:          cellAt(row, l.name),
			CurrentLesson: cellAt(row, l.lesson),
			Teacher:       cellAt(row, l.teacher),
			Row:           rowNum,
		}
		if err := validator.Validate(entry); err != nil {
			skipped = append(skipped, rowError{row: rowNum, err: err})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped
}

func cellAt(row []interface{}, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(cellString(row[i]))
}

func cellString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
