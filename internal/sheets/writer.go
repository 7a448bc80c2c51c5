package sheets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	gsheets "google.golang.org/api/sheets/v4"

	"gitlab.com/timkado/api/wa-group-etl/internal/identity"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/observer"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
)

// Sheet write kinds used in metrics.
const (
	WriteKindLastPractice = "last_practice"
	WriteKindLead         = "lead"
)

// leadFirstColumn leaves column A to the operators' checkboxes.
const (
	leadFirstColumn = "B"
	leadLastColumn  = "F"
)

// ApplyLastPractice writes the queued column updates in one batch request.
// Only cells whose current value differs are sent. It returns the number
// of cells written.
func (c *Client) ApplyLastPractice(ctx context.Context, updates []model.SheetUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	rows, err := c.readStudents(ctx)
	if err != nil {
		return 0, err
	}

	plan := planCellUpdates(rows, updates)
	log := logger.FromContext(ctx)
	for _, u := range plan.missing {
		log.Warn("Participant not found in roster sheet",
			zap.String("phone", u.Phone),
			zap.String("column", u.Column),
		)
	}
	if len(plan.data) == 0 {
		log.Debug("Roster sheet already up to date", zap.Int("unchanged", plan.unchanged))
		return 0, nil
	}

	data := make([]*gsheets.ValueRange, 0, len(plan.data))
	for _, cell := range plan.data {
		data = append(data, &gsheets.ValueRange{
			Range:  c.cfg.Students.a1(cell.ref),
			Values: [][]interface{}{{cell.value}},
		})
	}
	err = c.do(ctx, "batch_update_roster", func() error {
		_, err := c.values.BatchUpdate(ctx, c.cfg.Students.SpreadsheetID, data)
		return err
	})
	observer.AddSheetWrites(WriteKindLastPractice, len(data), err)
	if err != nil {
		return 0, err
	}
	log.Info("Roster sheet updated",
		zap.Int("cells", len(data)),
		zap.Int("unchanged", plan.unchanged),
		zap.Int("missing", len(plan.missing)),
	)
	return len(data), nil
}

type cellUpdate struct {
	ref   string
	value string
}

type cellPlan struct {
	data      []cellUpdate
	missing   []model.SheetUpdate
	unchanged int
}

// planCellUpdates matches updates to sheet rows by normalized phone and
// keeps only the cells whose value would change.
func planCellUpdates(rows [][]interface{}, updates []model.SheetUpdate) cellPlan {
	var plan cellPlan
	if len(rows) == 0 {
		plan.missing = append(plan.missing, updates...)
		return plan
	}
	l := locateColumns(rows[0])
	start := 0
	if l.header {
		start = 1
	}
	rowByPhone := make(map[string]int, len(rows))
	for i := start; i < len(rows); i++ {
		phone, err := identity.NormalizePhone(cellAt(rows[i], l.phone))
		if err != nil {
			continue
		}
		if _, dup := rowByPhone[phone]; !dup {
			rowByPhone[phone] = i
		}
	}

	for _, u := range updates {
		col, ok := l.column(u.Column)
		idx, found := rowByPhone[u.Phone]
		if !ok || !found {
			plan.missing = append(plan.missing, u)
			continue
		}
		if cellAt(rows[idx], col) == u.Value {
			plan.unchanged++
			continue
		}
		plan.data = append(plan.data, cellUpdate{
			ref:   fmt.Sprintf("%s%d", columnLetter(col), idx+1),
			value: u.Value,
		})
	}
	return plan
}

// column maps a roster header name to its index.
func (l layout) column(name string) (int, bool) {
	switch strings.ToLower(name) {
	case HeaderPhone:
		return l.phone, true
	case HeaderName:
		return l.name, true
	case HeaderLesson:
		return l.lesson, true
	case HeaderLastPractice:
		return l.lastPractice, true
	case HeaderTeacher:
		return l.teacher, true
	}
	return 0, false
}

// columnLetter converts a 0-based index to A1 column letters.
func columnLetter(idx int) string {
	var b []byte
	for n := idx + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// AppendLeads writes leads below the last filled row of column B.
func (c *Client) AppendLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	var colB [][]interface{}
	err := c.do(ctx, "read_sales_column", func() error {
		var err error
		colB, err = c.values.Get(ctx, c.cfg.Sales.SpreadsheetID, c.cfg.Sales.a1(leadFirstColumn+":"+leadFirstColumn))
		return err
	})
	if err != nil {
		observer.AddSheetWrites(WriteKindLead, 0, err)
		return 0, err
	}

	rng, rows := leadRows(len(colB)+1, leads)
	err = c.do(ctx, "append_leads", func() error {
		_, err := c.values.Update(ctx, c.cfg.Sales.SpreadsheetID, c.cfg.Sales.a1(rng), rows)
		return err
	})
	observer.AddSheetWrites(WriteKindLead, len(rows), err)
	if err != nil {
		return 0, err
	}
	logger.FromContext(ctx).Info("Leads appended to sales sheet",
		zap.Int("leads", len(rows)),
		zap.String("range", rng),
	)
	return len(rows), nil
}

// leadRows renders leads starting at row next.
func leadRows(next int, leads []model.Lead) (string, [][]interface{}) {
	rows := make([][]interface{}, 0, len(leads))
	for _, l := range leads {
		rows = append(rows, l.Row())
	}
	rng := fmt.Sprintf("%s%d:%s%d", leadFirstColumn, next, leadLastColumn, next+len(leads)-1)
	return rng, rows
}
