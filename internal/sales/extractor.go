// Package sales extracts labeled lead records from sales-group chat messages
// and filters them against the stored watermark.
package sales

import (
	"fmt"
	"strings"
	"unicode"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/identity"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
)

// Labels are the literal field prefixes of a lead message, in presentation order.
type Labels struct {
	Source string `mapstructure:"source" validate:"required"`
	Name   string `mapstructure:"name" validate:"required"`
	Phone  string `mapstructure:"phone" validate:"required"`
	Email  string `mapstructure:"email" validate:"required"`
}

// DefaultLabels are the Hebrew labels used by the lead form bot.
var DefaultLabels = Labels{
	Source: "מקור",
	Name:   "שם",
	Phone:  "טלפון",
	Email:  "מייל",
}

func (l Labels) ordered() []string {
	return []string{l.Source, l.Name, l.Phone, l.Email}
}

// Extract parses one message text. Each label must start its own line and be
// followed by a colon; the four labels must appear in order. Missing or empty
// fields yield ErrExtractionMismatch, an unusable phone ErrInvalidIdentity.
func Extract(text string, labels Labels) (model.Lead, error) {
	lines := strings.Split(text, "\n")
	values := make([]string, 0, 4)
	next := 0
	for _, label := range labels.ordered() {
		prefix := label + ":"
		found := false
		for ; next < len(lines); next++ {
			line := cleanLine(lines[next])
			if strings.HasPrefix(line, prefix) {
				values = append(values, strings.TrimSpace(strings.TrimPrefix(line, prefix)))
				next++
				found = true
				break
			}
		}
		if !found {
			return model.Lead{}, fmt.Errorf("%w: label %q not found", apperrors.ErrExtractionMismatch, label)
		}
		if values[len(values)-1] == "" {
			return model.Lead{}, fmt.Errorf("%w: label %q is empty", apperrors.ErrExtractionMismatch, label)
		}
	}

	phone, err := identity.NormalizePhone(values[2])
	if err != nil {
		return model.Lead{}, err
	}
	return model.Lead{
		Source: values[0],
		Name:   values[1],
		Phone:  phone,
		Email:  values[3],
	}, nil
}

// cleanLine drops directionality marks the chat client inserts around mixed
// script text, then trims.
func cleanLine(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
