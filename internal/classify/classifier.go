// Package classify turns student chat text into reconciliation events using
// fixed keyword lists and an optional lesson-hint pattern.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
)

// Classifier matches keywords case-insensitively as substrings.
type Classifier struct {
	practice []string
	message  []string
	hint     *regexp.Regexp
}

// New builds a Classifier. An empty hintPattern disables hint extraction;
// otherwise the pattern must have at least one capture group.
func New(practice, message []string, hintPattern string) (*Classifier, error) {
	c := &Classifier{
		practice: lowerAll(practice),
		message:  lowerAll(message),
	}
	if hintPattern == "" {
		return c, nil
	}
	re, err := regexp.Compile(hintPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: lesson hint pattern: %v", apperrors.ErrValidation, err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("%w: lesson hint pattern %q has no capture group", apperrors.ErrValidation, hintPattern)
	}
	c.hint = re
	return c, nil
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Classify reports the event kind of text. Practice keywords are checked
// first; text matching neither list yields false.
func (c *Classifier) Classify(text string) (model.EventKind, bool) {
	lower := strings.ToLower(text)
	if containsAny(lower, c.practice) {
		return model.EventPractice, true
	}
	if containsAny(lower, c.message) {
		return model.EventMessage, true
	}
	return "", false
}

// LessonHint returns the first capture group of the hint pattern, or "".
func (c *Classifier) LessonHint(text string) string {
	if c.hint == nil {
		return ""
	}
	m := c.hint.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// Event classifies msg and builds the event. fallbackLesson is used when the
// text carries no hint.
func (c *Classifier) Event(msg model.RawMessage, fallbackLesson string) (model.Event, bool) {
	kind, ok := c.Classify(msg.Text)
	if !ok {
		return model.Event{}, false
	}
	hint := c.LessonHint(msg.Text)
	if hint == "" {
		hint = fallbackLesson
	}
	return model.Event{Kind: kind, Timestamp: msg.Timestamp, LessonHint: hint}, true
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
