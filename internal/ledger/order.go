package ledger

import (
	"strconv"
	"strings"
)

// LessonOrder compares two lesson labels. It returns the sign of a-b and
// whether the labels are comparable at all. Incomparable hints never advance
// the current lesson.
type LessonOrder func(a, b string) (int, bool)

// NumericOrder orders labels that parse as numbers ("7", "7.5", " 8 ").
func NumericOrder(a, b string) (int, bool) {
	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA != nil || errB != nil {
		return 0, false
	}
	switch {
	case fa < fb:
		return -1, true
	case fa > fb:
		return 1, true
	default:
		return 0, true
	}
}

// SequenceOrder orders labels by their position in an explicit curriculum.
// Labels missing from the sequence are incomparable.
func SequenceOrder(sequence []string) LessonOrder {
	pos := make(map[string]int, len(sequence))
	for i, l := range sequence {
		pos[strings.TrimSpace(l)] = i
	}
	return func(a, b string) (int, bool) {
		pa, okA := pos[strings.TrimSpace(a)]
		pb, okB := pos[strings.TrimSpace(b)]
		if !okA || !okB {
			return 0, false
		}
		switch {
		case pa < pb:
			return -1, true
		case pa > pb:
			return 1, true
		default:
			return 0, true
		}
	}
}
