package utils

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/nats-io/nats.go"
)

// managedStream holds the stream settings this service owns. Everything
// else on a live stream (limits set by operators, server defaults) is left
// alone when deciding whether an update is needed.
type managedStream struct {
	Name      string
	Subjects  []string
	Retention nats.RetentionPolicy
	MaxAge    int64
	Storage   nats.StorageType
}

func managed(c nats.StreamConfig) managedStream {
	return managedStream{
		Name:      c.Name,
		Subjects:  c.Subjects,
		Retention: c.Retention,
		MaxAge:    int64(c.MaxAge),
		Storage:   c.Storage,
	}
}

// StreamConfigEqual reports whether two stream configurations agree on the
// managed settings. Subject order does not matter.
func StreamConfigEqual(a, b nats.StreamConfig) bool {
	return cmp.Equal(managed(a), managed(b),
		cmpopts.SortSlices(func(x, y string) bool { return x < y }),
		cmpopts.EquateEmpty(),
	)
}

// StreamConfigDiff describes how b differs from a on the managed settings,
// or returns "" when they agree.
func StreamConfigDiff(a, b nats.StreamConfig) string {
	return cmp.Diff(managed(a), managed(b),
		cmpopts.SortSlices(func(x, y string) bool { return x < y }),
		cmpopts.EquateEmpty(),
	)
}
