package storage

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
)

// Supported drivers.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Options selects and configures a Store.
type Options struct {
	Driver      string
	MongoURI    string
	PostgresDSN string
	AutoMigrate bool
	Layout      Layout
}

// Open connects the configured driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	logger.Log.Info("Opening document store", zap.String("driver", opts.Driver))
	switch opts.Driver {
	case DriverMongo:
		return NewMongoRepo(ctx, opts.MongoURI, opts.Layout)
	case DriverPostgres:
		return NewPostgresRepo(opts.PostgresDSN, opts.AutoMigrate, opts.Layout)
	case DriverMemory:
		return NewMemoryStore(opts.Layout), nil
	default:
		return nil, apperrors.NewFatal(apperrors.ErrValidation, "unknown database driver %q", opts.Driver)
	}
}
