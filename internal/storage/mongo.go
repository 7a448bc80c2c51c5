package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/observer"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
	"gitlab.com/timkado/api/wa-group-etl/pkg/utils"
)

const storeLabelMongo = "mongo"

// MongoRepo implements Store on MongoDB with one database per domain.
type MongoRepo struct {
	client      *mongo.Client
	layout      Layout
	collections map[Namespace]*mongo.Collection
}

// NewMongoRepo connects with retries and ensures the indexes exist.
func NewMongoRepo(ctx context.Context, uri string, layout Layout) (*MongoRepo, error) {
	operationConnect := func() (*mongo.Client, error) {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(5*time.Second))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("invalid mongo client options: %w", err))
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return client, nil
	}

	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying mongo connection", zap.Error(err), zap.Duration("after", d))
	}

	client, err := backoff.RetryNotifyWithData(operationConnect, backoff.WithContext(newConnectPolicy(), ctx), notify)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to mongo after retries: %w", apperrors.ErrStoreUnavailable, err)
	}

	repo := newMongoRepo(client, layout)
	if err := repo.EnsureIndexes(ctx); err != nil {
		// Log index creation errors but don't fail startup
		logger.Log.Warn("Failed to create mongo indexes", zap.Error(err))
	}
	return repo, nil
}

func newMongoRepo(client *mongo.Client, layout Layout) *MongoRepo {
	layout = layout.withDefaults()
	repo := &MongoRepo{
		client:      client,
		layout:      layout,
		collections: make(map[Namespace]*mongo.Collection, 3),
	}
	for _, ns := range []Namespace{layout.Students, layout.Watermarks, layout.RunLogs} {
		repo.collections[ns] = client.Database(ns.DB).Collection(ns.Collection)
	}
	return repo
}

// indexPlan lists the indexes of every namespace in the layout.
func indexPlan(layout Layout) map[Namespace][]mongo.IndexModel {
	asc := func(name string, unique bool, keys ...string) mongo.IndexModel {
		d := bson.D{}
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: 1})
		}
		opts := options.Index().SetName(name)
		if unique {
			opts.SetUnique(true)
		}
		return mongo.IndexModel{Keys: d, Options: opts}
	}
	return map[Namespace][]mongo.IndexModel{
		layout.Students: {
			asc("uniq_id_idx", true, "uniq_id"),
			asc("phone_number_idx", false, "phone_number"),
			asc("current_lesson_idx", false, "current_lesson"),
			asc("updated_at_idx", false, "updated_at"),
			asc("lessons_paid_idx", false, "lessons.paid"),
		},
		layout.Watermarks: {
			asc("identifier_idx", true, "identifier"),
			asc("last_run_timestamp_idx", false, "last_run_timestamp"),
		},
		layout.RunLogs: {
			asc("timestamp_idx", false, "timestamp"),
			asc("source_timestamp_idx", false, "source", "timestamp"),
			asc("level_timestamp_idx", false, "log_level", "timestamp"),
		},
	}
}

// EnsureIndexes creates the unique keys and query indexes.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	var errs []error
	for ns, models := range indexPlan(r.layout) {
		coll, ok := r.collections[ns]
		if !ok {
			continue
		}
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			errs = append(errs, fmt.Errorf("indexes on %s: %w", ns, err))
		}
	}
	return errors.Join(errs...)
}

// FindStudent loads one ledger document by uniq_id.
func (r *MongoRepo) FindStudent(ctx context.Context, uniqID string) (*model.StudentDocument, error) {
	var doc model.StudentDocument
	if err := r.findOne(ctx, "find_student", r.layout.Students, "uniq_id", uniqID, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindWatermark loads the watermark document by identifier.
func (r *MongoRepo) FindWatermark(ctx context.Context, identifier string) (*model.SalesWatermark, error) {
	var wm model.SalesWatermark
	if err := r.findOne(ctx, "find_watermark", r.layout.Watermarks, "identifier", identifier, &wm); err != nil {
		return nil, err
	}
	return &wm, nil
}

func (r *MongoRepo) findOne(ctx context.Context, opName string, ns Namespace, field, value string, out interface{}) error {
	coll, err := r.collection(ns)
	if err != nil {
		return err
	}
	collection := ns.Collection
	operation := func() error {
		err := coll.FindOne(ctx, bson.M{field: value}).Decode(out)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, opName, isMongoTransient, operation)
	observer.ObserveDbOperationDuration(opName, collection, storeLabelMongo, time.Since(startTime), findErr)

	if findErr != nil && !errors.Is(findErr, apperrors.ErrNotFound) {
		logger.FromContext(ctx).Error("Failed to find document after retries",
			zap.String("collection", collection),
			zap.String("key", value),
			zap.Error(findErr))
	}
	return findErr
}

// ApplyUpserts executes ops in order with upsert semantics.
func (r *MongoRepo) ApplyUpserts(ctx context.Context, ops []model.UpsertOp) (int, error) {
	for i, op := range ops {
		coll, err := r.upsertTarget(op.Collection)
		if err != nil {
			return i, err
		}
		filter, update, err := toMongoUpdate(op)
		if err != nil {
			return i, err
		}

		operation := func() error {
			if _, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
				}
				return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
			}
			return nil
		}

		commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
		startTime := utils.Now()
		commitErr := retryableOperation(ctx, commitPolicy, "ApplyUpsert", isMongoTransient, operation)
		observer.ObserveDbOperationDuration("upsert", op.Collection, storeLabelMongo, time.Since(startTime), commitErr)
		if commitErr != nil {
			logger.FromContext(ctx).Error("Failed to apply upsert after retries",
				zap.String("collection", op.Collection),
				zap.String("key", op.Filter.Value),
				zap.Error(commitErr))
			return i, commitErr
		}
		observer.IncUpsert(op.Collection)
	}
	return len(ops), nil
}

// toMongoUpdate renders an UpsertOp as a filter and a $set / $setOnInsert update.
func toMongoUpdate(op model.UpsertOp) (bson.M, bson.M, error) {
	if op.Filter.Field == "" || op.Filter.Value == "" {
		return nil, nil, fmt.Errorf("%w: upsert on %s has an empty filter", apperrors.ErrValidation, op.Collection)
	}
	update := bson.M{}
	if len(op.Set) > 0 {
		update["$set"] = bson.M(op.Set)
	}
	if len(op.SetOnInsert) > 0 {
		update["$setOnInsert"] = bson.M(op.SetOnInsert)
	}
	if len(update) == 0 {
		return nil, nil, fmt.Errorf("%w: upsert on %s has no fields", apperrors.ErrValidation, op.Collection)
	}
	return bson.M{op.Filter.Field: op.Filter.Value}, update, nil
}

// SaveRunLog appends one run log document.
func (r *MongoRepo) SaveRunLog(ctx context.Context, entry model.RunLogEntry) error {
	coll, err := r.collection(r.layout.RunLogs)
	if err != nil {
		return err
	}
	operation := func() error {
		if _, err := coll.InsertOne(ctx, entry); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
			}
			return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveRunLog", isMongoTransient, operation)
	observer.ObserveDbOperationDuration("save", "run_log", storeLabelMongo, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save run log after retries",
			zap.String("source", entry.Source),
			zap.Error(commitErr))
	}
	return commitErr
}

// Ping checks the primary is reachable.
func (r *MongoRepo) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

// Close disconnects the client.
func (r *MongoRepo) Close(ctx context.Context) error {
	if err := r.client.Disconnect(ctx); err != nil {
		logger.FromContext(ctx).Error("Failed to disconnect mongo client", zap.Error(err))
		return fmt.Errorf("failed to disconnect mongo: %w", err)
	}
	logger.FromContext(ctx).Info("Mongo connection closed successfully")
	return nil
}

func (r *MongoRepo) collection(ns Namespace) (*mongo.Collection, error) {
	coll, ok := r.collections[ns]
	if !ok {
		return nil, fmt.Errorf("%w: unknown collection %s", apperrors.ErrValidation, ns)
	}
	return coll, nil
}

// upsertTarget resolves a planned collection name against the student and
// watermark namespaces, the only ones upserts write to. A name both share
// across different databases is rejected.
func (r *MongoRepo) upsertTarget(name string) (*mongo.Collection, error) {
	var target *Namespace
	for _, ns := range []Namespace{r.layout.Students, r.layout.Watermarks} {
		if ns.Collection != name {
			continue
		}
		if target != nil && *target != ns {
			return nil, fmt.Errorf("%w: collection %q is ambiguous between %s and %s", apperrors.ErrValidation, name, *target, ns)
		}
		ns := ns
		target = &ns
	}
	if target == nil {
		return nil, fmt.Errorf("%w: unknown collection %q", apperrors.ErrValidation, name)
	}
	return r.collection(*target)
}

func isMongoTransient(err error) bool {
	if err == nil || errors.Is(err, apperrors.ErrNotFound) {
		return false
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded)
}

var _ Store = (*MongoRepo)(nil)
