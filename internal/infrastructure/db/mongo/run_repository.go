package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
)

const (
	collectionRuns = "sync_runs"
	maxRecentRuns  = 100
)

// runDocument is the stored shape of a run summary. Only counts and
// failures are kept, never the subscriber lists.
type runDocument struct {
	ID         string               `bson:"_id"`
	Kind       string               `bson:"kind"`
	Trigger    string               `bson:"trigger"`
	StartedAt  time.Time            `bson:"started_at"`
	FinishedAt time.Time            `bson:"finished_at"`
	Succeeded  bool                 `bson:"succeeded"`
	FetchError string               `bson:"fetch_error,omitempty"`
	Steps      int                  `bson:"steps"`
	Failures   []runFailureDocument `bson:"failures"`
}

type runFailureDocument struct {
	DiscordID string `bson:"discord_id"`
	Step      string `bson:"step"`
	Status    string `bson:"status"`
	Class     string `bson:"error_class"`
	Error     string `bson:"error"`
}

// RunRepository implements ports.RunRepository using MongoDB.
type RunRepository struct {
	col *mongo.Collection
}

func NewRunRepository(db *mongo.Database) *RunRepository {
	return &RunRepository{col: db.Collection(collectionRuns)}
}

var _ ports.RunRepository = (*RunRepository)(nil)

// Save inserts one run summary.
func (r *RunRepository) Save(ctx context.Context, s domain.RunSummary) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := r.col.InsertOne(ctx, toRunDocument(s)); err != nil {
		return fmt.Errorf("save run %s: %w", s.ID, err)
	}
	return nil
}

// Recent returns up to limit summaries, newest first.
func (r *RunRepository) Recent(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 || limit > maxRecentRuns {
		limit = maxRecentRuns
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer cur.Close(ctx)

	var docs []runDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}

	out := make([]domain.RunSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromRunDocument(d))
	}
	return out, nil
}

// EnsureIndexes creates necessary indexes on the sync_runs collection.
func (r *RunRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "started_at", Value: -1}}},
	}
	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return err
}

func toRunDocument(s domain.RunSummary) runDocument {
	d := runDocument{
		ID:         s.ID,
		Kind:       string(s.Kind),
		Trigger:    s.Trigger,
		StartedAt:  s.StartedAt.UTC(),
		FinishedAt: s.FinishedAt.UTC(),
		Succeeded:  s.Succeeded,
		FetchError: s.FetchError,
		Steps:      s.Steps,
		Failures:   make([]runFailureDocument, 0, len(s.Failures)),
	}
	for _, f := range s.Failures {
		d.Failures = append(d.Failures, runFailureDocument{
			DiscordID: f.DiscordID,
			Step:      string(f.Step),
			Status:    f.Status,
			Class:     string(f.Class),
			Error:     f.Error,
		})
	}
	return d
}

func fromRunDocument(d runDocument) domain.RunSummary {
	s := domain.RunSummary{
		ID:         d.ID,
		Kind:       domain.RunKind(d.Kind),
		Trigger:    d.Trigger,
		StartedAt:  d.StartedAt,
		FinishedAt: d.FinishedAt,
		Succeeded:  d.Succeeded,
		FetchError: d.FetchError,
		Steps:      d.Steps,
	}
	for _, f := range d.Failures {
		s.Failures = append(s.Failures, domain.UserResult{
			DiscordID: f.DiscordID,
			Step:      domain.Step(f.Step),
			Status:    f.Status,
			Class:     domain.ErrorClass(f.Class),
			Error:     f.Error,
		})
	}
	return s
}
