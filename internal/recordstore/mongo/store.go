// Package mongo persists approved posts as documents in a MongoDB collection.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/postbot/internal/config"
	"github.com/Rrens/postbot/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ domain.RecordStore = (*Store)(nil)

// Store implements domain.RecordStore
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

type postDocument struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	domain.PostPayload `bson:",inline"`
	CreatedAt          time.Time `bson:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at"`
}

// Connect opens the client, verifies it and ensures the upsert index
func Connect(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "series_id", Value: 1}, {Key: "post_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &Store{client: client, coll: coll, now: time.Now}, nil
}

// Close disconnects the client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Persist upserts the post keyed on series and post id and returns the document id
func (s *Store) Persist(ctx context.Context, payload domain.PostPayload) (string, error) {
	now := s.now()
	filter := bson.D{{Key: "series_id", Value: payload.SeriesID}, {Key: "post_id", Value: payload.PostID}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "user_id", Value: payload.UserID},
			{Key: "filename", Value: payload.Filename},
			{Key: "content", Value: payload.Content},
			{Key: "tone_used", Value: payload.ToneUsed},
			{Key: "relationship_type", Value: payload.RelationshipType},
			{Key: "parent_post_id", Value: payload.ParentPostID},
			{Key: "status", Value: payload.Status},
			{Key: "updated_at", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: now}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc postDocument
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return "", fmt.Errorf("%w: mongo persist: %v", domain.ErrCollaborator, err)
	}
	return doc.ID.Hex(), nil
}

// ListSessions groups the user's stored posts by series, newest first
func (s *Store) ListSessions(ctx context.Context, userID int64) ([]domain.SessionSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$series_id"},
			{Key: "filename", Value: bson.D{{Key: "$first", Value: "$filename"}}},
			{Key: "post_count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "last_activity", Value: bson.D{{Key: "$max", Value: "$updated_at"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last_activity", Value: -1}}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%w: mongo aggregate: %v", domain.ErrCollaborator, err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		SeriesID     string    `bson:"_id"`
		Filename     string    `bson:"filename"`
		PostCount    int       `bson:"post_count"`
		LastActivity time.Time `bson:"last_activity"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: mongo decode: %v", domain.ErrCollaborator, err)
	}

	out := make([]domain.SessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.SessionSummary{
			UserID:       userID,
			SeriesID:     r.SeriesID,
			Filename:     r.Filename,
			PostCount:    r.PostCount,
			LastActivity: r.LastActivity,
		})
	}
	return out, nil
}
