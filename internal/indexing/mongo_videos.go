package indexing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ytindexer/internal/constants"
	"ytindexer/pkg/models"
)

type mongoVideoRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewVideoRepository relies on the unique video_id index created by migrations.EnsureMongoIndexes.
func NewVideoRepository(db *mongo.Database) VideoRepository {
	return &mongoVideoRepository{
		collection: db.Collection(constants.VideosCollection),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *mongoVideoRepository) Upsert(ctx context.Context, doc *models.VideoDocument) (UpsertOutcome, error) {
	now := r.now()

	set := bson.M{
		"channel_id":           doc.ChannelID,
		"title":                doc.Title,
		"url":                  doc.URL,
		"channel_name":         doc.ChannelName,
		"published_at":         doc.PublishedAt,
		"updated_at":           doc.UpdatedAt,
		"sync_status":          models.SyncPending,
		"last_sync_attempt_at": now,
	}
	if doc.Transcript != "" {
		set["transcript"] = doc.Transcript
	}

	// The upsert can only insert when no document with this video_id exists; any stored
	// document that fails the filter makes the insert hit the unique index.
	filter := bson.M{
		"video_id":   doc.VideoID,
		"removed":    bson.M{"$ne": true},
		"updated_at": bson.M{"$lt": doc.UpdatedAt},
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"removed":       false,
			"stats_counted": false,
			"first_seen_at": now,
		},
	}

	res, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return UpsertStale, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to upsert video %s: %w", doc.VideoID, err)
	}

	if res.UpsertedCount > 0 {
		return UpsertCreated, nil
	}
	if res.MatchedCount > 0 {
		return UpsertUpdated, nil
	}
	return UpsertStale, nil
}

func (r *mongoVideoRepository) MarkRemoved(ctx context.Context, videoID, channelID string, deletedAt time.Time) (*models.VideoDocument, bool, error) {
	now := r.now()

	onInsert := bson.M{
		"updated_at":    deletedAt,
		"stats_counted": false,
		"first_seen_at": now,
	}
	if channelID != "" {
		onInsert["channel_id"] = channelID
	}

	filter := bson.M{"video_id": videoID, "removed": bson.M{"$ne": true}}
	update := bson.M{
		"$set": bson.M{
			"removed":              true,
			"deleted_at":           deletedAt,
			"sync_status":          models.SyncPending,
			"last_sync_attempt_at": now,
		},
		"$setOnInsert": onInsert,
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc models.VideoDocument
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		existing, getErr := r.Get(ctx, videoID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark video %s removed: %w", videoID, err)
	}
	return &doc, true, nil
}

func (r *mongoVideoRepository) Get(ctx context.Context, videoID string) (*models.VideoDocument, error) {
	var doc models.VideoDocument
	err := r.collection.FindOne(ctx, bson.M{"video_id": videoID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video %s: %w", videoID, err)
	}
	return &doc, nil
}

func revisionFilter(doc *models.VideoDocument) bson.M {
	return bson.M{
		"video_id":   doc.VideoID,
		"updated_at": doc.UpdatedAt,
		"removed":    doc.Removed,
	}
}

func (r *mongoVideoRepository) MarkSynced(ctx context.Context, doc *models.VideoDocument) (bool, error) {
	update := bson.M{"$set": bson.M{
		"sync_status":          models.SyncSynced,
		"last_sync_attempt_at": r.now(),
	}}
	res, err := r.collection.UpdateOne(ctx, revisionFilter(doc), update)
	if err != nil {
		return false, fmt.Errorf("failed to mark video %s synced: %w", doc.VideoID, err)
	}
	return res.MatchedCount == 1, nil
}

func (r *mongoVideoRepository) MarkSyncFailed(ctx context.Context, doc *models.VideoDocument) error {
	update := bson.M{"$set": bson.M{
		"sync_status":          models.SyncFailed,
		"last_sync_attempt_at": r.now(),
	}}
	if _, err := r.collection.UpdateOne(ctx, revisionFilter(doc), update); err != nil {
		return fmt.Errorf("failed to mark video %s sync failed: %w", doc.VideoID, err)
	}
	return nil
}

func (r *mongoVideoRepository) ClaimStatsCount(ctx context.Context, videoID string) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"video_id": videoID, "removed": false, "stats_counted": false},
		bson.M{"$set": bson.M{"stats_counted": true}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim stats count for %s: %w", videoID, err)
	}
	return res.ModifiedCount == 1, nil
}

func (r *mongoVideoRepository) ReleaseStatsCount(ctx context.Context, videoID string) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"video_id": videoID, "stats_counted": true},
		bson.M{"$set": bson.M{"stats_counted": false}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to release stats count for %s: %w", videoID, err)
	}
	return res.ModifiedCount == 1, nil
}

func (r *mongoVideoRepository) ListUnsynced(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]models.VideoDocument, error) {
	filter := bson.M{
		"sync_status":          bson.M{"$ne": models.SyncSynced},
		"last_sync_attempt_at": bson.M{"$lt": cutoff},
	}
	if afterID != "" {
		filter["video_id"] = bson.M{"$gt": afterID}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "video_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced videos: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []models.VideoDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode unsynced videos: %w", err)
	}
	return docs, nil
}

func (r *mongoVideoRepository) CountedPerChannel(ctx context.Context) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"stats_counted": true}}},
		{{Key: "$group", Value: bson.M{"_id": "$channel_id", "count": bson.M{"$sum": 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count videos per channel: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ChannelID string `bson:"_id"`
		Count     int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode channel counts: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.ChannelID] = row.Count
	}
	return counts, nil
}
