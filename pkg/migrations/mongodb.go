package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ytindexer/internal/constants"
)

// EnsureMongoIndexes creates the indexes for the videos and channels collections.
// Collections themselves are created on first insert.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	videoIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "video_id", Value: 1}},
			Options: options.Index().SetName("idx_videos_video_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "channel_id", Value: 1}},
			Options: options.Index().SetName("idx_videos_channel_id"),
		},
		{
			Keys:    bson.D{{Key: "published_at", Value: -1}},
			Options: options.Index().SetName("idx_videos_published_at"),
		},
		{
			Keys:    bson.D{{Key: "sync_status", Value: 1}, {Key: "last_sync_attempt_at", Value: 1}},
			Options: options.Index().SetName("idx_videos_sync_status_attempt"),
		},
	}
	if err := createIndexes(ctx, db.Collection(constants.VideosCollection), videoIndexes); err != nil {
		return err
	}

	channelIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "channel_id", Value: 1}},
			Options: options.Index().SetName("idx_channels_channel_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "last_updated_at", Value: -1}},
			Options: options.Index().SetName("idx_channels_last_updated_at"),
		},
	}
	return createIndexes(ctx, db.Collection(constants.ChannelsCollection), channelIndexes)
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes on %s: %w", collection.Name(), err)
	}
	return nil
}
