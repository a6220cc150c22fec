package indexing

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ytindexer/internal/constants"
	"ytindexer/pkg/models"
)

type mongoChannelRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewChannelRepository(db *mongo.Database) ChannelRepository {
	return &mongoChannelRepository{
		collection: db.Collection(constants.ChannelsCollection),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *mongoChannelRepository) RecordVideo(ctx context.Context, doc *models.VideoDocument, increment bool) error {
	onInsert := bson.M{"first_seen_at": r.now()}
	update := bson.M{
		"$max": bson.M{
			"last_video_published_at": doc.PublishedAt,
			"last_updated_at":         doc.UpdatedAt,
		},
		"$setOnInsert": onInsert,
	}
	if increment {
		update["$inc"] = bson.M{"video_count": 1}
	} else {
		onInsert["video_count"] = 0
	}
	if doc.ChannelName != "" {
		update["$set"] = bson.M{"channel_name": doc.ChannelName}
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"channel_id": doc.ChannelID},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to record video for channel %s: %w", doc.ChannelID, err)
	}
	return nil
}

func (r *mongoChannelRepository) RecordRemoval(ctx context.Context, channelID string, at time.Time) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"channel_id": channelID, "video_count": bson.M{"$gt": 0}},
		bson.M{
			"$inc": bson.M{"video_count": -1},
			"$max": bson.M{"last_updated_at": at},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to record removal for channel %s: %w", channelID, err)
	}
	return nil
}

func (r *mongoChannelRepository) List(ctx context.Context, sort ChannelSort, limit, offset int) ([]models.ChannelStats, int64, error) {
	total, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count channels: %w", err)
	}

	direction := 1
	if sort.Descending {
		direction = -1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: sort.Field, Value: direction}, {Key: "channel_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list channels: %w", err)
	}
	defer cursor.Close(ctx)

	channels := []models.ChannelStats{}
	if err := cursor.All(ctx, &channels); err != nil {
		return nil, 0, fmt.Errorf("failed to decode channels: %w", err)
	}
	return channels, total, nil
}

func (r *mongoChannelRepository) SetVideoCounts(ctx context.Context, counts map[string]int64) error {
	ids := make([]string, 0, len(counts))
	writes := make([]mongo.WriteModel, 0, len(counts)+1)
	for channelID, count := range counts {
		ids = append(ids, channelID)
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"channel_id": channelID}).
			SetUpdate(bson.M{
				"$set":         bson.M{"video_count": count},
				"$setOnInsert": bson.M{"first_seen_at": r.now()},
			}).
			SetUpsert(true))
	}
	writes = append(writes, mongo.NewUpdateManyModel().
		SetFilter(bson.M{"channel_id": bson.M{"$nin": ids}}).
		SetUpdate(bson.M{"$set": bson.M{"video_count": 0}}))

	if _, err := r.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to set channel video counts: %w", err)
	}
	return nil
}
