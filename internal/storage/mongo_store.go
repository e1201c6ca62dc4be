package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"skillswap/internal/models"
)

const (
	mongoUsersCollection    = "users"
	mongoChannelsCollection = "channels"
)

type mongoConnectionStore struct {
	users    *mongo.Collection
	channels *mongo.Collection
	feed     *ChannelFeed
	logger   *zap.Logger
}

// NewMongoConnectionStore creates a ConnectionStore backed by MongoDB.
// Conditional writes filter on both _id and version, so a concurrent writer makes the filter miss.
func NewMongoConnectionStore(db *mongo.Database, feed *ChannelFeed, logger *zap.Logger) ConnectionStore {
	if feed == nil {
		feed = NewChannelFeed(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &mongoConnectionStore{
		users:    db.Collection(mongoUsersCollection),
		channels: db.Collection(mongoChannelsCollection),
		feed:     feed,
		logger:   logger,
	}
}

// ConnectMongo dials MongoDB and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB ping 失败: %w", err)
	}
	return client, nil
}

func (s *mongoConnectionStore) ReadUser(ctx context.Context, id string) (*models.UserRecord, error) {
	var rec models.UserRecord
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.EmptyUserRecord(id), nil
		}
		return nil, fmt.Errorf("读取用户 %s 失败: %w", id, err)
	}
	rec.Normalize()
	return &rec, nil
}

func (s *mongoConnectionStore) WriteUser(ctx context.Context, id string, patch models.UserPatch, expectedVersion int64) (*models.UserRecord, error) {
	if patch.IsEmpty() {
		return nil, ErrEmptyPatch
	}
	now := time.Now().UTC()
	set := bson.M{"updatedAt": now}
	for k, v := range patch.BSONFields() {
		set[k] = v
	}
	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	// A first write upserts; if another writer created the document meanwhile the
	// filter misses and the insert collides on _id.
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if expectedVersion == 0 {
		setOnInsert := bson.M{"createdAt": now}
		for field, empty := range map[string]any{
			"displayName":   "",
			"offeredSkills": []string{},
			"wantedSkills":  []string{},
			"availability":  "",
			"requests":      []models.SwapRequest{},
			"friends":       []string{},
			"history":       []models.SwapRequest{},
		} {
			if _, patched := set[field]; !patched {
				setOnInsert[field] = empty
			}
		}
		update["$setOnInsert"] = setOnInsert
		opts.SetUpsert(true)
	}

	var rec models.UserRecord
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id, "version": expectedVersion}, update, opts).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) || mongo.IsDuplicateKeyError(err) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("更新用户 %s 失败: %w", id, err)
	}
	rec.Normalize()
	return &rec, nil
}

func (s *mongoConnectionStore) ReadChannel(ctx context.Context, id string) (*models.Channel, error) {
	var ch models.Channel
	err := s.channels.FindOne(ctx, bson.M{"_id": id}).Decode(&ch)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取频道 %s 失败: %w", id, err)
	}
	if ch.Messages == nil {
		ch.Messages = []models.ChatMessage{}
	}
	return &ch, nil
}

func (s *mongoConnectionStore) CreateChannel(ctx context.Context, channel *models.Channel) (*models.Channel, error) {
	now := time.Now().UTC()
	created := channel.Clone()
	if created.Messages == nil {
		created.Messages = []models.ChatMessage{}
	}
	created.Version = 1
	created.CreatedAt = now
	created.UpdatedAt = now
	if _, err := s.channels.InsertOne(ctx, created); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrChannelExists
		}
		return nil, fmt.Errorf("创建频道 %s 失败: %w", channel.ID, err)
	}
	s.feed.Publish(ctx, created)
	return created.Clone(), nil
}

func (s *mongoConnectionStore) WriteChannel(ctx context.Context, id string, messages []models.ChatMessage, expectedVersion int64) (*models.Channel, error) {
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	update := bson.M{
		"$set": bson.M{"messages": messages, "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var ch models.Channel
	err := s.channels.FindOneAndUpdate(ctx, bson.M{"_id": id, "version": expectedVersion}, update, opts).Decode(&ch)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			n, countErr := s.channels.CountDocuments(ctx, bson.M{"_id": id})
			if countErr != nil {
				return nil, fmt.Errorf("检查频道 %s 失败: %w", id, countErr)
			}
			if n == 0 {
				return nil, ErrNotFound
			}
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("更新频道 %s 失败: %w", id, err)
	}
	s.feed.Publish(ctx, &ch)
	return ch.Clone(), nil
}

func (s *mongoConnectionStore) Subscribe(ctx context.Context, id string, onChange func(*models.Channel)) (func(), error) {
	return subscribeWithFeed(ctx, s, s.feed, id, onChange)
}
