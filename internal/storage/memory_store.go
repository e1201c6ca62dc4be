package storage

import (
	"context"
	"sync"
	"time"

	"skillswap/internal/models"
)

// memoryConnectionStore keeps documents in process memory. Used by tests and single-node dev runs.
type memoryConnectionStore struct {
	mu       sync.Mutex
	users    map[string]*models.UserRecord
	channels map[string]*models.Channel
	feed     *ChannelFeed
}

// NewMemoryConnectionStore creates an empty in-memory ConnectionStore.
func NewMemoryConnectionStore(feed *ChannelFeed) ConnectionStore {
	if feed == nil {
		feed = NewChannelFeed(nil)
	}
	return &memoryConnectionStore{
		users:    make(map[string]*models.UserRecord),
		channels: make(map[string]*models.Channel),
		feed:     feed,
	}
}

func (s *memoryConnectionStore) ReadUser(ctx context.Context, id string) (*models.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return models.EmptyUserRecord(id), nil
	}
	out := rec.Clone()
	out.Normalize()
	return out, nil
}

func (s *memoryConnectionStore) WriteUser(ctx context.Context, id string, patch models.UserPatch, expectedVersion int64) (*models.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, ErrEmptyPatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	current, ok := s.users[id]
	var currentVersion int64
	if ok {
		currentVersion = current.Version
	}
	if currentVersion != expectedVersion {
		return nil, ErrVersionConflict
	}

	var next *models.UserRecord
	if ok {
		next = current.Clone()
	} else {
		next = models.EmptyUserRecord(id)
		next.CreatedAt = now
	}
	patch.Apply(next)
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	s.users[id] = next

	out := next.Clone()
	out.Normalize()
	return out, nil
}

func (s *memoryConnectionStore) ReadChannel(ctx context.Context, id string) (*models.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ch.Clone(), nil
}

func (s *memoryConnectionStore) CreateChannel(ctx context.Context, channel *models.Channel) (*models.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if _, ok := s.channels[channel.ID]; ok {
		s.mu.Unlock()
		return nil, ErrChannelExists
	}
	now := time.Now().UTC()
	created := channel.Clone()
	if created.Messages == nil {
		created.Messages = []models.ChatMessage{}
	}
	created.Version = 1
	created.CreatedAt = now
	created.UpdatedAt = now
	s.channels[channel.ID] = created
	out := created.Clone()
	s.mu.Unlock()

	s.feed.Publish(ctx, out)
	return out.Clone(), nil
}

func (s *memoryConnectionStore) WriteChannel(ctx context.Context, id string, messages []models.ChatMessage, expectedVersion int64) (*models.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	current, ok := s.channels[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if current.Version != expectedVersion {
		s.mu.Unlock()
		return nil, ErrVersionConflict
	}
	next := current.Clone()
	next.Messages = make([]models.ChatMessage, len(messages))
	copy(next.Messages, messages)
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	s.channels[id] = next
	out := next.Clone()
	s.mu.Unlock()

	s.feed.Publish(ctx, out)
	return out.Clone(), nil
}

func (s *memoryConnectionStore) Subscribe(ctx context.Context, id string, onChange func(*models.Channel)) (func(), error) {
	return subscribeWithFeed(ctx, s, s.feed, id, onChange)
}
