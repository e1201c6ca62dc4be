package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"skillswap/internal/events"
	"skillswap/internal/models"
	"skillswap/internal/storage"
)

// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// faultyStore fails user writes for selected ids and can force version conflicts.
type faultyStore struct {
	storage.ConnectionStore

	mu            sync.Mutex
	failWritesFor map[string]error
}

func (s *faultyStore) failUser(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWritesFor == nil {
		s.failWritesFor = make(map[string]error)
	}
	s.failWritesFor[id] = err
}

func (s *faultyStore) heal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failWritesFor, id)
}

func (s *faultyStore) WriteUser(ctx context.Context, id string, patch models.UserPatch, expectedVersion int64) (*models.UserRecord, error) {
	s.mu.Lock()
	err := s.failWritesFor[id]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.ConnectionStore.WriteUser(ctx, id, patch, expectedVersion)
}

func seedUser(t *testing.T, store storage.ConnectionStore, id, name string) {
	t.Helper()
	_, err := store.WriteUser(context.Background(), id, models.UserPatch{DisplayName: &name}, 0)
	require.NoError(t, err)
}
