package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap/internal/models"
)

// storeFactory builds an empty store together with the feed it publishes to.
type storeFactory func(t *testing.T) ConnectionStore

func strPtr(s string) *string { return &s }

func runConnectionStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("read missing user yields empty record", func(t *testing.T) {
		store := newStore(t)
		rec, err := store.ReadUser(context.Background(), "ghost")
		require.NoError(t, err)
		assert.Equal(t, "ghost", rec.ID)
		assert.Equal(t, int64(0), rec.Version)
		assert.False(t, rec.Exists())
		assert.Empty(t, rec.Requests)
		assert.NotNil(t, rec.Friends)
	})

	t.Run("write user is conditional on version", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		created, err := store.WriteUser(ctx, "ana", models.UserPatch{DisplayName: strPtr("Ana")}, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)
		assert.Equal(t, "Ana", created.DisplayName)

		_, err = store.WriteUser(ctx, "ana", models.UserPatch{DisplayName: strPtr("Other")}, 0)
		assert.ErrorIs(t, err, ErrVersionConflict)

		friends := []string{"ben"}
		updated, err := store.WriteUser(ctx, "ana", models.UserPatch{Friends: &friends}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)
		assert.Equal(t, "Ana", updated.DisplayName, "unpatched fields are kept")
		assert.Equal(t, []string{"ben"}, updated.Friends)

		_, err = store.WriteUser(ctx, "ana", models.UserPatch{Friends: &friends}, 1)
		assert.ErrorIs(t, err, ErrVersionConflict)

		rec, err := store.ReadUser(ctx, "ana")
		require.NoError(t, err)
		assert.Equal(t, int64(2), rec.Version)
		assert.Equal(t, []string{"ben"}, rec.Friends)
	})

	t.Run("empty patch is rejected", func(t *testing.T) {
		store := newStore(t)
		_, err := store.WriteUser(context.Background(), "ana", models.UserPatch{}, 0)
		assert.ErrorIs(t, err, ErrEmptyPatch)
	})

	t.Run("embedded requests round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		createdAt := time.Now().UTC().Truncate(time.Millisecond)
		resolved := models.SwapRequest{
			ID: "r1", FromUserID: "ben", FromUserName: "Ben", OfferedSkill: "Guitar", WantedSkill: "Spanish",
			Message: "Hi!", Status: models.SwapRequestStatusPending, CreatedAt: createdAt,
		}.Resolve(models.SwapRequestStatusAccepted, createdAt.Add(time.Minute))
		pending := models.SwapRequest{
			ID: "r2", FromUserID: "cai", OfferedSkill: "Chess", WantedSkill: "Go",
			Status: models.SwapRequestStatusPending, CreatedAt: createdAt,
		}
		requests := []models.SwapRequest{pending}
		history := []models.SwapRequest{resolved}

		_, err := store.WriteUser(ctx, "ana", models.UserPatch{Requests: &requests, History: &history}, 0)
		require.NoError(t, err)

		rec, err := store.ReadUser(ctx, "ana")
		require.NoError(t, err)
		require.Len(t, rec.Requests, 1)
		require.Len(t, rec.History, 1)
		assert.Equal(t, "r2", rec.Requests[0].ID)
		assert.True(t, rec.Requests[0].IsPending())
		assert.Nil(t, rec.Requests[0].ResolvedAt)
		assert.Equal(t, models.SwapRequestStatusAccepted, rec.History[0].Status)
		require.NotNil(t, rec.History[0].ResolvedAt)
		assert.WithinDuration(t, createdAt.Add(time.Minute), *rec.History[0].ResolvedAt, time.Millisecond)
		assert.WithinDuration(t, createdAt, rec.History[0].CreatedAt, time.Millisecond)
		assert.Equal(t, 1, rec.CountSwaps())
	})

	t.Run("channel lifecycle", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.ReadChannel(ctx, "ana_ben")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = store.WriteChannel(ctx, "ana_ben", []models.ChatMessage{{ID: "m", Sender: "ana", Text: "x"}}, 1)
		assert.ErrorIs(t, err, ErrNotFound)

		seed := models.ChatMessage{ID: "seed", Sender: "ben", Text: "Hi!", Timestamp: 1}
		created, err := store.CreateChannel(ctx, &models.Channel{
			ID: "ana_ben", Participants: []string{"ana", "ben"}, Messages: []models.ChatMessage{seed},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)

		_, err = store.CreateChannel(ctx, &models.Channel{ID: "ana_ben", Participants: []string{"ana", "ben"}})
		assert.ErrorIs(t, err, ErrChannelExists)

		next := append(created.Messages, models.ChatMessage{ID: "m1", Sender: "ana", Text: "Hello", Timestamp: 2})
		written, err := store.WriteChannel(ctx, "ana_ben", next, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), written.Version)

		_, err = store.WriteChannel(ctx, "ana_ben", next, 1)
		assert.ErrorIs(t, err, ErrVersionConflict)

		ch, err := store.ReadChannel(ctx, "ana_ben")
		require.NoError(t, err)
		assert.Equal(t, []models.ChatMessage{seed, next[1]}, ch.Messages)
		assert.Equal(t, []string{"ana", "ben"}, ch.Participants)
	})

	t.Run("concurrent conditional writes all land", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		const writers = 8

		_, err := store.CreateChannel(ctx, &models.Channel{
			ID: "ana_ben", Participants: []string{"ana", "ben"},
			Messages: []models.ChatMessage{{ID: "seed", Sender: "ben", Text: "Hi!"}},
		})
		require.NoError(t, err)
		_, err = store.WriteUser(ctx, "ana", models.UserPatch{DisplayName: strPtr("Ana")}, 0)
		require.NoError(t, err)

		// 每个写者读取、追加、按版本写回，冲突时重试
		appendMessage := func(i int) error {
			for {
				ch, err := store.ReadChannel(ctx, "ana_ben")
				if err != nil {
					return err
				}
				msgs := append(ch.Clone().Messages, models.ChatMessage{ID: fmt.Sprintf("m%d", i), Sender: "ana", Text: "msg"})
				_, err = store.WriteChannel(ctx, "ana_ben", msgs, ch.Version)
				if errors.Is(err, ErrVersionConflict) {
					continue
				}
				return err
			}
		}
		addFriend := func(i int) error {
			for {
				rec, err := store.ReadUser(ctx, "ana")
				if err != nil {
					return err
				}
				friends := append(append([]string{}, rec.Friends...), fmt.Sprintf("friend-%d", i))
				_, err = store.WriteUser(ctx, "ana", models.UserPatch{Friends: &friends}, rec.Version)
				if errors.Is(err, ErrVersionConflict) {
					continue
				}
				return err
			}
		}

		var wg sync.WaitGroup
		errs := make(chan error, 2*writers)
		for i := 0; i < writers; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				errs <- appendMessage(i)
			}(i)
			go func(i int) {
				defer wg.Done()
				errs <- addFriend(i)
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		ch, err := store.ReadChannel(ctx, "ana_ben")
		require.NoError(t, err)
		assert.Equal(t, int64(writers+1), ch.Version)
		require.Len(t, ch.Messages, writers+1)
		assert.Equal(t, "seed", ch.Messages[0].ID)
		ids := make([]string, 0, writers)
		for _, m := range ch.Messages[1:] {
			ids = append(ids, m.ID)
		}
		rec, err := store.ReadUser(ctx, "ana")
		require.NoError(t, err)
		assert.Equal(t, int64(writers+1), rec.Version)
		want := make([]string, 0, writers)
		for i := 0; i < writers; i++ {
			want = append(want, fmt.Sprintf("m%d", i))
		}
		assert.ElementsMatch(t, want, ids)
		assert.Len(t, rec.Friends, writers)
		assert.Equal(t, "Ana", rec.DisplayName)
	})

	t.Run("subscribe delivers initial state then commits in order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		var (
			mu        sync.Mutex
			snapshots []*models.Channel
		)
		cancel, err := store.Subscribe(ctx, "ana_ben", func(ch *models.Channel) {
			mu.Lock()
			snapshots = append(snapshots, ch)
			mu.Unlock()
		})
		require.NoError(t, err)
		defer cancel()

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(snapshots) == 1
		}, 2*time.Second, 5*time.Millisecond)
		mu.Lock()
		assert.Equal(t, int64(0), snapshots[0].Version)
		assert.Empty(t, snapshots[0].Messages)
		mu.Unlock()

		ch, err := store.CreateChannel(ctx, &models.Channel{ID: "ana_ben", Participants: []string{"ana", "ben"}})
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			msgs := append(ch.Messages, models.ChatMessage{ID: string(rune('a' + i)), Sender: "ana", Text: "msg"})
			ch, err = store.WriteChannel(ctx, "ana_ben", msgs, ch.Version)
			require.NoError(t, err)
		}

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return snapshots[len(snapshots)-1].Version == 6
		}, 2*time.Second, 5*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		for i := 1; i < len(snapshots); i++ {
			assert.Greater(t, snapshots[i].Version, snapshots[i-1].Version)
		}
		assert.Len(t, snapshots[len(snapshots)-1].Messages, 5)
	})

	t.Run("cancel stops delivery", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		calls := make(chan int64, 16)
		cancel, err := store.Subscribe(ctx, "ana_ben", func(ch *models.Channel) { calls <- ch.Version })
		require.NoError(t, err)
		assert.Equal(t, int64(0), <-calls)
		cancel()
		cancel()

		_, err = store.CreateChannel(ctx, &models.Channel{ID: "ana_ben", Participants: []string{"ana", "ben"}})
		require.NoError(t, err)
		select {
		case v := <-calls:
			t.Fatalf("unexpected delivery of version %d after cancel", v)
		case <-time.After(50 * time.Millisecond):
		}
	})
}
