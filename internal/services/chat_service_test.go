package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skillswap/internal/events"
	"skillswap/internal/models"
	"skillswap/internal/storage"
)

type chatFixture struct {
	store    storage.ConnectionStore
	requests RequestService
	chat     ChatService
	pub      *recordingPublisher
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	store := storage.NewMemoryConnectionStore(storage.NewChannelFeed(nil))
	seedUser(t, store, "ana", "Ana")
	seedUser(t, store, "ben", "Ben")
	pub := &recordingPublisher{}
	return &chatFixture{
		store:    store,
		requests: NewRequestService(store, pub, zap.NewNop(), 5),
		chat:     NewChatService(store, pub, zap.NewNop(), 20),
		pub:      pub,
	}
}

// snapshotRecorder collects snapshots delivered to a subscription.
type snapshotRecorder struct {
	mu        sync.Mutex
	snapshots []*models.Channel
}

func (r *snapshotRecorder) record(ch *models.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, ch)
}

func (r *snapshotRecorder) latest() *models.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

func (r *snapshotRecorder) waitForVersion(t *testing.T, version int64) *models.Channel {
	t.Helper()
	require.Eventually(t, func() bool {
		latest := r.latest()
		return latest != nil && latest.Version >= version
	}, 2*time.Second, 5*time.Millisecond)
	return r.latest()
}

func texts(ch *models.Channel) []string {
	out := make([]string, 0, len(ch.Messages))
	for _, m := range ch.Messages {
		out = append(out, m.Text)
	}
	return out
}

func TestRequestToChatScenario(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	req, err := f.requests.SubmitRequest(ctx, "ben", "ana", guitarForSpanish)
	require.NoError(t, err)
	_, err = f.requests.AcceptRequest(ctx, "ana", req.ID)
	require.NoError(t, err)

	ch, err := f.chat.OpenChannel(ctx, "ana", "ben")
	require.NoError(t, err)
	assert.Equal(t, "ana_ben", ch.ID)
	require.Len(t, ch.Messages, 1)
	assert.Equal(t, "ben", ch.Messages[0].Sender)
	assert.Equal(t, "Hi!", ch.Messages[0].Text)

	benView := &snapshotRecorder{}
	cancel, err := f.chat.Subscribe(ctx, ResolveChannelID("ben", "ana"), benView.record)
	require.NoError(t, err)
	defer cancel()
	benView.waitForVersion(t, ch.Version)

	sent, err := f.chat.Send(ctx, ch.ID, "ana", "When are you free?")
	require.NoError(t, err)
	assert.Equal(t, "ana", sent.Sender)

	final := benView.waitForVersion(t, ch.Version+1)
	assert.Equal(t, []string{"Hi!", "When are you free?"}, texts(final))
	assert.Equal(t, "ana", final.Messages[1].Sender)

	evt := f.pub.last()
	assert.Equal(t, events.TypeMessageSent, evt.Type)
	assert.Equal(t, "ben", evt.UserID)
	assert.Equal(t, ch.ID, evt.ChannelID)
}

func TestEnsureSeededIsIdempotent(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.requests.SubmitRequest(ctx, "ben", "ana", guitarForSpanish)
	require.NoError(t, err)

	first, err := f.chat.EnsureSeeded(ctx, "ana_ben", "ana", "ben")
	require.NoError(t, err)
	second, err := f.chat.EnsureSeeded(ctx, "ana_ben", "ben", "ana")
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Messages, second.Messages)
	assert.Len(t, second.Messages, 1)

	seeded := 0
	for _, typ := range f.pub.types() {
		if typ == events.TypeChannelSeeded {
			seeded++
		}
	}
	assert.Equal(t, 1, seeded)
}

func TestEnsureSeededConcurrentOpenersAgree(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.requests.SubmitRequest(ctx, "ben", "ana", guitarForSpanish)
	require.NoError(t, err)

	results := make([]*models.Channel, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "ana", "ben"
			if i%2 == 1 {
				a, b = b, a
			}
			ch, err := f.chat.OpenChannel(ctx, a, b)
			assert.NoError(t, err)
			results[i] = ch
		}(i)
	}
	wg.Wait()

	for _, ch := range results {
		require.NotNil(t, ch)
		assert.Equal(t, int64(1), ch.Version)
		assert.Equal(t, []string{"Hi!"}, texts(ch))
	}
}

func TestEnsureSeededWithoutRequestCreatesEmptyChannel(t *testing.T) {
	f := newChatFixture(t)
	ch, err := f.chat.OpenChannel(context.Background(), "ana", "ben")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ch.Version)
	assert.Empty(t, ch.Messages)
	assert.Equal(t, []string{"ana", "ben"}, ch.Participants)
}

func TestEnsureSeededPrefersPendingAndNewest(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	older, err := f.requests.SubmitRequest(ctx, "ben", "ana", SubmitRequestInput{OfferedSkill: "Guitar", WantedSkill: "Spanish", Message: "old"})
	require.NoError(t, err)
	_, err = f.requests.AcceptRequest(ctx, "ana", older.ID)
	require.NoError(t, err)
	_, err = f.requests.SubmitRequest(ctx, "ben", "ana", SubmitRequestInput{OfferedSkill: "Piano", WantedSkill: "French", Message: "first pending"})
	require.NoError(t, err)
	_, err = f.requests.SubmitRequest(ctx, "ben", "ana", SubmitRequestInput{OfferedSkill: "Piano", WantedSkill: "French", Message: "latest pending"})
	require.NoError(t, err)

	ch, err := f.chat.OpenChannel(ctx, "ana", "ben")
	require.NoError(t, err)
	assert.Equal(t, []string{"latest pending"}, texts(ch))
}

func TestEnsureSeededSkipsRequestsWithoutMessage(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.requests.SubmitRequest(ctx, "ben", "ana", SubmitRequestInput{OfferedSkill: "Guitar", WantedSkill: "Spanish", Message: "Hi!"})
	require.NoError(t, err)
	_, err = f.requests.SubmitRequest(ctx, "ben", "ana", SubmitRequestInput{OfferedSkill: "Piano", WantedSkill: "French"})
	require.NoError(t, err)

	ch, err := f.chat.OpenChannel(ctx, "ana", "ben")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi!"}, texts(ch))
}

func TestEnsureSeededWithOnlyEmptyMessagesCreatesEmptyChannel(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.requests.SubmitRequest(ctx, "ben", "ana", SubmitRequestInput{OfferedSkill: "Piano", WantedSkill: "French"})
	require.NoError(t, err)

	ch, err := f.chat.OpenChannel(ctx, "ana", "ben")
	require.NoError(t, err)
	assert.Empty(t, ch.Messages)
}

func TestEnsureSeededUsesRequestIdentity(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	req, err := f.requests.SubmitRequest(ctx, "ana", "ben", guitarForSpanish)
	require.NoError(t, err)

	ch, err := f.chat.OpenChannel(ctx, "ben", "ana")
	require.NoError(t, err)
	require.Len(t, ch.Messages, 1)
	seed := ch.Messages[0]
	assert.Equal(t, req.ID, seed.ID)
	assert.Equal(t, "ana", seed.Sender)
	assert.Equal(t, req.CreatedAt.UnixMilli(), seed.Timestamp)
}

func TestEnsureSeededValidatesChannel(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.chat.EnsureSeeded(ctx, "ana_ben", "ana", "cai")
	assert.ErrorIs(t, err, ErrChannelMismatch)
	_, err = f.chat.EnsureSeeded(ctx, "ben_ana", "ana", "ben")
	assert.ErrorIs(t, err, ErrInvalidChannelID)

	_, err = f.chat.OpenChannel(ctx, "ana", "ana")
	assert.ErrorIs(t, err, ErrChannelSelf)
	_, err = f.chat.OpenChannel(ctx, "ana", "")
	assert.ErrorIs(t, err, ErrInvalidUserID)
}

func TestSendValidation(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.chat.Send(ctx, "ana_ben", "ana", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = f.chat.Send(ctx, "ana_ben", "ana", strings.Repeat("é", MaxMessageLength+1))
	assert.ErrorIs(t, err, ErrMessageTooLong)
	_, err = f.chat.Send(ctx, "ana_ben", "cai", "hello")
	assert.ErrorIs(t, err, ErrNotChannelParticipant)
	_, err = f.chat.Send(ctx, "not-a-channel", "ana", "hello")
	assert.ErrorIs(t, err, ErrInvalidChannelID)

	msg, err := f.chat.Send(ctx, "ana_ben", "ana", strings.Repeat("é", MaxMessageLength))
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
}

func TestSendToAbsentChannelSeedsFirst(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.requests.SubmitRequest(ctx, "ben", "ana", guitarForSpanish)
	require.NoError(t, err)

	_, err = f.chat.Send(ctx, "ana_ben", "ana", "Sure!")
	require.NoError(t, err)

	ch, err := f.chat.GetChannel(ctx, "ana_ben")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi!", "Sure!"}, texts(ch))
	assert.Equal(t, int64(2), ch.Version)
}

func TestConcurrentSendsAllSurvive(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.chat.OpenChannel(ctx, "ana", "ben")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := "ana"
			if i%2 == 1 {
				sender = "ben"
			}
			_, err := f.chat.Send(ctx, "ana_ben", sender, "message")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ch, err := f.chat.GetChannel(ctx, "ana_ben")
	require.NoError(t, err)
	assert.Len(t, ch.Messages, 10)
	assert.Equal(t, int64(11), ch.Version)

	ids := make(map[string]struct{})
	for _, m := range ch.Messages {
		ids[m.ID] = struct{}{}
	}
	assert.Len(t, ids, 10)
}

func TestSubscribeAfterSendSeesMessage(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.chat.Send(ctx, "ana_ben", "ben", "ping")
	require.NoError(t, err)

	view := &snapshotRecorder{}
	cancel, err := f.chat.Subscribe(ctx, "ana_ben", view.record)
	require.NoError(t, err)
	defer cancel()

	latest := view.waitForVersion(t, 2)
	assert.Equal(t, []string{"ping"}, texts(latest))
}

func TestSubscribeBeforeChannelExists(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	view := &snapshotRecorder{}
	cancel, err := f.chat.Subscribe(ctx, "ana_ben", view.record)
	require.NoError(t, err)
	defer cancel()

	initial := view.waitForVersion(t, 0)
	assert.Empty(t, initial.Messages)

	_, err = f.chat.Send(ctx, "ana_ben", "ana", "first")
	require.NoError(t, err)
	latest := view.waitForVersion(t, 2)
	assert.Equal(t, []string{"first"}, texts(latest))

	_, err = f.chat.Subscribe(ctx, "bad", view.record)
	assert.ErrorIs(t, err, ErrInvalidChannelID)
}

func TestGetChannelAbsent(t *testing.T) {
	f := newChatFixture(t)
	ch, err := f.chat.GetChannel(context.Background(), "ana_ben")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ch.Version)
	assert.Empty(t, ch.Messages)
}
