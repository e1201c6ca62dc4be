package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"skillswap/internal/metrics"
	"skillswap/internal/models"
)

// SnapshotRelay forwards committed channel snapshots to other server instances.
type SnapshotRelay interface {
	Relay(ctx context.Context, channel *models.Channel) error
}

// ChannelFeed fans committed channel snapshots out to local subscribers.
// Each subscriber sees versions in strictly increasing order; a newer snapshot
// replaces one that has not been delivered yet.
type ChannelFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[*FeedSubscription]struct{}
	relay  SnapshotRelay
	logger *zap.Logger
}

// NewChannelFeed creates an empty feed.
func NewChannelFeed(logger *zap.Logger) *ChannelFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelFeed{
		subs:   make(map[string]map[*FeedSubscription]struct{}),
		logger: logger,
	}
}

// AttachRelay makes Publish forward snapshots to other instances as well.
func (f *ChannelFeed) AttachRelay(relay SnapshotRelay) {
	f.mu.Lock()
	f.relay = relay
	f.mu.Unlock()
}

// Publish 将本实例提交的快照分发给本地订阅者，并转发给其他实例。
func (f *ChannelFeed) Publish(ctx context.Context, channel *models.Channel) {
	f.Deliver(channel)

	f.mu.RLock()
	relay := f.relay
	f.mu.RUnlock()
	if relay == nil {
		return
	}
	if err := relay.Relay(ctx, channel); err != nil {
		f.logger.Warn("转发频道快照失败 (relay channel snapshot failed)",
			zap.String("channelId", channel.ID), zap.Int64("version", channel.Version), zap.Error(err))
	}
}

// Deliver hands a snapshot to local subscribers only.
func (f *ChannelFeed) Deliver(channel *models.Channel) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs[channel.ID] {
		sub.Offer(channel)
	}
}

// Subscribe registers onChange for channelID. Nothing is delivered until a snapshot is offered.
func (f *ChannelFeed) Subscribe(channelID string, onChange func(*models.Channel)) *FeedSubscription {
	sub := &FeedSubscription{
		feed:      f,
		channelID: channelID,
		onChange:  onChange,
		highest:   -1,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	f.mu.Lock()
	if f.subs[channelID] == nil {
		f.subs[channelID] = make(map[*FeedSubscription]struct{})
	}
	f.subs[channelID][sub] = struct{}{}
	f.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	go sub.run()
	return sub
}

// SubscriberCount returns the number of live subscriptions for a channel.
func (f *ChannelFeed) SubscriberCount(channelID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[channelID])
}

func (f *ChannelFeed) remove(sub *FeedSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs, ok := f.subs[sub.channelID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(f.subs, sub.channelID)
	}
	metrics.ActiveSubscriptions.Dec()
}

// FeedSubscription is one registered callback.
type FeedSubscription struct {
	feed      *ChannelFeed
	channelID string
	onChange  func(*models.Channel)

	mu      sync.Mutex
	highest int64
	pending *models.Channel

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Offer queues a snapshot unless a snapshot of the same or a newer version was already queued.
func (s *FeedSubscription) Offer(channel *models.Channel) {
	s.mu.Lock()
	if channel.Version <= s.highest {
		s.mu.Unlock()
		return
	}
	s.highest = channel.Version
	s.pending = channel.Clone()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel stops delivery. A callback already running is allowed to finish.
func (s *FeedSubscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.feed.remove(s)
	})
}

func (s *FeedSubscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		snapshot := s.pending
		s.pending = nil
		s.mu.Unlock()
		if snapshot == nil {
			continue
		}

		select {
		case <-s.done:
			return
		default:
		}
		s.onChange(snapshot)
	}
}
