package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap/internal/config"
	"skillswap/internal/models"
)

type sentMessage struct {
	topic   string
	key     string
	payload []byte
}

// fakeProducer records messages instead of talking to a broker.
type fakeProducer struct {
	sent   []sentMessage
	err    error
	closed bool
}

func (p *fakeProducer) SendMessage(_ context.Context, topic string, key []byte, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{topic: topic, key: string(key), payload: payload})
	return nil
}

func (p *fakeProducer) Close() { p.closed = true }

func TestEventEncodeDecode(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	evt := Event{
		Type:      TypeRequestAccepted,
		UserID:    "ben",
		ActorID:   "ana",
		RequestID: "r1",
		Request: &models.SwapRequest{
			ID: "r1", FromUserID: "ben", OfferedSkill: "Guitar", WantedSkill: "Spanish",
			Status: models.SwapRequestStatusAccepted, CreatedAt: at,
		},
		Timestamp: at,
	}
	payload, err := evt.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"type":"request.accepted"`)
	assert.NotContains(t, string(payload), "channelId")

	decoded, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, evt, decoded)

	_, err = Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestIsRequestEvent(t *testing.T) {
	assert.True(t, Event{Type: TypeRequestSubmitted}.IsRequestEvent())
	assert.True(t, Event{Type: TypeRequestRejected}.IsRequestEvent())
	assert.False(t, Event{Type: TypeMessageSent}.IsRequestEvent())
	assert.False(t, Event{Type: TypeChannelSeeded}.IsRequestEvent())
}

func TestKafkaPublisherRoutesByEventKind(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewKafkaPublisher(producer, config.KafkaConfig{
		RequestEventsTopic: "requests",
		ChannelEventsTopic: "channels",
	})
	ctx := context.Background()

	require.NoError(t, pub.Publish(ctx, Event{Type: TypeRequestSubmitted, UserID: "ana", ActorID: "ben"}))
	require.NoError(t, pub.Publish(ctx, Event{Type: TypeMessageSent, UserID: "ben", ChannelID: "ana_ben"}))

	require.Len(t, producer.sent, 2)
	assert.Equal(t, "requests", producer.sent[0].topic)
	assert.Equal(t, "ana", producer.sent[0].key)
	assert.Equal(t, "channels", producer.sent[1].topic)
	assert.Equal(t, "ben", producer.sent[1].key)

	decoded, err := Decode(producer.sent[1].payload)
	require.NoError(t, err)
	assert.Equal(t, "ana_ben", decoded.ChannelID)

	pub.Close()
	assert.True(t, producer.closed)
}

func TestKafkaPublisherWrapsErrors(t *testing.T) {
	brokerDown := errors.New("broker down")
	pub := NewKafkaPublisher(&fakeProducer{err: brokerDown}, config.KafkaConfig{RequestEventsTopic: "requests"})
	err := pub.Publish(context.Background(), Event{Type: TypeRequestAccepted, UserID: "ben"})
	assert.ErrorIs(t, err, brokerDown)
}

func TestNopPublisher(t *testing.T) {
	pub := NewNopPublisher()
	assert.NoError(t, pub.Publish(context.Background(), Event{Type: TypeMessageSent}))
	pub.Close()
}
