package stream

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/domain/schema"
)

func TestSubscribeRejectsNonDataTypes(t *testing.T) {
	hub := NewHub(4, 2, zerolog.Nop())
	_, err := hub.Subscribe(schema.EventTypeAuth)
	require.True(t, errs.IsCode(err, errs.CodeInvalid))
	_, err = hub.Subscribe("")
	require.Error(t, err)
}

func TestCancelIsIdempotentAndIsolated(t *testing.T) {
	hub := NewHub(4, 2, zerolog.Nop())
	first, err := hub.Subscribe(schema.EventTypePrice)
	require.NoError(t, err)
	second, err := hub.Subscribe(schema.EventTypePrice)
	require.NoError(t, err)
	require.NotEqual(t, first.ID(), second.ID())
	require.Equal(t, 2, hub.Len())

	first.Cancel()
	first.Cancel()
	require.Equal(t, 1, hub.Len())

	_, ok := <-first.C()
	require.False(t, ok)

	hub.Publish(context.Background(), schema.Event{Type: schema.EventTypePrice, Data: []byte(`{"n":1}`)})
	evt := receive(t, second)
	require.JSONEq(t, `{"n":1}`, string(evt.Data))
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	hub := NewHub(16, 4, zerolog.Nop())
	subs := make([]*Subscription, 3)
	for i := range subs {
		sub, err := hub.Subscribe(schema.EventTypeOrder)
		require.NoError(t, err)
		subs[i] = sub
	}
	for i := 0; i < 10; i++ {
		hub.Publish(context.Background(), schema.Event{Type: schema.EventTypeOrder, Data: []byte{byte('0' + i)}})
	}
	for _, sub := range subs {
		for i := 0; i < 10; i++ {
			require.Equal(t, []byte{byte('0' + i)}, []byte(receive(t, sub).Data))
		}
	}
}

func TestPublishOnlyReachesMatchingType(t *testing.T) {
	hub := NewHub(4, 2, zerolog.Nop())
	prices, _ := hub.Subscribe(schema.EventTypePrice)
	accounts, _ := hub.Subscribe(schema.EventTypeAccount)

	hub.Publish(context.Background(), schema.Event{Type: schema.EventTypeAccount})
	require.Equal(t, schema.EventTypeAccount, receive(t, accounts).Type)
	requireNoEvent(t, prices)
}

func TestFullBufferDropsOldest(t *testing.T) {
	hub := NewHub(2, 1, zerolog.Nop())
	sub, err := hub.Subscribe(schema.EventTypePrice)
	require.NoError(t, err)

	for _, payload := range []string{"a", "b", "c"} {
		hub.Publish(context.Background(), schema.Event{Type: schema.EventTypePrice, Data: []byte(payload)})
	}
	require.Equal(t, "b", string(receive(t, sub).Data))
	require.Equal(t, "c", string(receive(t, sub).Data))
}

func TestBroadcastReachesEveryType(t *testing.T) {
	hub := NewHub(4, 2, zerolog.Nop())
	var subs []*Subscription
	for _, typ := range schema.DataEventTypes {
		sub, err := hub.Subscribe(typ)
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	hub.Broadcast(context.Background(), schema.Event{Type: schema.EventTypeFatal, Timestamp: time.Now()})
	for _, sub := range subs {
		require.Equal(t, schema.EventTypeFatal, receive(t, sub).Type)
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(4, 2, zerolog.Nop())
	sub, _ := hub.Subscribe(schema.EventTypePosition)
	hub.Close()
	hub.Close()

	_, ok := <-sub.C()
	require.False(t, ok)
	sub.Cancel()

	_, err := hub.Subscribe(schema.EventTypePosition)
	require.True(t, errs.IsCode(err, errs.CodeUnavailable))
}
