package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowpatch/pkg/channels/gochannel"
	"github.com/dukex/flowpatch/pkg/events"
	"github.com/dukex/flowpatch/pkg/log"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{}, 0)
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, log.Discard())
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan *events.ElementInserted, 1)

	require.NoError(t, bus.Handle(events.ElementInsertedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ElementInserted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	el := &models.Element{Kind: models.KindAction, UIID: "ui1", SysID: "s1", Order: 3}
	require.NoError(t, bus.Publish(ctx, "f1", events.NewElementInserted("f1", el, false)))

	select {
	case got := <-received:
		assert.Equal(t, "f1", got.FlowID)
		assert.Equal(t, "ui1", got.UIID)
		assert.Equal(t, 3, got.Order)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	closed := make(chan string, 1)

	require.NoError(t, bus.Handle(events.SessionClosedEvent, func(_ context.Context, event any) error {
		closed <- event.(*events.SessionClosed).FlowID

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "f1", events.NewSessionOpened(models.EditLock{FlowID: "f1"}, false)))
	require.NoError(t, bus.Publish(ctx, "f2", events.NewSessionClosed("f2")))

	select {
	case got := <-closed:
		assert.Equal(t, "f2", got)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}

func TestWatermillEventBus_EmptyKeyFallsBackToFlow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, log.Discard())
	t.Cleanup(func() { _ = bus.Close() })

	messages, err := sub.Subscribe(ctx, events.Topic)
	require.NoError(t, err)

	go func() {
		_ = bus.Publish(ctx, "", events.NewSessionClosed("f7"))
	}()

	select {
	case msg := <-messages:
		assert.Equal(t, "f7", msg.Metadata.Get(events.EventMetadataKey))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestOn(t *testing.T) {
	var got string

	handler := On(func(_ context.Context, event *events.SessionClosed) error {
		got = event.GetFlowID()

		return nil
	})

	require.NoError(t, handler(context.Background(), events.NewSessionClosed("f3")))
	assert.Equal(t, "f3", got)

	err := handler(context.Background(), events.NewSessionOpened(models.EditLock{FlowID: "f4"}, false))
	require.ErrorIs(t, err, ErrUnexpectedEvent)
}
