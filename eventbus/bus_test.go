package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishBroadcastsToAllSubscribers(t *testing.T) {
	bus := New(log.NewNoOpLogger(), nil)

	ch1, unsub1 := bus.Subscribe()
	defer unsub1()
	ch2, unsub2 := bus.Subscribe()
	defer unsub2()

	require.Equal(t, 2, bus.Len())

	bus.Publish(Event{Kind: KindViewChange, View: 7})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			require.Equal(t, hstypes.View(7), ev.View)
			require.Equal(t, KindViewChange, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast event")
		}
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New(log.NewNoOpLogger(), nil)
	_, unsub := bus.Subscribe()
	unsub()
	require.Equal(t, 0, bus.Len())
}

func TestRegistry_SpawnAndStop(t *testing.T) {
	bus := New(log.NewNoOpLogger(), nil)
	reg := NewRegistry(bus, log.NewNoOpLogger())

	done := make(chan struct{})
	reg.Spawn("echo", func(ctx context.Context, events <-chan Event) {
		defer close(done)
		<-ctx.Done()
	})

	reg.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not stop after registry Stop")
	}
}
