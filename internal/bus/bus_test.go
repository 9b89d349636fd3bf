package bus

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gachastage/gacha-backend/pkg/types"
)

func recvFrame(t *testing.T, ch <-chan types.Frame, within time.Duration) types.Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return f
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return types.Frame{}
	}
}

func TestBus_FansOutToAllSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(ctx, zap.NewNop())

	a := make(chan types.Frame, 2)
	c := make(chan types.Frame, 2)
	b.Inbox() <- Subscribe{ClientID: "control", Outbox: a}
	b.Inbox() <- Subscribe{ClientID: "stage", Outbox: c}

	b.Broadcast(types.Frame{Type: types.FrameResetAnimation, SessionID: "s1"})

	for _, ch := range []chan types.Frame{a, c} {
		f := recvFrame(t, ch, 100*time.Millisecond)
		if f.Type != types.FrameResetAnimation || f.SessionID != "s1" {
			t.Fatalf("unexpected frame: %+v", f)
		}
	}
}

func TestBus_DropsSlowSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(ctx, zap.NewNop())

	slow := make(chan types.Frame) // unbuffered, never read
	fast := make(chan types.Frame, 4)
	b.Inbox() <- Subscribe{ClientID: "slow", Outbox: slow}
	b.Inbox() <- Subscribe{ClientID: "fast", Outbox: fast}

	b.Broadcast(types.Frame{Type: types.FrameSyncAnimation, On: true})
	b.Broadcast(types.Frame{Type: types.FrameSyncAnimation, On: false})

	// The fast subscriber sees both; the slow one is gone, its channel
	// closed.
	_ = recvFrame(t, fast, 100*time.Millisecond)
	_ = recvFrame(t, fast, 100*time.Millisecond)

	select {
	case _, ok := <-slow:
		if ok {
			t.Fatalf("slow subscriber should have been closed, not served")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("slow subscriber channel was not closed")
	}
}

func TestBus_UnsubscribeClosesOutbox(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(ctx, zap.NewNop())

	out := make(chan types.Frame, 2)
	b.Inbox() <- Subscribe{ClientID: "c1", Outbox: out}
	b.Inbox() <- Unsubscribe{ClientID: "c1"}
	b.Broadcast(types.Frame{Type: types.FrameCloseModal})

	// The outbox must be closed (so a writer ranging over it exits) and must
	// carry no frame published after the unsubscribe.
	select {
	case f, ok := <-out:
		if ok {
			t.Fatalf("expected closed outbox after unsubscribe, got frame %+v", f)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("outbox was not closed on unsubscribe")
	}
}
