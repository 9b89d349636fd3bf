package session

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gachastage/gacha-backend/internal/bus"
	"github.com/gachastage/gacha-backend/internal/model"
	"github.com/gachastage/gacha-backend/internal/store"
	"github.com/gachastage/gacha-backend/pkg/types"
)

type fixture struct {
	store *store.Store
	bus   *bus.Bus
	coord *Coordinator
	out   chan types.Frame
}

func newFixture(t *testing.T, revealDelay time.Duration) *fixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := bus.New(ctx, zap.NewNop())
	c := New(ctx, s, b, Config{
		RevealDelay: revealDelay,
		Rand:        rand.New(rand.NewSource(1)),
		Log:         zap.NewNop(),
	})

	// Generous buffer so the test subscriber never gets dropped as slow.
	out := make(chan types.Frame, 128)
	b.Inbox() <- bus.Subscribe{ClientID: "test", Outbox: out}

	return &fixture{store: s, bus: b, coord: c, out: out}
}

func (f *fixture) seed(t *testing.T, participants int, prizeQty int) {
	t.Helper()
	list := make([]model.Participant, 0, participants)
	for i := 0; i < participants; i++ {
		list = append(list, model.Participant{
			PID:   string(rune('a' + i)),
			Name:  "P" + string(rune('a'+i)),
			Group: "A",
		})
	}
	require.NoError(t, f.store.ReplaceParticipants(list))
	require.NoError(t, f.store.AddPrize(model.Prize{
		PID: "p1", Name: "Gold", Level: 1, Quantity: prizeQty, Group: "A",
	}))
}

// waitFrame scans the subscriber channel for a frame type with a timeout so
// tests never hang.
func waitFrame(t *testing.T, ch <-chan types.Frame, want types.FrameType, within time.Duration) types.Frame {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				t.Fatalf("bus closed while waiting for %s", want)
			}
			if f.Type == want {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", want)
			return types.Frame{}
		}
	}
}

func waitNoFrame(t *testing.T, ch <-chan types.Frame, avoid types.FrameType, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return
			}
			if f.Type == avoid {
				t.Fatalf("unexpected %s frame: %+v", avoid, f)
			}
		case <-deadline:
			return
		}
	}
}

func TestStartDraw_ValidationFailureStaysIdle(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	// No participants at all.
	require.NoError(t, f.store.AddPrize(model.Prize{PID: "p1", Name: "Gold", Quantity: 1, Group: "A"}))

	err := f.coord.StartDraw("p1", "", ModeSingle)
	require.Error(t, err)

	v, err := f.coord.CurrentView()
	require.NoError(t, err)
	require.Equal(t, PhaseIdle, v.Phase)

	recs, err := f.store.WinnerRecords()
	require.NoError(t, err)
	require.Empty(t, recs, "validation failures must not leave partial records")
}

func TestStartDraw_UnknownPrize(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.seed(t, 3, 1)

	err := f.coord.StartDraw("nope", "", ModeSingle)
	require.ErrorIs(t, err, ErrPrizeNotFound)

	err = f.coord.StartDraw("", "", ModeSingle)
	require.ErrorIs(t, err, ErrNoPrizeSelected)
}

// Skip-animation rounds commit every record revealed in one batch and land
// directly on the modal, never passing through Revealing.
func TestSkipAnimation_BatchesToModal(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.seed(t, 5, 3)
	require.NoError(t, f.store.SetSkipAnimation(true))

	require.NoError(t, f.coord.StartDraw("p1", "", ModeAll))

	start := waitFrame(t, f.out, types.FrameStartDraw, time.Second)
	require.Len(t, start.Winners, 3)
	for _, w := range start.Winners {
		require.True(t, w.Revealed)
	}
	require.True(t, start.SkipAnimation)

	waitFrame(t, f.out, types.FrameSyncWinnerModal, time.Second)

	v, err := f.coord.CurrentView()
	require.NoError(t, err)
	require.Equal(t, PhaseModalShown, v.Phase)

	recs, err := f.store.SessionRecords(v.SessionID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		require.True(t, r.Revealed)
	}
}

// Animated rounds: nothing is persisted until the stage reports the
// animation finished; then the first record reveals immediately and the rest
// follow on the delay, ending at the modal.
func TestAnimatedRound_StagedReveal(t *testing.T) {
	f := newFixture(t, 150*time.Millisecond)
	f.seed(t, 5, 2)

	require.NoError(t, f.coord.StartDraw("p1", "", ModeAll))

	start := waitFrame(t, f.out, types.FrameStartDraw, time.Second)
	require.Len(t, start.Winners, 2)
	for _, w := range start.Winners {
		require.False(t, w.Revealed)
	}

	recs, err := f.store.WinnerRecords()
	require.NoError(t, err)
	require.Empty(t, recs, "records commit at animation end, not draw start")

	f.coord.Inbox() <- AnimationDone{SessionID: start.SessionID}

	first := waitFrame(t, f.out, types.FrameRevealWinner, time.Second)
	require.Equal(t, start.Winners[0].RecordID, first.RecordID)

	recs, err = f.store.SessionRecords(start.SessionID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.True(t, recs[0].Revealed, "first record reveals on entering Revealing")
	require.False(t, recs[1].Revealed, "second record waits for the delay")

	second := waitFrame(t, f.out, types.FrameRevealWinner, time.Second)
	require.Equal(t, start.Winners[1].RecordID, second.RecordID)

	modal := waitFrame(t, f.out, types.FrameSyncWinnerModal, time.Second)
	require.True(t, modal.On)

	recs, err = f.store.SessionRecords(start.SessionID)
	require.NoError(t, err)
	require.True(t, recs[1].Revealed)

	v, err := f.coord.CurrentView()
	require.NoError(t, err)
	require.Equal(t, PhaseModalShown, v.Phase)
}

func TestStartDraw_RejectedWhileRevealing(t *testing.T) {
	f := newFixture(t, time.Second)
	f.seed(t, 5, 2)

	require.NoError(t, f.coord.StartDraw("p1", "", ModeAll))
	start := waitFrame(t, f.out, types.FrameStartDraw, time.Second)
	f.coord.Inbox() <- AnimationDone{SessionID: start.SessionID}
	waitFrame(t, f.out, types.FrameRevealWinner, time.Second)

	err := f.coord.StartDraw("p1", "", ModeSingle)
	require.ErrorIs(t, err, ErrRoundInProgress)
}

// Stale reveal and close frames from a previous round are dropped.
func TestSessionFencing(t *testing.T) {
	f := newFixture(t, time.Second)
	f.seed(t, 5, 2)

	require.NoError(t, f.coord.StartDraw("p1", "", ModeAll))
	start := waitFrame(t, f.out, types.FrameStartDraw, time.Second)
	f.coord.Inbox() <- AnimationDone{SessionID: start.SessionID}
	waitFrame(t, f.out, types.FrameRevealWinner, time.Second)

	// A stale close must not end the round.
	f.coord.Inbox() <- CloseModal{SessionID: "session-old"}
	// A stale reveal must not touch records.
	f.coord.Inbox() <- Reveal{SessionID: "session-old", RecordID: start.Winners[1].RecordID}

	v, err := f.coord.CurrentView()
	require.NoError(t, err)
	require.Equal(t, PhaseRevealing, v.Phase)

	recs, err := f.store.SessionRecords(start.SessionID)
	require.NoError(t, err)
	require.False(t, recs[1].Revealed)

	// A stale animation_done from a reloaded stage is equally harmless.
	f.coord.Inbox() <- AnimationDone{SessionID: "session-old"}
	v, err = f.coord.CurrentView()
	require.NoError(t, err)
	require.Equal(t, PhaseRevealing, v.Phase)
}

// Reset mid-reveal cancels the pending timer; no late reveal leaks out.
func TestReset_CancelsPendingReveals(t *testing.T) {
	f := newFixture(t, 150*time.Millisecond)
	f.seed(t, 5, 3)

	require.NoError(t, f.coord.StartDraw("p1", "", ModeAll))
	start := waitFrame(t, f.out, types.FrameStartDraw, time.Second)
	f.coord.Inbox() <- AnimationDone{SessionID: start.SessionID}
	waitFrame(t, f.out, types.FrameRevealWinner, time.Second)

	f.coord.Inbox() <- Reset{}
	waitFrame(t, f.out, types.FrameResetAnimation, time.Second)

	// Well past the reveal delay: nothing else may reveal.
	waitNoFrame(t, f.out, types.FrameRevealWinner, 400*time.Millisecond)

	v, err := f.coord.CurrentView()
	require.NoError(t, err)
	require.Equal(t, PhaseIdle, v.Phase)

	// Committed records survive the abort untouched.
	recs, err := f.store.SessionRecords(start.SessionID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.True(t, recs[0].Revealed)
	require.False(t, recs[1].Revealed)
}

func TestCloseModal_ReturnsToIdleKeepsRecords(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	f.seed(t, 5, 1)
	require.NoError(t, f.store.SetSkipAnimation(true))

	require.NoError(t, f.coord.StartDraw("p1", "", ModeAll))
	waitFrame(t, f.out, types.FrameSyncWinnerModal, time.Second)

	// Empty session id: local operator close of the current round.
	f.coord.Inbox() <- CloseModal{}
	waitFrame(t, f.out, types.FrameCloseModal, time.Second)

	v, err := f.coord.CurrentView()
	require.NoError(t, err)
	require.Equal(t, PhaseIdle, v.Phase)
	require.False(t, v.ShowWinnerModal)

	// Round-local view is gone: an idle coordinator no longer reports the
	// closed round's session or winners.
	require.Empty(t, v.SessionID)
	require.Empty(t, v.Winners)

	recs, err := f.store.WinnerRecords()
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

// Drawing all remaining slots twice exhausts the prize; the next attempt is
// a capacity error and creates no records.
func TestPrizeExhaustion(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	f.seed(t, 5, 2)
	require.NoError(t, f.store.SetSkipAnimation(true))
	require.NoError(t, f.store.SetSkipWinners(false))

	require.NoError(t, f.coord.StartDraw("p1", "", ModeAll))
	waitFrame(t, f.out, types.FrameSyncWinnerModal, time.Second)
	f.coord.Inbox() <- CloseModal{}
	waitFrame(t, f.out, types.FrameCloseModal, time.Second)

	err := f.coord.StartDraw("p1", "", ModeSingle)
	require.ErrorIs(t, err, ErrPrizeExhausted)

	recs, err := f.store.WinnerRecords()
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

// With no explicit prize, the draw auto-advances to the group's open prize
// with the lowest level.
func TestStartDraw_AutoAdvanceByGroup(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	f.seed(t, 5, 1) // p1, level 1
	require.NoError(t, f.store.AddPrize(model.Prize{
		PID: "p0", Name: "Grand", Level: 0, Quantity: 1, Group: "A",
	}))
	require.NoError(t, f.store.SetSkipAnimation(true))

	require.NoError(t, f.coord.StartDraw("", "A", ModeAll))
	start := waitFrame(t, f.out, types.FrameStartDraw, time.Second)
	require.Equal(t, "p0", start.Winners[0].PrizeID, "lowest level drawn first")
}

// A stage reveal echo advances the round the same way the timer would.
func TestRemoteRevealAdvancesRound(t *testing.T) {
	f := newFixture(t, time.Hour) // timer never fires on its own
	f.seed(t, 5, 2)

	require.NoError(t, f.coord.StartDraw("p1", "", ModeAll))
	start := waitFrame(t, f.out, types.FrameStartDraw, time.Second)
	f.coord.Inbox() <- AnimationDone{SessionID: start.SessionID}
	waitFrame(t, f.out, types.FrameRevealWinner, time.Second)

	f.coord.Inbox() <- Reveal{SessionID: start.SessionID, RecordID: start.Winners[1].RecordID}
	modal := waitFrame(t, f.out, types.FrameSyncWinnerModal, time.Second)
	require.True(t, modal.On)

	recs, err := f.store.SessionRecords(start.SessionID)
	require.NoError(t, err)
	require.True(t, recs[1].Revealed)
}
