// Package session coordinates one lottery round across the control and
// presentation processes. It owns the round state machine
// (Idle -> Drawing -> Revealing -> ModalShown -> Idle), stages winner
// reveals on a timer, and fences out stale frames from previous rounds.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gachastage/gacha-backend/internal/bus"
	"github.com/gachastage/gacha-backend/internal/draw"
	"github.com/gachastage/gacha-backend/internal/model"
	"github.com/gachastage/gacha-backend/pkg/types"
)

var (
	ErrRoundInProgress = errors.New("a draw is already in progress")
	ErrNoPrizeSelected = errors.New("no prize selected")
	ErrPrizeNotFound   = errors.New("prize not found")
	ErrPrizeExhausted  = errors.New("prize has no remaining slots")
)

// BallColors is the palette a round's ball color is drawn from.
var BallColors = []string{
	"#FF6B6B", "#FFD93D", "#6BCB77", "#4D96FF", "#FF9F1C",
	"#845EC2", "#FF70A6", "#00C9A7", "#F9F871", "#FFAB76",
}

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseDrawing    Phase = "drawing"
	PhaseRevealing  Phase = "revealing"
	PhaseModalShown Phase = "modal_shown"
)

// Mode is the operator's draw-count policy: one winner, or every remaining
// slot of the prize in a single round.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeAll    Mode = "all"
)

// Store is the repository surface the coordinator needs.
type Store interface {
	Participants() ([]model.Participant, error)
	Prizes(includeDeleted bool) ([]model.Prize, error)
	WinnerRecords() ([]model.WinnerRecord, error)
	AddWinnerRecords([]model.WinnerRecord) (int, error)
	RevealRecord(recordID string) error
	RevealSession(sessionID string) error
	Settings() (model.Settings, error)
}

type Msg interface{ isSessionMsg() }

// StartDraw begins a round. PrizeID selects the prize directly; when empty,
// Group picks the next open prize for that group instead. Reply receives the
// validation outcome; on error the coordinator stays in Idle.
type StartDraw struct {
	PrizeID string
	Group   string
	Mode    Mode
	Reply   chan error
}

// AnimationDone is the presentation process reporting that the gacha
// animation finished; it commits the round and starts the staged reveal.
type AnimationDone struct{ SessionID string }

// Reveal is a single-record reveal sync, either from the reveal timer's tick
// on the control side or echoed from the presentation process.
type Reveal struct {
	SessionID string
	RecordID  string
}

// CloseModal dismisses the winner modal and returns to Idle.
type CloseModal struct{ SessionID string }

// Reset aborts the current round and cancels any pending reveals.
type Reset struct{}

// ToggleBoard shows or hides the winner board on the stage.
type ToggleBoard struct{ Show bool }

// GetView reflects coordinator state without data races; used by the
// recovery endpoint and tests.
type GetView struct{ Reply chan View }

type Shutdown struct{}

type revealTick struct{ gen int }

func (StartDraw) isSessionMsg()     {}
func (AnimationDone) isSessionMsg() {}
func (Reveal) isSessionMsg()        {}
func (CloseModal) isSessionMsg()    {}
func (Reset) isSessionMsg()         {}
func (ToggleBoard) isSessionMsg()   {}
func (GetView) isSessionMsg()       {}
func (Shutdown) isSessionMsg()      {}
func (revealTick) isSessionMsg()    {}

// View is a copy of the coordinator's round state.
type View struct {
	Version         int
	Phase           Phase
	SessionID       string
	BallColor       string
	SkipAnimation   bool
	Announcing      bool
	ShowWinnerModal bool
	ShowWinnerBoard bool
	Winners         []model.WinnerRecord
}

// Config tunes a Coordinator. Zero values fall back to defaults.
type Config struct {
	// RevealDelay is the pause between staged reveals when a round has more
	// than one winner.
	RevealDelay time.Duration
	Rand        *rand.Rand
	Log         *zap.Logger
}

type Coordinator struct {
	inbox chan Msg
	store Store
	bus   *bus.Bus
	log   *zap.Logger
	rng   *rand.Rand
	delay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	phase     Phase
	version   int
	sessionID string
	ballColor string
	skipAnim  bool
	// winners holds the current round's records in draw order. During
	// Drawing they exist only here; they are persisted when the round
	// commits.
	winners    []model.WinnerRecord
	revealIdx  int
	announcing bool
	showModal  bool
	showBoard  bool
	timerGen   int
	timer      *time.Timer
}

func New(parent context.Context, st Store, b *bus.Bus, cfg Config) *Coordinator {
	if cfg.RevealDelay <= 0 {
		cfg.RevealDelay = time.Second
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		inbox:  make(chan Msg, 64),
		store:  st,
		bus:    b,
		log:    cfg.Log,
		rng:    cfg.Rand,
		delay:  cfg.RevealDelay,
		ctx:    ctx,
		cancel: cancel,
		phase:  PhaseIdle,
	}
	go c.loop()
	return c
}

func (c *Coordinator) Inbox() chan<- Msg { return c.inbox }

// StartDraw is a synchronous convenience wrapper used by the HTTP layer.
func (c *Coordinator) StartDraw(prizeID, group string, mode Mode) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- StartDraw{PrizeID: prizeID, Group: group, Mode: mode, Reply: reply}:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// CurrentView is a synchronous wrapper around GetView.
func (c *Coordinator) CurrentView() (View, error) {
	reply := make(chan View, 1)
	select {
	case c.inbox <- GetView{Reply: reply}:
	case <-c.ctx.Done():
		return View{}, c.ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.ctx.Done():
		return View{}, c.ctx.Err()
	}
}

func (c *Coordinator) loop() {
	for {
		select {
		case <-c.ctx.Done():
			c.stopTimer()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case StartDraw:
				msg.Reply <- c.handleStartDraw(msg)

			case AnimationDone:
				c.handleAnimationDone(msg)

			case revealTick:
				c.handleRevealTick(msg)

			case Reveal:
				c.handleReveal(msg)

			case CloseModal:
				c.handleCloseModal(msg)

			case Reset:
				c.handleReset()

			case ToggleBoard:
				c.showBoard = msg.Show
				c.bus.Broadcast(types.Frame{Type: types.FrameToggleWinnerBoard, On: msg.Show})
				c.broadcastSnapshot()

			case GetView:
				msg.Reply <- c.view()

			case Shutdown:
				c.stopTimer()
				c.cancel()
				return
			}
		}
	}
}

func (c *Coordinator) handleStartDraw(msg StartDraw) error {
	if c.phase != PhaseIdle {
		return ErrRoundInProgress
	}

	participants, err := c.store.Participants()
	if err != nil {
		return err
	}
	records, err := c.store.WinnerRecords()
	if err != nil {
		return err
	}
	prizes, err := c.store.Prizes(false)
	if err != nil {
		return err
	}
	settings, err := c.store.Settings()
	if err != nil {
		return err
	}

	prize, err := resolvePrize(prizes, records, msg.PrizeID, msg.Group)
	if err != nil {
		return err
	}

	remaining := draw.RemainingSlots(prize, records)
	if remaining == 0 {
		return fmt.Errorf("%w: %q", ErrPrizeExhausted, prize.Name)
	}

	count := 1
	if msg.Mode == ModeAll {
		count = remaining
	}

	opts := draw.Options{SkipWinners: settings.SkipWinners, SelectedGroup: prize.Group}
	picked, err := draw.DrawMany(c.rng, participants, records, count, opts)
	if err != nil {
		return err
	}

	c.sessionID = "session-" + uuid.NewString()
	c.ballColor = BallColors[c.rng.Intn(len(BallColors))]
	c.skipAnim = settings.SkipAnimation
	c.revealIdx = 0

	now := time.Now().UnixMilli()
	c.winners = make([]model.WinnerRecord, 0, len(picked))
	for _, p := range picked {
		c.winners = append(c.winners, model.WinnerRecord{
			RecordID:      p.PID + "-" + uuid.NewString(),
			ParticipantID: p.PID,
			Name:          p.Name,
			EmployeeID:    p.EmployeeID,
			Department:    p.Department,
			Group:         prize.Group,
			PrizeID:       prize.PID,
			PrizeName:     prize.Name,
			Color:         c.ballColor,
			Timestamp:     now,
			SessionID:     c.sessionID,
			Revealed:      c.skipAnim,
		})
	}

	c.phase = PhaseDrawing
	c.log.Info("round started",
		zap.String("session_id", c.sessionID),
		zap.String("prize", prize.Name),
		zap.Int("winners", len(c.winners)),
		zap.Bool("skip_animation", c.skipAnim))

	c.bus.Broadcast(types.Frame{
		Type:          types.FrameStartDraw,
		SessionID:     c.sessionID,
		Winners:       c.winnerInfos(),
		BallColor:     c.ballColor,
		SkipAnimation: c.skipAnim,
	})

	if c.skipAnim {
		// No animation, no staged reveal: commit everything revealed and
		// jump straight to the modal.
		if _, err := c.store.AddWinnerRecords(c.winners); err != nil {
			c.log.Error("commit failed, aborting round", zap.Error(err))
			sid := c.sessionID
			c.toIdle()
			c.bus.Broadcast(types.Frame{Type: types.FrameResetAnimation, SessionID: sid})
			c.broadcastSnapshot()
			return err
		}
		c.revealIdx = len(c.winners)
		c.enterModal()
		return nil
	}

	c.bus.Broadcast(types.Frame{Type: types.FrameSyncAnimation, SessionID: c.sessionID, On: true})
	c.broadcastSnapshot()
	return nil
}

func resolvePrize(prizes []model.Prize, records []model.WinnerRecord, prizeID, group string) (model.Prize, error) {
	if prizeID != "" {
		for _, p := range prizes {
			if p.PID == prizeID {
				return p, nil
			}
		}
		return model.Prize{}, ErrPrizeNotFound
	}
	if group == "" {
		return model.Prize{}, ErrNoPrizeSelected
	}
	p, ok := draw.NextPrize(prizes, records, group)
	if !ok {
		return model.Prize{}, fmt.Errorf("%w for group %q", ErrPrizeNotFound, group)
	}
	return p, nil
}

func (c *Coordinator) handleAnimationDone(msg AnimationDone) {
	if msg.SessionID != c.sessionID {
		c.log.Debug("ignoring stale animation_done",
			zap.String("got", msg.SessionID), zap.String("current", c.sessionID))
		return
	}
	if c.phase != PhaseDrawing {
		return
	}

	// Commit the round: first record revealed immediately, the rest staged.
	for i := range c.winners {
		c.winners[i].Revealed = i == 0
	}
	if _, err := c.store.AddWinnerRecords(c.winners); err != nil {
		c.log.Error("commit failed, aborting round", zap.Error(err))
		sid := c.sessionID
		c.toIdle()
		c.bus.Broadcast(types.Frame{Type: types.FrameResetAnimation, SessionID: sid})
		c.broadcastSnapshot()
		return
	}
	c.revealIdx = 1

	c.phase = PhaseRevealing
	c.announcing = true
	c.bus.Broadcast(types.Frame{Type: types.FrameSyncAnimation, SessionID: c.sessionID, On: false})
	c.bus.Broadcast(types.Frame{Type: types.FrameSyncAnnouncing, SessionID: c.sessionID, On: true})
	c.bus.Broadcast(types.Frame{
		Type:      types.FrameRevealWinner,
		SessionID: c.sessionID,
		RecordID:  c.winners[0].RecordID,
	})
	c.broadcastSnapshot()
	c.afterReveal()
}

// afterReveal either finishes the round or arms the timer for the next
// staged reveal.
func (c *Coordinator) afterReveal() {
	if c.revealIdx >= len(c.winners) {
		c.enterModal()
		return
	}
	c.armTimer()
}

func (c *Coordinator) armTimer() {
	c.stopTimer()
	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(c.delay, func() {
		select {
		case c.inbox <- revealTick{gen: gen}:
		case <-c.ctx.Done():
		}
	})
}

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) handleRevealTick(msg revealTick) {
	// A stale generation means the round was reset or advanced past this
	// timer; late fires must not leak into a newer round.
	if msg.gen != c.timerGen || c.phase != PhaseRevealing {
		return
	}

	// The stage may have revealed ahead of the timer; skip anything already
	// revealed.
	for c.revealIdx < len(c.winners) && c.winners[c.revealIdx].Revealed {
		c.revealIdx++
	}
	if c.revealIdx >= len(c.winners) {
		c.enterModal()
		return
	}

	rec := &c.winners[c.revealIdx]
	if err := c.store.RevealRecord(rec.RecordID); err != nil {
		// Staged reveal broke; degrade to revealing everything at once so
		// the round still reaches the modal.
		c.log.Error("staged reveal failed, revealing all", zap.Error(err))
		if err := c.store.RevealSession(c.sessionID); err != nil {
			c.log.Error("reveal-all fallback failed", zap.Error(err))
		}
		for i := range c.winners {
			c.winners[i].Revealed = true
		}
		c.revealIdx = len(c.winners)
		c.enterModal()
		return
	}

	rec.Revealed = true
	c.revealIdx++
	c.bus.Broadcast(types.Frame{
		Type:      types.FrameRevealWinner,
		SessionID: c.sessionID,
		RecordID:  rec.RecordID,
	})
	c.broadcastSnapshot()
	c.afterReveal()
}

// handleReveal applies a reveal echoed by the presentation process. It keeps
// both processes' views consistent when the stage drives a reveal itself.
func (c *Coordinator) handleReveal(msg Reveal) {
	if msg.SessionID != c.sessionID {
		c.log.Debug("ignoring stale reveal", zap.String("record_id", msg.RecordID))
		return
	}
	if c.phase != PhaseRevealing {
		return
	}
	for i := range c.winners {
		if c.winners[i].RecordID != msg.RecordID || c.winners[i].Revealed {
			continue
		}
		if err := c.store.RevealRecord(msg.RecordID); err != nil {
			c.log.Error("reveal write failed", zap.Error(err))
			return
		}
		c.winners[i].Revealed = true
		if i == c.revealIdx {
			c.revealIdx++
		}
		c.broadcastSnapshot()
		c.afterReveal()
		return
	}
}

func (c *Coordinator) enterModal() {
	c.stopTimer()
	c.timerGen++
	c.phase = PhaseModalShown
	c.announcing = false
	c.showModal = true
	c.bus.Broadcast(types.Frame{Type: types.FrameSyncAnnouncing, SessionID: c.sessionID, On: false})
	c.bus.Broadcast(types.Frame{Type: types.FrameSyncWinnerModal, SessionID: c.sessionID, On: true})
	c.broadcastSnapshot()
	c.log.Info("round complete", zap.String("session_id", c.sessionID), zap.Int("winners", len(c.winners)))
}

func (c *Coordinator) handleCloseModal(msg CloseModal) {
	// Empty session id means a local operator action on the current round.
	if msg.SessionID != "" && msg.SessionID != c.sessionID {
		c.log.Debug("ignoring stale close_modal", zap.String("got", msg.SessionID))
		return
	}
	if c.phase != PhaseModalShown {
		return
	}
	sid := c.sessionID
	c.toIdle()
	c.bus.Broadcast(types.Frame{Type: types.FrameCloseModal, SessionID: sid})
	c.broadcastSnapshot()
}

func (c *Coordinator) handleReset() {
	sid := c.sessionID
	c.toIdle()
	c.bus.Broadcast(types.Frame{Type: types.FrameResetAnimation, SessionID: sid})
	c.broadcastSnapshot()
}

// toIdle clears all round-local ephemeral state, committed or not. Persisted
// winner records are never touched here; committed rounds stay committed in
// the store.
func (c *Coordinator) toIdle() {
	c.stopTimer()
	c.timerGen++
	c.phase = PhaseIdle
	c.announcing = false
	c.showModal = false
	c.sessionID = ""
	c.ballColor = ""
	c.skipAnim = false
	c.winners = nil
	c.revealIdx = 0
}

func (c *Coordinator) view() View {
	winners := append([]model.WinnerRecord(nil), c.winners...)
	return View{
		Version:         c.version,
		Phase:           c.phase,
		SessionID:       c.sessionID,
		BallColor:       c.ballColor,
		SkipAnimation:   c.skipAnim,
		Announcing:      c.announcing,
		ShowWinnerModal: c.showModal,
		ShowWinnerBoard: c.showBoard,
		Winners:         winners,
	}
}

func (c *Coordinator) winnerInfos() []types.WinnerInfo {
	out := make([]types.WinnerInfo, 0, len(c.winners))
	for _, w := range c.winners {
		out = append(out, types.WinnerInfo{
			RecordID:      w.RecordID,
			ParticipantID: w.ParticipantID,
			Name:          w.Name,
			EmployeeID:    w.EmployeeID,
			Department:    w.Department,
			Group:         w.Group,
			PrizeID:       w.PrizeID,
			PrizeName:     w.PrizeName,
			Color:         w.Color,
			Timestamp:     w.Timestamp,
			SessionID:     w.SessionID,
			Revealed:      w.Revealed,
		})
	}
	return out
}

func (c *Coordinator) broadcastSnapshot() {
	c.version++
	v := c.view()
	c.bus.Broadcast(types.Frame{
		Type:      types.FrameSnapshot,
		SessionID: c.sessionID,
		Snapshot: &types.RoundSnapshot{
			Version:         v.Version,
			Phase:           string(v.Phase),
			SessionID:       v.SessionID,
			BallColor:       v.BallColor,
			SkipAnimation:   v.SkipAnimation,
			Announcing:      v.Announcing,
			ShowWinnerModal: v.ShowWinnerModal,
			ShowWinnerBoard: v.ShowWinnerBoard,
			Winners:         c.winnerInfos(),
		},
	})
}
