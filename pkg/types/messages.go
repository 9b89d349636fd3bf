package types

// Frames travel on the lottery channel between the control process and the
// presentation process. One envelope type, discriminated by Type; unused
// fields stay empty on the wire.

type FrameType string

const (
	// Control -> everyone
	FrameStartDraw         FrameType = "start_draw"
	FrameCloseModal        FrameType = "close_modal"
	FrameResetAnimation    FrameType = "reset_animation"
	FrameToggleWinnerBoard FrameType = "toggle_winner_board"

	// Presentation -> everyone
	FrameAnimationDone FrameType = "animation_done"

	// Either side, state sync
	FrameSyncAnimation   FrameType = "sync_animation"
	FrameSyncAnnouncing  FrameType = "sync_announcing"
	FrameSyncWinnerModal FrameType = "sync_winner_modal"
	FrameRevealWinner    FrameType = "reveal_winner"

	// Server -> clients
	FrameSnapshot FrameType = "snapshot"
	FrameError    FrameType = "error"
)

// WinnerInfo is the wire form of one winner record.
type WinnerInfo struct {
	RecordID      string `json:"record_id"`
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	EmployeeID    string `json:"employee_id,omitempty"`
	Department    string `json:"department,omitempty"`
	Group         string `json:"group"`
	PrizeID       string `json:"prize_id"`
	PrizeName     string `json:"prize_name"`
	Color         string `json:"color"`
	Timestamp     int64  `json:"timestamp"`
	SessionID     string `json:"session_id"`
	Revealed      bool   `json:"revealed"`
}

type Frame struct {
	Type FrameType `json:"type"`

	// Session fencing: receivers drop reveal/close/done frames whose
	// SessionID does not match their current round.
	SessionID string `json:"session_id,omitempty"`

	// start_draw
	Winners       []WinnerInfo `json:"winners,omitempty"`
	BallColor     string       `json:"ball_color,omitempty"`
	SkipAnimation bool         `json:"skip_animation,omitempty"`

	// reveal_winner
	RecordID string `json:"record_id,omitempty"`

	// sync_* and toggle_winner_board
	On bool `json:"on,omitempty"`

	// snapshot
	Snapshot *RoundSnapshot `json:"snapshot,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}
