package types

// RoundSnapshot is the full round state a client needs to converge after a
// reload or a missed frame. Versions increase by one per coordinator
// transition; a client that sees a gap should refetch /state.
type RoundSnapshot struct {
	Version         int          `json:"version"`
	Phase           string       `json:"phase"` // "idle" | "drawing" | "revealing" | "modal_shown"
	SessionID       string       `json:"session_id,omitempty"`
	BallColor       string       `json:"ball_color,omitempty"`
	SkipAnimation   bool         `json:"skip_animation"`
	Announcing      bool         `json:"announcing"`
	ShowWinnerModal bool         `json:"show_winner_modal"`
	ShowWinnerBoard bool         `json:"show_winner_board"`
	Winners         []WinnerInfo `json:"winners,omitempty"`
}
