// Package draw is the pure lottery core: eligibility filtering, validation
// and fair selection. It never touches storage and never mutates its inputs;
// callers pass in the current pool and winner history and get fresh slices
// back.
package draw

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/gachastage/gacha-backend/internal/model"
)

var (
	ErrNoParticipants = errors.New("no participants imported")
	ErrNoneEligible   = errors.New("all participants have already won")
	ErrNotEnough      = errors.New("not enough eligible participants")
)

// Options narrows the eligible pool for one draw.
type Options struct {
	// SkipWinners excludes anyone with at least one winner record, from any
	// session and any prize.
	SkipWinners bool
	// SelectedGroup, when non-empty, keeps only participants whose group
	// matches exactly.
	SelectedGroup string
}

// Eligible returns the participants allowed to compete under opts, in the
// insertion order of the source list. An empty result is valid here; Validate
// turns it into an operator-facing error.
func Eligible(participants []model.Participant, records []model.WinnerRecord, opts Options) []model.Participant {
	won := make(map[string]bool, len(records))
	if opts.SkipWinners {
		for _, r := range records {
			won[r.ParticipantID] = true
		}
	}

	out := make([]model.Participant, 0, len(participants))
	for _, p := range participants {
		if opts.SkipWinners && won[p.PID] {
			continue
		}
		if opts.SelectedGroup != "" && p.Group != opts.SelectedGroup {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Validation is the outcome of checking a draw request before any winner is
// selected.
type Validation struct {
	Valid          bool
	AvailableCount int
	Err            error
}

// Validate checks whether required winners can be drawn under opts. Rules
// apply in order: empty total pool, empty eligible pool (group-specific
// wording when a group was selected), then shortfall.
func Validate(participants []model.Participant, records []model.WinnerRecord, required int, opts Options) Validation {
	if len(participants) == 0 {
		return Validation{Err: ErrNoParticipants}
	}

	available := len(Eligible(participants, records, opts))
	if available == 0 {
		err := ErrNoneEligible
		if opts.SelectedGroup != "" {
			err = fmt.Errorf("%w in group %q", ErrNoneEligible, opts.SelectedGroup)
		}
		return Validation{Err: err}
	}
	if available < required {
		return Validation{
			AvailableCount: available,
			Err:            fmt.Errorf("%w: need %d, only %d left", ErrNotEnough, required, available),
		}
	}
	return Validation{Valid: true, AvailableCount: available}
}

// DrawMany selects count distinct winners uniformly at random from the
// eligible pool, or fails atomically: on any validation error no winners are
// returned. count == 0 is valid and returns an empty slice.
func DrawMany(rng *rand.Rand, participants []model.Participant, records []model.WinnerRecord, count int, opts Options) ([]model.Participant, error) {
	if count == 0 {
		return []model.Participant{}, nil
	}

	v := Validate(participants, records, count, opts)
	if !v.Valid {
		return nil, v.Err
	}

	// Fisher-Yates over a copy; the first count entries of an unbiased
	// permutation are an unbiased sample without replacement.
	shuffled := append([]model.Participant(nil), Eligible(participants, records, opts)...)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:count], nil
}

// RemainingSlots reports how many winner slots a prize still has. Records
// match by prize id when present; rows from before prize ids were tracked
// fall back to matching the prize name snapshot.
func RemainingSlots(prize model.Prize, records []model.WinnerRecord) int {
	used := 0
	for _, r := range records {
		if r.PrizeID != "" {
			if r.PrizeID == prize.PID {
				used++
			}
			continue
		}
		if r.PrizeName == prize.Name {
			used++
		}
	}
	if used >= prize.Quantity {
		return 0
	}
	return prize.Quantity - used
}

// NextPrize picks the prize a draw auto-advances to for a group: the first
// non-deleted prize with open slots, lowest level first, insertion order
// breaking ties. The prizes slice is assumed to be in insertion order.
func NextPrize(prizes []model.Prize, records []model.WinnerRecord, group string) (model.Prize, bool) {
	var best model.Prize
	found := false
	for _, p := range prizes {
		if p.IsDeleted || p.Group != group {
			continue
		}
		if RemainingSlots(p, records) == 0 {
			continue
		}
		if !found || p.Level < best.Level {
			best = p
			found = true
		}
	}
	return best, found
}

// Statistics is the control-panel summary block.
type Statistics struct {
	TotalParticipants     int  `json:"total_participants"`
	TotalWinners          int  `json:"total_winners"`
	AvailableParticipants int  `json:"available_participants"`
	TotalPrizeSlots       int  `json:"total_prize_slots"`
	AllDrawn              bool `json:"all_drawn"`
}

// Stats summarizes the pool against the winner history. TotalWinners counts
// distinct participants, not records.
func Stats(participants []model.Participant, prizes []model.Prize, records []model.WinnerRecord) Statistics {
	won := make(map[string]bool, len(records))
	for _, r := range records {
		won[r.ParticipantID] = true
	}
	slots := 0
	for _, p := range prizes {
		if !p.IsDeleted {
			slots += p.Quantity
		}
	}
	st := Statistics{
		TotalParticipants: len(participants),
		TotalWinners:      len(won),
		TotalPrizeSlots:   slots,
	}
	st.AvailableParticipants = st.TotalParticipants - st.TotalWinners
	st.AllDrawn = st.AvailableParticipants == 0 && st.TotalParticipants > 0
	return st
}
