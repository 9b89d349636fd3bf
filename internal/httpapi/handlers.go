package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gachastage/gacha-backend/internal/bus"
	"github.com/gachastage/gacha-backend/internal/draw"
	"github.com/gachastage/gacha-backend/internal/model"
	"github.com/gachastage/gacha-backend/internal/session"
	"github.com/gachastage/gacha-backend/internal/store"
)

type API struct {
	Store *store.Store
	Coord *session.Coordinator
	Bus   *bus.Bus
	Log   *zap.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeErr maps the module's sentinel errors onto statuses: configuration
// and capacity failures are 422 so the operator sees the precise cause,
// conflicts are 409, unknown ids are 404.
func (a *API) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrPrizeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrRoundInProgress), errors.Is(err, store.ErrDuplicateID):
		status = http.StatusConflict
	case errors.Is(err, draw.ErrNoParticipants),
		errors.Is(err, draw.ErrNoneEligible),
		errors.Is(err, draw.ErrNotEnough),
		errors.Is(err, session.ErrPrizeExhausted),
		errors.Is(err, session.ErrNoPrizeSelected),
		errors.Is(err, store.ErrQuantityBelowWon):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrMissingGroup),
		errors.Is(err, store.ErrMissingName),
		errors.Is(err, store.ErrNonPositiveQuantity):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		a.Log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// --- participants ---

type importParticipantsReq struct {
	// Mode is "replace" (default) or "append".
	Mode         string              `json:"mode,omitempty"`
	Participants []model.Participant `json:"participants"`
}

func (a *API) ListParticipants(w http.ResponseWriter, r *http.Request) {
	list, err := a.Store.Participants()
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) ImportParticipants(w http.ResponseWriter, r *http.Request) {
	var req importParticipantsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json"})
		return
	}
	var err error
	if req.Mode == "append" {
		err = a.Store.AppendParticipants(req.Participants)
	} else {
		err = a.Store.ReplaceParticipants(req.Participants)
	}
	if err != nil {
		a.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.RemoveParticipant(chi.URLParam(r, "id")); err != nil {
		a.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ClearParticipants(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.ClearParticipants(); err != nil {
		a.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- prizes ---

func (a *API) ListPrizes(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	list, err := a.Store.Prizes(includeDeleted)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) AddPrize(w http.ResponseWriter, r *http.Request) {
	var p model.Prize
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json"})
		return
	}
	if err := a.Store.AddPrize(p); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type prizeUpdateReq struct {
	Name     *string `json:"name,omitempty"`
	Level    *int    `json:"level,omitempty"`
	Quantity *int    `json:"quantity,omitempty"`
	Group    *string `json:"group,omitempty"`
}

func (a *API) UpdatePrize(w http.ResponseWriter, r *http.Request) {
	var req prizeUpdateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json"})
		return
	}
	err := a.Store.UpdatePrize(chi.URLParam(r, "id"), store.PrizeUpdate{
		Name:     req.Name,
		Level:    req.Level,
		Quantity: req.Quantity,
		Group:    req.Group,
	})
	if err != nil {
		a.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) DeletePrize(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.SoftDeletePrize(chi.URLParam(r, "id")); err != nil {
		a.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- round control ---

type startDrawReq struct {
	PrizeID string `json:"prize_id,omitempty"`
	Group   string `json:"group,omitempty"`
	Mode    string `json:"mode,omitempty"` // "single" (default) or "all"
}

func (a *API) StartDraw(w http.ResponseWriter, r *http.Request) {
	var req startDrawReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json"})
		return
	}
	mode := session.ModeSingle
	if req.Mode == string(session.ModeAll) {
		mode = session.ModeAll
	}
	if err := a.Coord.StartDraw(req.PrizeID, req.Group, mode); err != nil {
		a.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) Reset(w http.ResponseWriter, r *http.Request) {
	a.Coord.Inbox() <- session.Reset{}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) CloseModal(w http.ResponseWriter, r *http.Request) {
	a.Coord.Inbox() <- session.CloseModal{}
	w.WriteHeader(http.StatusAccepted)
}

// --- state & records ---

type stateResp struct {
	Phase           string               `json:"phase"`
	SessionID       string               `json:"session_id,omitempty"`
	BallColor       string               `json:"ball_color,omitempty"`
	SkipAnimation   bool                 `json:"skip_animation"`
	Announcing      bool                 `json:"announcing"`
	ShowWinnerModal bool                 `json:"show_winner_modal"`
	ShowWinnerBoard bool                 `json:"show_winner_board"`
	SessionRecords  []model.WinnerRecord `json:"session_records"`
}

// State is the recovery endpoint: a reloaded process reconstructs the
// current round from the persisted records filtered by the current session
// id, since bus frames are never replayed.
func (a *API) State(w http.ResponseWriter, r *http.Request) {
	v, err := a.Coord.CurrentView()
	if err != nil {
		a.writeErr(w, err)
		return
	}
	var recs []model.WinnerRecord
	if v.SessionID != "" {
		recs, err = a.Store.SessionRecords(v.SessionID)
		if err != nil {
			a.writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, stateResp{
		Phase:           string(v.Phase),
		SessionID:       v.SessionID,
		BallColor:       v.BallColor,
		SkipAnimation:   v.SkipAnimation,
		Announcing:      v.Announcing,
		ShowWinnerModal: v.ShowWinnerModal,
		ShowWinnerBoard: v.ShowWinnerBoard,
		SessionRecords:  recs,
	})
}

func (a *API) ListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := a.Store.WinnerRecords()
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *API) ClearRecords(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.ClearWinnerRecords(); err != nil {
		a.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Statistics(w http.ResponseWriter, r *http.Request) {
	participants, err := a.Store.Participants()
	if err != nil {
		a.writeErr(w, err)
		return
	}
	prizes, err := a.Store.Prizes(true)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	records, err := a.Store.WinnerRecords()
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draw.Stats(participants, prizes, records))
}

// --- settings ---

type settingsReq struct {
	SkipWinners   *bool `json:"skip_winners,omitempty"`
	SkipAnimation *bool `json:"skip_animation,omitempty"`
}

func (a *API) GetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := a.Store.Settings()
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json"})
		return
	}
	if req.SkipWinners != nil {
		if err := a.Store.SetSkipWinners(*req.SkipWinners); err != nil {
			a.writeErr(w, err)
			return
		}
	}
	if req.SkipAnimation != nil {
		if err := a.Store.SetSkipAnimation(*req.SkipAnimation); err != nil {
			a.writeErr(w, err)
			return
		}
	}
	a.GetSettings(w, r)
}
