package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/gachastage/gacha-backend/internal/bus"
	"github.com/gachastage/gacha-backend/internal/session"
	"github.com/gachastage/gacha-backend/pkg/types"
)

// Handler bridges one browser process (control or stage tab) onto the
// lottery channel: frames published on the bus are pushed down the socket,
// and inbound frames become coordinator messages.
func Handler(b *bus.Bus, coord *session.Coordinator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan types.Frame, 16)
		clientID := randID(6)

		b.Inbox() <- bus.Subscribe{ClientID: clientID, Outbox: out}
		defer func() { b.Inbox() <- bus.Unsubscribe{ClientID: clientID} }()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for frame := range out {
				payload, _ := json.Marshal(frame)
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var frame types.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}

			msg, ok := toSessionMsg(frame)
			if !ok {
				log.Debug("unknown client frame", zap.String("type", string(frame.Type)))
				writeError(r.Context(), conn, "unknown type")
				continue
			}
			coord.Inbox() <- msg
		}
	}
}

// toSessionMsg maps the client-originated frame kinds onto coordinator
// messages. Draws are initiated over HTTP, not the socket, so start_draw is
// not accepted here.
func toSessionMsg(f types.Frame) (session.Msg, bool) {
	switch f.Type {
	case types.FrameAnimationDone:
		return session.AnimationDone{SessionID: f.SessionID}, true
	case types.FrameRevealWinner:
		return session.Reveal{SessionID: f.SessionID, RecordID: f.RecordID}, true
	case types.FrameCloseModal:
		return session.CloseModal{SessionID: f.SessionID}, true
	case types.FrameResetAnimation:
		return session.Reset{}, true
	case types.FrameToggleWinnerBoard:
		return session.ToggleBoard{Show: f.On}, true
	default:
		return nil, false
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.Frame{Type: types.FrameError, Error: msg})
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
