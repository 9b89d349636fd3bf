// Package bus is the origin-scoped broadcast channel: every connected
// process (control page, stage page) subscribes and sees every published
// frame. Delivery is best-effort pub/sub with no replay; durability lives in
// the store, and receivers are expected to fence by session id.
package bus

import (
	"context"

	"go.uber.org/zap"

	"github.com/gachastage/gacha-backend/pkg/types"
)

type Msg interface{ isBusMsg() }

type Subscribe struct {
	ClientID string
	Outbox   chan types.Frame
}

type Unsubscribe struct{ ClientID string }

type Publish struct{ Frame types.Frame }

type Shutdown struct{}

func (Subscribe) isBusMsg()   {}
func (Unsubscribe) isBusMsg() {}
func (Publish) isBusMsg()     {}
func (Shutdown) isBusMsg()    {}

type Bus struct {
	inbox  chan Msg
	subs   map[string]chan types.Frame
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

func New(parent context.Context, log *zap.Logger) *Bus {
	ctx, cancel := context.WithCancel(parent)
	b := &Bus{
		inbox:  make(chan Msg, 64),
		subs:   make(map[string]chan types.Frame),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	go b.loop()
	return b
}

func (b *Bus) Inbox() chan<- Msg { return b.inbox }

// Broadcast is a convenience wrapper for Publish.
func (b *Bus) Broadcast(f types.Frame) {
	select {
	case b.inbox <- Publish{Frame: f}:
	case <-b.ctx.Done():
	}
}

func (b *Bus) loop() {
	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return

		case m := <-b.inbox:
			switch msg := m.(type) {
			case Subscribe:
				b.subs[msg.ClientID] = msg.Outbox

			case Unsubscribe:
				// Close so the subscriber's writer loop terminates; it may
				// already be gone if it was dropped as slow.
				if ch, ok := b.subs[msg.ClientID]; ok {
					close(ch)
					delete(b.subs, msg.ClientID)
				}

			case Publish:
				for id, ch := range b.subs {
					select {
					case ch <- msg.Frame:
					default:
						// Subscriber is slow/full - drop it.
						b.log.Warn("dropping slow subscriber", zap.String("client_id", id))
						close(ch)
						delete(b.subs, id)
					}
				}

			case Shutdown:
				b.shutdown()
				return
			}
		}
	}
}

func (b *Bus) shutdown() {
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.cancel()
}
