// Package room holds the server-side room actor: one goroutine per room,
// fed by a typed inbox, broadcasting a personalized total snapshot to every
// attached client after each change.
package room

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/partycrab/lobby/pkg/protocol"
)

type Msg interface{ isRoomMsg() }

// Join attaches a connection to a seat. With a ResumeID matching a known
// seat it re-attaches that seat (replacing any outbox already bound to it,
// so replayed joins converge on one seat); otherwise a new seat is created.
type Join struct {
	ResumeID *int
	Name     string
	Outbox   chan protocol.Envelope
	Reply    chan int // assigned player id
}

func (Join) isRoomMsg() {}

// Leave detaches a connection. The seat stays, waiting for a resume.
// Outbox identifies the leaving connection: if the seat was already taken
// over by a newer connection, the stale Leave is a no-op.
type Leave struct {
	PlayerID int
	Outbox   chan protocol.Envelope
}

func (Leave) isRoomMsg() {}

type FromClient struct {
	PlayerID int
	Cmd      Command
}

func (FromClient) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

// GetState reflects internal state without data races; test-only.
type GetState struct{ Reply chan View }

func (GetState) isRoomMsg() {}

type View struct {
	NumClients int
	State      State
}

type Room struct {
	inbox   chan Msg
	state   State
	clients map[int]chan protocol.Envelope
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewRoom(parent context.Context, log *zap.Logger) *Room {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	r := &Room{
		inbox:   make(chan Msg, 64),
		state:   NewState(),
		clients: make(map[int]chan protocol.Envelope),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				id := r.attach(msg)
				msg.Reply <- id
				r.broadcast()

			case Leave:
				if ch, ok := r.clients[msg.PlayerID]; ok && ch == msg.Outbox {
					delete(r.clients, msg.PlayerID)
					close(ch)
				}

			case FromClient:
				_, newState, err := Apply(r.state, msg.Cmd)
				if err != nil {
					r.reject(msg.PlayerID, err)
					break
				}
				r.state = newState
				r.broadcast()

			case GetState:
				msg.Reply <- View{NumClients: len(r.clients), State: r.state}

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) attach(msg Join) int {
	id := -1
	if msg.ResumeID != nil && indexByID(r.state.Players, *msg.ResumeID) >= 0 {
		id = *msg.ResumeID
	} else {
		events, newState, err := Apply(r.state, Command{Type: CmdSeatPlayer, Name: msg.Name})
		if err != nil || len(events) == 0 {
			// seating can't actually fail today, but don't trust that forever
			r.log.Error("seat player failed", zap.Error(err))
			return -1
		}
		r.state = newState
		id = events[0].PlayerID
	}

	// One outbox per seat: a stale connection bound to this seat gets its
	// channel closed, which tells its handler to hang up.
	if old, ok := r.clients[id]; ok && old != msg.Outbox {
		close(old)
	}
	r.clients[id] = msg.Outbox
	return id
}

// reject surfaces a command failure to just the sender. Only the name
// collision maps to a protocol message; everything else is dropped the way
// an out-of-turn command is.
func (r *Room) reject(playerID int, err error) {
	if !errors.Is(err, ErrNameTaken) {
		r.log.Debug("command rejected", zap.Int("player", playerID), zap.Error(err))
		return
	}
	ch, ok := r.clients[playerID]
	if !ok {
		return
	}
	select {
	case ch <- protocol.Envelope{Type: protocol.MsgInvalidName}:
	default:
		close(ch)
		delete(r.clients, playerID)
	}
}

func (r *Room) shutdown() {
	for id, ch := range r.clients {
		close(ch)
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Room) broadcast() {
	for id, ch := range r.clients {
		env, err := r.snapshotFor(id)
		if err != nil {
			r.log.Error("marshal snapshot failed", zap.Error(err))
			continue
		}
		select {
		case ch <- env:
			// ok
		default:
			// Client is slow/full - drop them; they can resume their seat.
			close(ch)
			delete(r.clients, id)
		}
	}
}

// snapshotFor builds the full-replacement update for one seat. Everything
// is shared except me.
func (r *Room) snapshotFor(id int) (protocol.Envelope, error) {
	snap := protocol.Snapshot{
		Status:         r.state.Status,
		PlayerList:     append([]protocol.Player(nil), r.state.Players...),
		SelectedGameID: r.state.SelectedGameID,
		GameState:      r.state.GameState,
	}
	if i := indexByID(r.state.Players, id); i >= 0 {
		snap.Me = r.state.Players[i]
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Envelope{Type: protocol.MsgUpdate, Payload: payload}, nil
}
