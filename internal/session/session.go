// Package session holds the client-side state machine for a lobby session.
// It runs as a single goroutine fed by a typed inbox; every inbound protocol
// event lands here in arrival order, and the one mutable view object is
// written from this loop only.
package session

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/partycrab/lobby/pkg/protocol"
)

// NoticeNameTaken is the blocking notice shown on a name collision.
const NoticeNameTaken = "Name already in use"

type Phase string

const (
	PhaseLoading      Phase = "loading"
	PhaseAwaitingName Phase = "awaiting-name"
	PhaseLobby        Phase = "lobby"
	PhaseInGame       Phase = "ingame"
)

// View is everything a renderer needs. It is a value; renderers own their
// copy and can never mutate the session through it.
type View struct {
	Phase          Phase
	PlayerList     []protocol.Player
	Me             protocol.Player
	SelectedGameID string
	GameState      json.RawMessage
	Reconnecting   bool
	Notice         string
	Ended          bool
}

type Msg interface{ isSessionMsg() }

// SnapshotReceived carries one authoritative update. It fully replaces
// whatever the machine held before.
type SnapshotReceived struct{ Snapshot protocol.Snapshot }

func (SnapshotReceived) isSessionMsg() {}

// NameRejected is the server refusing a name claim: the room already has it.
type NameRejected struct{}

func (NameRejected) isSessionMsg() {}

// LobbyInvalid is terminal for this session: the room code is unknown or
// expired and the client must leave the flow.
type LobbyInvalid struct{}

func (LobbyInvalid) isSessionMsg() {}

type Disconnected struct{ Reason protocol.DisconnectReason }

func (Disconnected) isSessionMsg() {}

type Reconnected struct{}

func (Reconnected) isSessionMsg() {}

// GetView reflects the current view without data races; used by tests.
type GetView struct{ Reply chan View }

func (GetView) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// IdentityWriter is where server-confirmed identity gets persisted: the
// seat on join confirmation, the name on name acknowledgment.
// *identity.Store satisfies it.
type IdentityWriter interface {
	SetSeat(code string, participantID int) error
	SetName(name string) error
}

type Config struct {
	Code     string
	Identity IdentityWriter // optional; nil disables persistence
	OnExit   func()         // invoked once when the lobby is invalidated
	Logger   *zap.Logger
}

type Machine struct {
	inbox chan Msg
	views chan View
	cfg   Config
	log   *zap.Logger

	snap         *protocol.Snapshot
	reconnecting bool
	notice       string
	savedSeat    int    // last persisted id, 0 = none yet
	savedName    string // last persisted confirmed name

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, cfg Config) *Machine {
	ctx, cancel := context.WithCancel(parent)
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := &Machine{
		inbox:  make(chan Msg, 64),
		views:  make(chan View, 1),
		cfg:    cfg,
		log:    log.Named("session"),
		ctx:    ctx,
		cancel: cancel,
	}
	go m.loop()
	return m
}

// Inbox is where the connection manager delivers events. Tests drive the
// machine through it directly.
func (m *Machine) Inbox() chan<- Msg { return m.inbox }

// Views emits the latest view after every change. The buffer holds one
// element and stale views are overwritten, so a slow renderer always wakes
// up to the newest state rather than a backlog.
func (m *Machine) Views() <-chan View { return m.views }

func (m *Machine) loop() {
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return

		case msg := <-m.inbox:
			switch msg := msg.(type) {
			case SnapshotReceived:
				snap := msg.Snapshot
				m.snap = &snap
				m.reconnecting = false
				m.notice = ""
				m.persistIdentity(snap)
				m.publish()

			case NameRejected:
				m.notice = NoticeNameTaken
				m.publish()

			case LobbyInvalid:
				m.log.Info("lobby invalidated, leaving flow", zap.String("code", m.cfg.Code))
				m.snap = nil
				m.publishEnded()
				if m.cfg.OnExit != nil {
					m.cfg.OnExit()
				}
				close(m.views)
				m.cancel()
				return

			case Disconnected:
				m.log.Info("disconnected", zap.String("reason", string(msg.Reason)))
				m.reconnecting = true
				m.publish()

			case Reconnected:
				// The flag clears only when the next update lands, so the
				// indicator stays up until the view is fresh again.

			case GetView:
				msg.Reply <- m.view()

			case Shutdown:
				m.shutdown()
				return
			}
		}
	}
}

func (m *Machine) shutdown() {
	// Unmount resets the rendered state: whoever is still watching sees
	// loading, then the closed channel.
	m.snap = nil
	m.reconnecting = false
	m.notice = ""
	m.publish()
	close(m.views)
	m.cancel()
}

// persistIdentity records what the server confirmed: our seat on join, our
// name on acknowledgment. The name matters even when it was never typed
// this session (a resumed seat, a carried-over name auto-claimed on join) —
// the reconnect replay must carry it. Identity mutates here and nowhere
// else in the machine.
func (m *Machine) persistIdentity(snap protocol.Snapshot) {
	if m.cfg.Identity == nil {
		return
	}
	if snap.Me.ID != 0 && snap.Me.ID != m.savedSeat {
		if err := m.cfg.Identity.SetSeat(m.cfg.Code, snap.Me.ID); err != nil {
			m.log.Warn("persist seat failed", zap.Error(err))
		} else {
			m.savedSeat = snap.Me.ID
		}
	}
	if snap.Me.Name != "" && snap.Me.Name != m.savedName {
		if err := m.cfg.Identity.SetName(snap.Me.Name); err != nil {
			m.log.Warn("persist name failed", zap.Error(err))
		} else {
			m.savedName = snap.Me.Name
		}
	}
}

func (m *Machine) view() View {
	v := View{
		Phase:        phaseOf(m.snap),
		Reconnecting: m.reconnecting,
		Notice:       m.notice,
	}
	if m.snap != nil {
		v.PlayerList = m.snap.PlayerList
		v.Me = m.snap.Me
		v.SelectedGameID = m.snap.SelectedGameID
		v.GameState = m.snap.GameState
	}
	return v
}

// phaseOf is the whole transition function: the rendered phase is a pure
// function of the last snapshot and whether our seat has a name. Nothing
// advances on local optimism.
func phaseOf(snap *protocol.Snapshot) Phase {
	switch {
	case snap == nil:
		return PhaseLoading
	case snap.Me.Name == "":
		return PhaseAwaitingName
	case snap.Status == protocol.StatusInGame:
		return PhaseInGame
	case snap.Status == protocol.StatusLobby:
		return PhaseLobby
	default:
		return PhaseLoading
	}
}

func (m *Machine) publish() {
	m.send(m.view())
}

func (m *Machine) publishEnded() {
	v := m.view()
	v.Ended = true
	m.send(v)
}

// send is latest-wins: drop the stale buffered view, never block the loop.
func (m *Machine) send(v View) {
	for {
		select {
		case m.views <- v:
			return
		default:
		}
		select {
		case <-m.views:
		default:
		}
	}
}
