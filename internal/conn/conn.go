// Package conn owns the one persistent websocket a lobby client holds for
// the lifetime of its view. It pumps inbound frames to the session machine
// in arrival order, emits fire-and-forget intents outward, and carries the
// reconnect policy: replay the join with the persisted identity, never a
// fresh one.
package conn

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/partycrab/lobby/internal/identity"
	"github.com/partycrab/lobby/internal/session"
	"github.com/partycrab/lobby/pkg/protocol"
)

const writeTimeout = 3 * time.Second

// DefaultGraceDelay is how long the host's heavier client gets to finish
// loading before the readiness signal goes out.
const DefaultGraceDelay = 2 * time.Second

// IdentitySource reads the persisted identity at (re)join time and records
// the optimistic name write. *identity.Store satisfies it.
type IdentitySource interface {
	Load(code string) (identity.Identity, error)
	SetName(name string) error
}

type Config struct {
	URL        string // websocket endpoint, e.g. ws://localhost:8080/ws
	Code       string
	Identity   IdentitySource
	Session    chan<- session.Msg
	GraceDelay time.Duration // zero means DefaultGraceDelay
	Logger     *zap.Logger
}

type Client struct {
	cfg Config
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	ws        *websocket.Conn
	closed    bool
	hostTimer *time.Timer
	lastSeat  *int   // seat confirmed by the most recent update
	lastName  string // name confirmed by the most recent update
}

func New(parent context.Context, cfg Config) *Client {
	ctx, cancel := context.WithCancel(parent)
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.GraceDelay == 0 {
		cfg.GraceDelay = DefaultGraceDelay
	}
	return &Client{
		cfg:    cfg,
		log:    log.Named("conn"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect dials once and starts the read pump. The initial join goes out
// before any frame is read, seeded from the stored identity so a matching
// room code resumes the old seat.
func (c *Client) Connect(ctx context.Context) error {
	ws, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.cfg.URL, err)
	}
	c.setConn(ws)
	c.sendJoin()
	go c.readPump(ws)
	return nil
}

/// Close tears the session down: stop the grace timer, close the socket, and
// reset the machine to loading. Late frames after Close are dropped.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.hostTimer != nil {
		c.hostTimer.Stop()
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
	}
	c.cfg.Session <- session.Shutdown{}
}

// SubmitName claims a display name. The name is persisted optimistically at
// submission so the next visit can prefill it; the phase only moves once the
// server echoes the claim back in an update.
func (c *Client) SubmitName(name string) {
	if err := c.cfg.Identity.SetName(name); err != nil {
		c.log.Warn("persist name failed", zap.Error(err))
	}
	c.send(protocol.MsgName, protocol.Name{Name: name})
}

func (c *Client) SelectGame(gameID string) {
	c.send(protocol.MsgGameSelect, protocol.GameSelect{GameID: gameID})
}

func (c *Client) StartGame() {
	c.send(protocol.MsgGameStart, nil)
}

func (c *Client) ExitGame() {
	c.send(protocol.MsgGameExit, nil)
}

// NotifyHostReady arms the readiness signal after the fixed grace delay.
// Host only; a deliberate pause, not a retry timeout.
func (c *Client) NotifyHostReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.hostTimer != nil {
		c.hostTimer.Stop()
	}
	c.hostTimer = time.AfterFunc(c.cfg.GraceDelay, func() {
		c.send(protocol.MsgHostGameLoaded, nil)
	})
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint := c.cfg.URL + "?code=" + url.QueryEscape(c.cfg.Code)
	ws, _, err := websocket.Dial(ctx, endpoint, nil)
	return ws, err
}

// sendJoin re-reads the store on every call: a reconnect replays whatever
// identity the server has confirmed since the first join. The seat and name
// seen in the most recent update backstop the store, whose writes land on
// the session goroutine and may still be in flight during a fast redial.
func (c *Client) sendJoin() {
	id, err := c.cfg.Identity.Load(c.cfg.Code)
	if err != nil {
		c.log.Warn("load identity failed, joining fresh", zap.Error(err))
		id = identity.Identity{RoomCode: c.cfg.Code}
	}
	c.mu.Lock()
	if id.ParticipantID == nil {
		id.ParticipantID = c.lastSeat
	}
	if id.Name == "" {
		id.Name = c.lastName
	}
	c.mu.Unlock()
	c.send(protocol.MsgJoinLobby, protocol.JoinLobby{
		Code: id.RoomCode,
		ID:   id.ParticipantID,
		Name: id.Name,
	})
}

func (c *Client) send(t protocol.MessageType, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		c.log.Error("encode failed", zap.String("type", string(t)), zap.Error(err))
		return
	}

	c.mu.Lock()
	ws := c.ws
	closed := c.closed
	c.mu.Unlock()
	if closed || ws == nil {
		c.log.Debug("dropping intent, not connected", zap.String("type", string(t)))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		c.log.Warn("write failed", zap.String("type", string(t)), zap.Error(err))
	}
}

func (c *Client) readPump(ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(c.ctx)
		if err != nil {
			if c.isClosed() {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				// Server hung up on purpose; redial right away.
				c.cfg.Session <- session.Disconnected{Reason: protocol.ReasonServer}
			default:
				c.cfg.Session <- session.Disconnected{Reason: protocol.ReasonTransport}
			}
			c.redial()
			return
		}
		if !c.handle(data) {
			return
		}
	}
}

// handle dispatches one inbound frame. Returns false when the pump should
// stop (terminal failure or a server-ordered reconnect).
func (c *Client) handle(data []byte) bool {
	env, err := protocol.Decode(data)
	if err != nil {
		// A corrupt frame is a defect, not something to merge around.
		c.log.Error("bad frame", zap.Error(err), zap.ByteString("data", data))
		return true
	}

	switch env.Type {
	case protocol.MsgUpdate:
		var snap protocol.Snapshot
		if err := protocol.DecodePayload(env, &snap); err != nil {
			c.log.Error("bad snapshot", zap.Error(err))
			return true
		}
		c.mu.Lock()
		if snap.Me.ID != 0 {
			seat := snap.Me.ID
			c.lastSeat = &seat
		}
		if snap.Me.Name != "" {
			c.lastName = snap.Me.Name
		}
		c.mu.Unlock()
		c.cfg.Session <- session.SnapshotReceived{Snapshot: snap}

	case protocol.MsgInvalidName:
		c.cfg.Session <- session.NameRejected{}

	case protocol.MsgInvalidLobby:
		// Terminal: leave the flow and never speak for this room again.
		c.cfg.Session <- session.LobbyInvalid{}
		c.markClosed()
		if ws := c.takeConn(); ws != nil {
			_ = ws.Close(websocket.StatusNormalClosure, "invalid lobby")
		}
		return false

	case protocol.MsgDisconnect:
		var d protocol.Disconnect
		if err := protocol.DecodePayload(env, &d); err != nil {
			d.Reason = protocol.ReasonServer
		}
		c.cfg.Session <- session.Disconnected{Reason: d.Reason}
		if ws := c.takeConn(); ws != nil {
			_ = ws.Close(websocket.StatusNormalClosure, "server disconnect")
		}
		c.redial()
		return false

	case protocol.MsgReconnect:
		// Synthesized locally after a redial; nothing to do on the wire.
	}
	return true
}

// redial re-establishes the connection with exponential backoff, then
// replays the join with the persisted identity. Exactly one join per
// successful reconnect.
func (c *Client) redial() {
	var ws *websocket.Conn
	op := func() error {
		var err error
		ws, err = c.dial(c.ctx)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 0 // keep trying until the view unmounts

	if err := backoff.Retry(op, backoff.WithContext(policy, c.ctx)); err != nil {
		if !c.isClosed() {
			c.log.Warn("redial abandoned", zap.Error(err))
		}
		return
	}
	if c.isClosed() {
		_ = ws.Close(websocket.StatusNormalClosure, "closed during redial")
		return
	}

	c.setConn(ws)
	c.cfg.Session <- session.Reconnected{}
	c.sendJoin()
	go c.readPump(ws)
}

func (c *Client) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

func (c *Client) takeConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws := c.ws
	c.ws = nil
	return ws
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
