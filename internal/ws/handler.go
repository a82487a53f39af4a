// Package ws bridges one websocket connection to a room actor.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/partycrab/lobby/internal/hub"
	"github.com/partycrab/lobby/internal/room"
	"github.com/partycrab/lobby/pkg/protocol"
)

const writeTimeout = 3 * time.Second

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.GetRoom{Code: code, Reply: reply}
		rm := <-reply

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		// Unknown or expired code: that is a protocol answer, not an HTTP
		// one, so the client's machine can leave the flow cleanly.
		if rm == nil {
			writeEnvelope(r.Context(), conn, protocol.Envelope{Type: protocol.MsgInvalidLobby})
			return
		}

		out := make(chan protocol.Envelope, 8)
		playerID := -1

		// Writer goroutine. When the room closes our outbox (seat taken
		// over elsewhere, room shut down) we hang up on purpose and say so,
		// which tells the client to redial immediately.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for env := range out {
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				writeEnvelope(ctx, conn, env)
				cancel()
			}
			payload, _ := json.Marshal(protocol.Disconnect{Reason: protocol.ReasonServer})
			ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
			writeEnvelope(ctx, conn, protocol.Envelope{Type: protocol.MsgDisconnect, Payload: payload})
			cancel()
			conn.Close(websocket.StatusGoingAway, "seat detached")
		}()

		defer func() {
			if playerID >= 0 {
				rm.Inbox() <- room.Leave{PlayerID: playerID, Outbox: out}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}

			env, err := protocol.Decode(data)
			if err != nil {
				log.Debug("bad frame", zap.Error(err))
				continue
			}

			if env.Type == protocol.MsgJoinLobby {
				var join protocol.JoinLobby
				if err := protocol.DecodePayload(env, &join); err != nil {
					log.Debug("bad join", zap.Error(err))
					continue
				}
				if playerID >= 0 {
					// Already seated on this connection. Honoring the frame's
					// resume id would rebind us to a second seat while the
					// first stays mapped to this outbox, so treat a repeat
					// join as a resync of the seat we hold.
					id := playerID
					idReply := make(chan int, 1)
					rm.Inbox() <- room.Join{ResumeID: &id, Outbox: out, Reply: idReply}
					<-idReply
					continue
				}
				idReply := make(chan int, 1)
				rm.Inbox() <- room.Join{ResumeID: join.ID, Name: join.Name, Outbox: out, Reply: idReply}
				playerID = <-idReply
				continue
			}

			if playerID < 0 {
				// Commands before join-lobby have no seat to act for.
				continue
			}
			cmd, ok := toCommand(env, playerID)
			if !ok {
				log.Debug("unhandled message", zap.String("type", string(env.Type)))
				continue
			}
			rm.Inbox() <- room.FromClient{PlayerID: playerID, Cmd: cmd}
		}
	}
}

func toCommand(env protocol.Envelope, playerID int) (room.Command, bool) {
	switch env.Type {
	case protocol.MsgName:
		var n protocol.Name
		if err := protocol.DecodePayload(env, &n); err != nil {
			return room.Command{}, false
		}
		return room.Command{Type: room.CmdClaimName, PlayerID: playerID, Name: n.Name}, true
	case protocol.MsgGameSelect:
		var sel protocol.GameSelect
		if err := protocol.DecodePayload(env, &sel); err != nil {
			return room.Command{}, false
		}
		return room.Command{Type: room.CmdSelectGame, PlayerID: playerID, GameID: sel.GameID}, true
	case protocol.MsgGameStart:
		return room.Command{Type: room.CmdStartGame, PlayerID: playerID}, true
	case protocol.MsgGameExit:
		return room.Command{Type: room.CmdExitGame, PlayerID: playerID}, true
	case protocol.MsgHostGameLoaded:
		return room.Command{Type: room.CmdHostLoaded, PlayerID: playerID}, true
	default:
		return room.Command{}, false
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env protocol.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
