package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partycrab/lobby/internal/hub"
	"github.com/partycrab/lobby/internal/room"
	"github.com/partycrab/lobby/pkg/protocol"
)

func startHandler(t *testing.T, code string) (*room.Room, string) {
	t.Helper()
	h := hub.NewHub(context.Background(), nil)
	srv := httptest.NewServer(Handler(h, nil))
	t.Cleanup(srv.Close)

	reply := make(chan *room.Room, 1)
	h.Inbox() <- hub.EnsureRoom{Code: code, Reply: reply}
	rm := <-reply
	require.NotNil(t, rm)

	return rm, "ws" + strings.TrimPrefix(srv.URL, "http") + "?code=" + code
}

func dial(t *testing.T, endpoint string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, typ protocol.MessageType, payload any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(protocol.Envelope{Type: typ, Payload: raw})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))
}

// recvUpdate reads frames until the next update and returns its snapshot.
func recvUpdate(t *testing.T, conn *websocket.Conn) protocol.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		if env.Type != protocol.MsgUpdate {
			continue
		}
		var snap protocol.Snapshot
		require.NoError(t, protocol.DecodePayload(env, &snap))
		return snap
	}
}

func roomView(t *testing.T, rm *room.Room) room.View {
	t.Helper()
	reply := make(chan room.View, 1)
	rm.Inbox() <- room.GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out reading room state")
		return room.View{} // unreachable
	}
}

func TestUnknownCodeGetsInvalidLobby(t *testing.T) {
	h := hub.NewHub(context.Background(), nil)
	srv := httptest.NewServer(Handler(h, nil))
	t.Cleanup(srv.Close)

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"?code=NOPE")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgInvalidLobby, env.Type)
}

// TestRepeatJoinKeepsSingleSeat guards against a connection that sends
// join-lobby twice: the second frame must resync the seat it already holds,
// not seat the connection again and strand the first seat on the roster.
func TestRepeatJoinKeepsSingleSeat(t *testing.T) {
	rm, endpoint := startHandler(t, "ABCD")
	conn := dial(t, endpoint)

	sendEnvelope(t, conn, protocol.MsgJoinLobby, protocol.JoinLobby{Code: "ABCD", Name: "Ana"})
	first := recvUpdate(t, conn)
	require.Len(t, first.PlayerList, 1)

	// a confused client repeats the join, even asking for a fresh seat
	sendEnvelope(t, conn, protocol.MsgJoinLobby, protocol.JoinLobby{Code: "ABCD"})
	second := recvUpdate(t, conn)

	assert.Equal(t, first.Me.ID, second.Me.ID, "repeat join must keep the same seat")
	assert.Len(t, second.PlayerList, 1)
	assert.Equal(t, "Ana", second.Me.Name)

	v := roomView(t, rm)
	assert.Equal(t, 1, v.NumClients)
	require.Len(t, v.State.Players, 1)
}
