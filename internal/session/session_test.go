package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partycrab/lobby/pkg/protocol"
)

// currentView queues a GetView behind everything already in the inbox, so it
// doubles as a sync barrier.
func currentView(t *testing.T, m *Machine) View {
	t.Helper()
	reply := make(chan View, 1)
	m.Inbox() <- GetView{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

type identityRecorder struct {
	codes []string
	ids   []int
	names []string
}

func (r *identityRecorder) SetSeat(code string, id int) error {
	r.codes = append(r.codes, code)
	r.ids = append(r.ids, id)
	return nil
}

func (r *identityRecorder) SetName(name string) error {
	r.names = append(r.names, name)
	return nil
}

func lobbySnapshot(meID int, meName string) protocol.Snapshot {
	return protocol.Snapshot{
		Status: protocol.StatusLobby,
		PlayerList: []protocol.Player{
			{ID: 1, Name: "Bo", IsHost: true},
			{ID: meID, Name: meName},
		},
		Me: protocol.Player{ID: meID, Name: meName},
	}
}

func TestPhaseBeforeFirstSnapshotIsLoading(t *testing.T) {
	m := New(context.Background(), Config{Code: "ABCD"})
	defer func() { m.Inbox() <- Shutdown{} }()

	v := currentView(t, m)
	assert.Equal(t, PhaseLoading, v.Phase)
}

func TestResumeScenario(t *testing.T) {
	// Stored seat 7 named Ana; the server echoes it back.
	rec := &identityRecorder{}
	m := New(context.Background(), Config{Code: "ABCD", Identity: rec})
	defer func() { m.Inbox() <- Shutdown{} }()

	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(7, "Ana")}

	v := currentView(t, m)
	assert.Equal(t, PhaseLobby, v.Phase)
	assert.Equal(t, 7, v.Me.ID)
	assert.False(t, v.Me.IsHost)
	require.Equal(t, []int{7}, rec.ids)
	assert.Equal(t, []string{"ABCD"}, rec.codes)
	assert.Equal(t, []string{"Ana"}, rec.names)
}

func TestFreshJoinAwaitsName(t *testing.T) {
	m := New(context.Background(), Config{Code: "WXYZ"})
	defer func() { m.Inbox() <- Shutdown{} }()

	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(3, "")}

	v := currentView(t, m)
	assert.Equal(t, PhaseAwaitingName, v.Phase)
}

func TestIdentityPersistedOncePerValue(t *testing.T) {
	rec := &identityRecorder{}
	m := New(context.Background(), Config{Code: "ABCD", Identity: rec})
	defer func() { m.Inbox() <- Shutdown{} }()

	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(7, "Ana")}
	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(7, "Ana")}
	_ = currentView(t, m)

	assert.Equal(t, []int{7}, rec.ids, "same id must not be re-persisted")
	assert.Equal(t, []string{"Ana"}, rec.names, "same name must not be re-persisted")
}

func TestServerConfirmedNamePersisted(t *testing.T) {
	// The seat lands first with no name; the name arrives in a later update
	// (the server accepted it, or auto-claimed a carried-over one). Both
	// halves must reach the store so a reconnect can replay them.
	rec := &identityRecorder{}
	m := New(context.Background(), Config{Code: "ABCD", Identity: rec})
	defer func() { m.Inbox() <- Shutdown{} }()

	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(7, "")}
	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(7, "Ana")}
	_ = currentView(t, m)

	assert.Equal(t, []int{7}, rec.ids)
	assert.Equal(t, []string{"Ana"}, rec.names)

	// a server-side rename is persisted too
	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(7, "Ana2")}
	_ = currentView(t, m)
	assert.Equal(t, []string{"Ana", "Ana2"}, rec.names)
}

func TestSnapshotIsTotalReplacement(t *testing.T) {
	m := New(context.Background(), Config{Code: "ABCD"})
	defer func() { m.Inbox() <- Shutdown{} }()

	first := lobbySnapshot(7, "Ana")
	first.SelectedGameID = "trivia"
	first.GameState = []byte(`{"round":3}`)
	m.Inbox() <- SnapshotReceived{Snapshot: first}

	second := protocol.Snapshot{
		Status:     protocol.StatusLobby,
		PlayerList: []protocol.Player{{ID: 7, Name: "Ana", IsHost: true}},
		Me:         protocol.Player{ID: 7, Name: "Ana", IsHost: true},
	}
	m.Inbox() <- SnapshotReceived{Snapshot: second}

	v := currentView(t, m)
	assert.Len(t, v.PlayerList, 1)
	assert.Empty(t, v.SelectedGameID, "selected game must not survive replacement")
	assert.Nil(t, v.GameState, "game state must not survive replacement")
	assert.True(t, v.Me.IsHost)
}

func TestNameRejectedKeepsAwaitingName(t *testing.T) {
	rec := &identityRecorder{}
	m := New(context.Background(), Config{Code: "ABCD", Identity: rec})
	defer func() { m.Inbox() <- Shutdown{} }()

	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(0, "")}
	m.Inbox() <- NameRejected{}

	v := currentView(t, m)
	assert.Equal(t, PhaseAwaitingName, v.Phase)
	assert.Equal(t, NoticeNameTaken, v.Notice)
	assert.Empty(t, rec.ids, "rejection must not touch identity")

	// the next update clears the notice
	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(0, "")}
	v = currentView(t, m)
	assert.Empty(t, v.Notice)
}

func TestReconnectingClearsOnlyOnUpdate(t *testing.T) {
	m := New(context.Background(), Config{Code: "ABCD"})
	defer func() { m.Inbox() <- Shutdown{} }()

	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(7, "Ana")}
	m.Inbox() <- Disconnected{Reason: protocol.ReasonTransport}

	v := currentView(t, m)
	assert.True(t, v.Reconnecting)
	assert.Equal(t, PhaseLobby, v.Phase, "stale view stays rendered while reconnecting")
	assert.Len(t, v.PlayerList, 2)

	m.Inbox() <- Reconnected{}
	v = currentView(t, m)
	assert.True(t, v.Reconnecting, "transport recovery alone must not clear the flag")

	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(7, "Ana")}
	v = currentView(t, m)
	assert.False(t, v.Reconnecting)
}

func TestLobbyInvalidIsTerminal(t *testing.T) {
	exited := make(chan struct{})
	m := New(context.Background(), Config{Code: "ZZZZ", OnExit: func() { close(exited) }})

	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(7, "Ana")}
	m.Inbox() <- LobbyInvalid{}

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("exit callback never fired")
	}

	// drain to the closed channel; the final view is marked ended
	var last View
	for v := range m.Views() {
		last = v
	}
	assert.True(t, last.Ended)
}

func TestShutdownResetsToLoading(t *testing.T) {
	m := New(context.Background(), Config{Code: "ABCD"})
	m.Inbox() <- SnapshotReceived{Snapshot: lobbySnapshot(7, "Ana")}
	_ = currentView(t, m)

	m.Inbox() <- Shutdown{}

	var last View
	for v := range m.Views() {
		last = v
	}
	assert.Equal(t, PhaseLoading, last.Phase)
	assert.Empty(t, last.PlayerList)
}

func TestReplayDeterminism(t *testing.T) {
	sequence := []protocol.Snapshot{
		lobbySnapshot(0, ""),
		lobbySnapshot(4, "Ana"),
		func() protocol.Snapshot {
			s := lobbySnapshot(4, "Ana")
			s.Status = protocol.StatusInGame
			s.SelectedGameID = "trivia"
			return s
		}(),
	}

	run := func() []View {
		m := New(context.Background(), Config{Code: "ABCD"})
		defer func() { m.Inbox() <- Shutdown{} }()
		var out []View
		for _, s := range sequence {
			m.Inbox() <- SnapshotReceived{Snapshot: s}
			out = append(out, currentView(t, m))
		}
		return out
	}

	assert.Equal(t, run(), run(), "same snapshot sequence must render identically")
}
