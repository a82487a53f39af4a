package room

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/partycrab/lobby/pkg/protocol"
)

var ErrNameTaken = errors.New("name already in use")
var ErrNotHost = errors.New("host only")
var ErrNoSuchPlayer = errors.New("no such player")
var ErrNoGameSelected = errors.New("no game selected")
var ErrNotInGame = errors.New("not in a game")
var ErrUnsupportedCommand = errors.New("unsupported command")

// State is a room as the server sees it. Seats outlive their connections so
// a returning client can resume one; attachment itself lives in the Room
// actor, not here.
type State struct {
	Status         protocol.Status
	Players        []protocol.Player
	SelectedGameID string
	GameState      json.RawMessage
	NextID         int
}

func NewState() State {
	return State{Status: protocol.StatusLobby, NextID: 1}
}

type CommandType string

const (
	CmdSeatPlayer CommandType = "SeatPlayer"
	CmdClaimName  CommandType = "ClaimName"
	CmdSelectGame CommandType = "SelectGame"
	CmdStartGame  CommandType = "StartGame"
	CmdExitGame   CommandType = "ExitGame"
	CmdHostLoaded CommandType = "HostLoaded"
)

type Command struct {
	Type     CommandType
	PlayerID int
	Name     string
	GameID   string
}

type EventType string

const (
	EvtPlayerSeated EventType = "PlayerSeated"
	EvtNameClaimed  EventType = "NameClaimed"
	EvtGameSelected EventType = "GameSelected"
	EvtGameStarted  EventType = "GameStarted"
	EvtGameExited   EventType = "GameExited"
)

type Event struct {
	Type     EventType
	PlayerID int
}

// Apply runs one command against a copy of the state. The first seated
// player becomes host; there is always exactly one host afterwards.
func Apply(s State, cmd Command) ([]Event, State, error) {
	ns := s
	ns.Players = slices.Clone(s.Players)

	switch cmd.Type {
	case CmdSeatPlayer:
		p := protocol.Player{ID: ns.NextID, IsHost: !hasHost(ns.Players)}
		ns.NextID++
		// A carried-over name is claimed only if free; otherwise the
		// client lands on name entry like any newcomer.
		if cmd.Name != "" && !nameTaken(ns.Players, cmd.Name) {
			p.Name = cmd.Name
		}
		ns.Players = append(ns.Players, p)
		return []Event{{Type: EvtPlayerSeated, PlayerID: p.ID}}, ns, nil

	case CmdClaimName:
		i := indexByID(ns.Players, cmd.PlayerID)
		if i < 0 {
			return nil, s, ErrNoSuchPlayer
		}
		if nameTaken(ns.Players, cmd.Name) {
			return nil, s, ErrNameTaken
		}
		ns.Players[i].Name = cmd.Name
		return []Event{{Type: EvtNameClaimed, PlayerID: cmd.PlayerID}}, ns, nil

	case CmdSelectGame:
		if err := requireHost(ns.Players, cmd.PlayerID); err != nil {
			return nil, s, err
		}
		ns.SelectedGameID = cmd.GameID
		return []Event{{Type: EvtGameSelected, PlayerID: cmd.PlayerID}}, ns, nil

	case CmdStartGame:
		if err := requireHost(ns.Players, cmd.PlayerID); err != nil {
			return nil, s, err
		}
		if ns.SelectedGameID == "" {
			return nil, s, ErrNoGameSelected
		}
		ns.Status = protocol.StatusInGame
		ns.GameState = json.RawMessage(`{"status":"loading"}`)
		return []Event{{Type: EvtGameStarted, PlayerID: cmd.PlayerID}}, ns, nil

	case CmdHostLoaded:
		if err := requireHost(ns.Players, cmd.PlayerID); err != nil {
			return nil, s, err
		}
		if ns.Status != protocol.StatusInGame {
			return nil, s, ErrNotInGame
		}
		ns.GameState = json.RawMessage(`{"status":"inprogress"}`)
		return nil, ns, nil

	case CmdExitGame:
		if err := requireHost(ns.Players, cmd.PlayerID); err != nil {
			return nil, s, err
		}
		if ns.Status != protocol.StatusInGame {
			return nil, s, ErrNotInGame
		}
		ns.Status = protocol.StatusLobby
		ns.GameState = nil
		return []Event{{Type: EvtGameExited, PlayerID: cmd.PlayerID}}, ns, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func indexByID(players []protocol.Player, id int) int {
	return slices.IndexFunc(players, func(p protocol.Player) bool { return p.ID == id })
}

func hasHost(players []protocol.Player) bool {
	return slices.ContainsFunc(players, func(p protocol.Player) bool { return p.IsHost })
}

func nameTaken(players []protocol.Player, name string) bool {
	return slices.ContainsFunc(players, func(p protocol.Player) bool {
		return p.Name != "" && strings.EqualFold(p.Name, name)
	})
}

func requireHost(players []protocol.Player, id int) error {
	i := indexByID(players, id)
	if i < 0 {
		return ErrNoSuchPlayer
	}
	if !players[i].IsHost {
		return ErrNotHost
	}
	return nil
}
