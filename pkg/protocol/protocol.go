// Package protocol defines the wire format spoken between a lobby client and
// the lobby server: a small fixed set of named messages, each carried in a
// JSON envelope of {type, payload}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownMessage = errors.New("unknown message type")
var ErrBadPayload = errors.New("malformed payload")

type MessageType string

// Client -> server.
const (
	MsgJoinLobby      MessageType = "join-lobby"
	MsgName           MessageType = "name"
	MsgGameSelect     MessageType = "game-select"
	MsgGameStart      MessageType = "game-start"
	MsgGameExit       MessageType = "game-exit"
	MsgHostGameLoaded MessageType = "host-game-loaded"
)

// Server -> client.
const (
	MsgUpdate       MessageType = "update"
	MsgInvalidName  MessageType = "invalid-name"
	MsgInvalidLobby MessageType = "invalid-lobby"
	MsgDisconnect   MessageType = "disconnect"
	MsgReconnect    MessageType = "reconnect"
)

var known = map[MessageType]bool{
	MsgJoinLobby: true, MsgName: true, MsgGameSelect: true,
	MsgGameStart: true, MsgGameExit: true, MsgHostGameLoaded: true,
	MsgUpdate: true, MsgInvalidName: true, MsgInvalidLobby: true,
	MsgDisconnect: true, MsgReconnect: true,
}

type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinLobby attaches or re-attaches to a room. ID is carried only on a
// resume; a fresh join leaves it nil and the server allocates a new seat.
// Name is the last name this device used, claimed automatically if free.
type JoinLobby struct {
	Code string `json:"code"`
	ID   *int   `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type Name struct {
	Name string `json:"name"`
}

type GameSelect struct {
	GameID string `json:"gameId"`
}

// DisconnectReason tags why the connection went away, so the reconnect
// policy never has to guess from timing.
type DisconnectReason string

const (
	// ReasonServer means the server closed the connection on purpose and
	// the client should redial immediately.
	ReasonServer DisconnectReason = "server"
	// ReasonTransport means the link dropped; the transport layer retries.
	ReasonTransport DisconnectReason = "transport"
)

type Disconnect struct {
	Reason DisconnectReason `json:"reason"`
}

type Status string

const (
	StatusLoading Status = "loading"
	StatusLobby   Status = "lobby"
	StatusInGame  Status = "ingame"
)

type Player struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// Snapshot is the authoritative room state pushed on every change. It is a
// total replacement: the client discards everything it previously derived
// and keeps only its stored identity. GameState is opaque to the lobby
// layer; the selected activity defines its shape.
type Snapshot struct {
	Status         Status          `json:"status"`
	PlayerList     []Player        `json:"playerList"`
	Me             Player          `json:"me"`
	SelectedGameID string          `json:"selectedGameId"`
	GameState      json.RawMessage `json:"gameState,omitempty"`
}

// Encode wraps a message in its envelope, marshalling the payload.
// A nil payload produces a bare {type} frame.
func Encode(t MessageType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses an envelope and rejects frames whose type is not part of
// the protocol. The payload stays raw; callers unmarshal it per type.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if !known[env.Type] {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	return env, nil
}

// DecodePayload unmarshals an envelope payload into dst.
func DecodePayload(env Envelope, dst any) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadPayload, env.Type, err)
	}
	return nil
}
