package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type MessageType string

const (
	// connection
	TypeConnect    MessageType = "connect"
	TypeDisconnect MessageType = "disconnect"
	TypeHeartbeat  MessageType = "heartbeat"

	// rooms
	TypeCreateRoom MessageType = "create_room"
	TypeJoinRoom   MessageType = "join_room"
	TypeLeaveRoom  MessageType = "leave_room"
	TypeListRooms  MessageType = "list_rooms"
	TypeRoomInfo   MessageType = "room_info"

	// gameplay
	TypeGameStart    MessageType = "game_start"
	TypeGameState    MessageType = "game_state"
	TypePlayerAction MessageType = "player_action"
	TypeGameOver     MessageType = "game_over"

	TypeChatMessage MessageType = "chat_message"
	TypeError       MessageType = "error"
)

var AllTypes = []MessageType{
	TypeConnect, TypeDisconnect, TypeHeartbeat,
	TypeCreateRoom, TypeJoinRoom, TypeLeaveRoom, TypeListRooms, TypeRoomInfo,
	TypeGameStart, TypeGameState, TypePlayerAction, TypeGameOver,
	TypeChatMessage, TypeError,
}

func (t MessageType) Known() bool {
	for _, k := range AllTypes {
		if k == t {
			return true
		}
	}
	return false
}

type GameAction string

const (
	ActionMoveLeft   GameAction = "move_left"
	ActionMoveRight  GameAction = "move_right"
	ActionRotateCW   GameAction = "rotate_cw"
	ActionRotateCCW  GameAction = "rotate_ccw"
	ActionSoftDrop   GameAction = "soft_drop"
	ActionHardDrop   GameAction = "hard_drop"
	ActionHold       GameAction = "hold"
	ActionPlacePiece GameAction = "place_piece"
)

// Error codes carried in TypeError payloads and handed to client OnError hooks.
const (
	CodeConnectionError = "CONNECTION_ERROR"
	CodeRoomExists      = "ROOM_EXISTS"
	CodeRoomFull        = "ROOM_FULL"
	CodeRoomNotFound    = "ROOM_NOT_FOUND"
	CodeInvalidPassword = "INVALID_PASSWORD"
	CodeInvalidRoomID   = "INVALID_ROOM_ID"
	CodeUnknownMessage  = "UNKNOWN_MESSAGE"
	CodeProcessingError = "PROCESSING_ERROR"
	CodeRoomError       = "ROOM_ERROR"
	CodeGameError       = "GAME_ERROR"
	CodeChatError       = "CHAT_ERROR"
)

const (
	DefaultPort         = 12345
	DefaultDatagramPort = 12346
)

var ErrEmptyType = errors.New("message type is empty")

// Message is the envelope every transport carries. Sequence and PlayerID are
// only filled in by the datagram client.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Sequence  uint32          `json:"sequence,omitempty"`
	PlayerID  string          `json:"player_id,omitempty"`
}

var emptyObject = json.RawMessage(`{}`)

// Now returns the wall clock as fractional unix seconds.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// NewMessage builds an envelope stamped with the current time. A nil data
// becomes an empty object.
func NewMessage(t MessageType, data any) (Message, error) {
	if t == "" {
		return Message{}, ErrEmptyType
	}
	raw := emptyObject
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		raw = b
	}
	return Message{Type: t, Timestamp: Now(), Data: raw}, nil
}

func CreateMessage(t MessageType, data any) ([]byte, error) {
	m, err := NewMessage(t, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// ParseMessage decodes one envelope. Any malformed input, including a missing
// type, reports ok=false and never an error.
func ParseMessage(b []byte) (msg Message, ok bool) {
	if len(b) == 0 {
		return Message{}, false
	}
	if err := json.Unmarshal(b, &msg); err != nil {
		return Message{}, false
	}
	if msg.Type == "" {
		return Message{}, false
	}
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		msg.Data = emptyObject
	}
	return msg, true
}

// Encode re-serialises an already parsed message, keeping its timestamp.
func (m Message) Encode() ([]byte, error) {
	if m.Type == "" {
		return nil, ErrEmptyType
	}
	if len(m.Data) == 0 {
		m.Data = emptyObject
	}
	return json.Marshal(m)
}

func DecodeData[T any](m Message) (T, error) {
	var out T
	if len(m.Data) == 0 {
		return out, fmt.Errorf("empty payload for type %q", m.Type)
	}
	if err := json.Unmarshal(m.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return out, nil
}
