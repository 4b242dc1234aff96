package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> Server
// connect:       player_name
// create_room:   room_id, password?, max_players?
// join_room:     room_id, password?
// leave_room:    {}
// list_rooms:    {}
// player_action: action, args?
// game_state:    event + event fields (see events.go)
// chat_message:  message
// heartbeat:     {}
//
// Server -> Client
// connect:     success, player_id, server_info
// create_room: success, room_id
// join_room:   success, room_id, players
// leave_room:  success
// list_rooms:  rooms[]
// room_info:   event ("player_joined" | "player_left"), player_name, players
// error:       error_code, error_message
//
// Relayed gameplay and chat messages carry the sender's player_id and player_name.

type ConnectRequest struct {
	PlayerName string `json:"player_name"`
}

type ServerInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Protocol string `json:"protocol,omitempty"`
}

type ConnectReply struct {
	Success    bool       `json:"success"`
	PlayerID   string     `json:"player_id"`
	ServerInfo ServerInfo `json:"server_info"`
}

type RoomRequest struct {
	RoomID     string `json:"room_id"`
	Password   string `json:"password,omitempty"`
	MaxPlayers *int   `json:"max_players,omitempty"`
}

type RoomReply struct {
	Success bool     `json:"success"`
	RoomID  string   `json:"room_id,omitempty"`
	Players []string `json:"players,omitempty"`
}

type RoomEvent string

const (
	RoomPlayerJoined RoomEvent = "player_joined"
	RoomPlayerLeft   RoomEvent = "player_left"
)

type RoomInfo struct {
	Event      RoomEvent `json:"event"`
	PlayerName string    `json:"player_name"`
	Players    []string  `json:"players"`
}

type RoomSummary struct {
	RoomID      string   `json:"room_id"`
	Name        string   `json:"name"`
	Players     []string `json:"players"`
	MaxPlayers  int      `json:"max_players"`
	HasPassword bool     `json:"has_password"`
}

type RoomList struct {
	Rooms []RoomSummary `json:"rooms"`
}

type ActionPayload struct {
	Action     GameAction     `json:"action"`
	Args       map[string]any `json:"args,omitempty"`
	PlayerID   string         `json:"player_id,omitempty"`
	PlayerName string         `json:"player_name,omitempty"`
}

type ChatPayload struct {
	Message    string  `json:"message"`
	PlayerID   string  `json:"player_id,omitempty"`
	PlayerName string  `json:"player_name,omitempty"`
	Timestamp  float64 `json:"timestamp,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

// Origin is the sender identity the relay stamps onto forwarded messages.
type Origin struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

func DecodeOrigin(m Message) Origin {
	o, _ := DecodeData[Origin](m)
	return o
}

func Connect(name string) ([]byte, error) {
	return CreateMessage(TypeConnect, ConnectRequest{PlayerName: name})
}

func Disconnect() ([]byte, error) {
	return CreateMessage(TypeDisconnect, nil)
}

func Heartbeat() ([]byte, error) {
	return CreateMessage(TypeHeartbeat, nil)
}

func CreateRoom(roomID, password string) ([]byte, error) {
	return CreateMessage(TypeCreateRoom, RoomRequest{RoomID: roomID, Password: password})
}

func JoinRoom(roomID, password string) ([]byte, error) {
	return CreateMessage(TypeJoinRoom, RoomRequest{RoomID: roomID, Password: password})
}

func LeaveRoom() ([]byte, error) {
	return CreateMessage(TypeLeaveRoom, nil)
}

func ListRooms() ([]byte, error) {
	return CreateMessage(TypeListRooms, nil)
}

func PlayerAction(action GameAction, args map[string]any) ([]byte, error) {
	return CreateMessage(TypePlayerAction, ActionPayload{Action: action, Args: args})
}

func GameState(ev GameEvent) ([]byte, error) {
	data, err := EncodeEvent(ev)
	if err != nil {
		return nil, err
	}
	return CreateMessage(TypeGameState, data)
}

func Chat(text string) ([]byte, error) {
	return CreateMessage(TypeChatMessage, ChatPayload{Message: text})
}

func Error(code, message string) ([]byte, error) {
	return CreateMessage(TypeError, ErrorPayload{Code: code, Message: message})
}

// Rewrap copies data into a fresh envelope of type t with the sender identity
// stamped on top. Keys already present in data are kept unless they collide
// with player_id/player_name.
func Rewrap(t MessageType, data json.RawMessage, from Origin) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("rewrap %s: %w", t, err)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}
	id, _ := json.Marshal(from.PlayerID)
	name, _ := json.Marshal(from.PlayerName)
	fields["player_id"] = id
	fields["player_name"] = name
	return CreateMessage(t, fields)
}
