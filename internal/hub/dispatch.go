package hub

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-versus/internal/room"
	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

type handlerFunc func(h *Hub, p *Player, m protocol.Message) error

var handlers = map[protocol.MessageType]handlerFunc{
	protocol.TypeConnect:      (*Hub).handleConnect,
	protocol.TypeDisconnect:   (*Hub).handleDisconnect,
	protocol.TypeHeartbeat:    (*Hub).handleHeartbeat,
	protocol.TypeCreateRoom:   (*Hub).handleCreateRoom,
	protocol.TypeJoinRoom:     (*Hub).handleJoinRoom,
	protocol.TypeLeaveRoom:    (*Hub).handleLeaveRoom,
	protocol.TypeListRooms:    (*Hub).handleListRooms,
	protocol.TypePlayerAction: (*Hub).relay,
	protocol.TypeGameState:    (*Hub).relay,
	protocol.TypeGameStart:    (*Hub).relay,
	protocol.TypeGameOver:     (*Hub).relay,
	protocol.TypeChatMessage:  (*Hub).handleChat,
}

const maxRoomIDLen = 64

func (h *Hub) dispatch(p *Player, m protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("handler panic",
				zap.String("player_id", p.ID),
				zap.String("type", string(m.Type)),
				zap.Any("panic", r))
			h.sendError(p, protocol.CodeProcessingError, fmt.Sprintf("processing %s failed", m.Type))
		}
	}()

	fn, ok := handlers[m.Type]
	if !ok {
		h.log.Debug("unhandled message type", zap.String("player_id", p.ID), zap.String("type", string(m.Type)))
		text := fmt.Sprintf("unknown message type: %s", m.Type)
		if m.Type.Known() {
			text = fmt.Sprintf("%s is not accepted from clients", m.Type)
		}
		h.sendError(p, protocol.CodeUnknownMessage, text)
		return
	}
	if err := fn(h, p, m); err != nil {
		h.log.Warn("handler failed",
			zap.String("player_id", p.ID),
			zap.String("type", string(m.Type)),
			zap.Error(err))
		h.sendError(p, protocol.CodeProcessingError, err.Error())
	}
}

func (h *Hub) handleConnect(p *Player, m protocol.Message) error {
	req, err := protocol.DecodeData[protocol.ConnectRequest](m)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	p.Name = sanitizeName(req.PlayerName, p.ID)
	h.log.Info("player named", zap.String("player_id", p.ID), zap.String("name", p.Name))
	h.send(p, protocol.TypeConnect, protocol.ConnectReply{
		Success:  true,
		PlayerID: p.ID,
		ServerInfo: protocol.ServerInfo{
			Name:     h.cfg.ServerName,
			Version:  h.cfg.Version,
			Protocol: p.Transport,
		},
	})
	return nil
}

func (h *Hub) handleDisconnect(p *Player, _ protocol.Message) error {
	h.evict(p, "client disconnect")
	return nil
}

func (h *Hub) handleHeartbeat(p *Player, _ protocol.Message) error {
	if p.EchoHeartbeat {
		h.send(p, protocol.TypeHeartbeat, nil)
	}
	return nil
}

// roomRequest decodes and validates a create/join body. ok is false when an
// INVALID_ROOM_ID error was already sent.
func (h *Hub) roomRequest(p *Player, m protocol.Message) (protocol.RoomRequest, bool) {
	req, err := protocol.DecodeData[protocol.RoomRequest](m)
	if err != nil {
		h.sendError(p, protocol.CodeInvalidRoomID, "malformed room request")
		return req, false
	}
	req.RoomID = strings.TrimSpace(req.RoomID)
	if req.RoomID == "" || utf8.RuneCountInString(req.RoomID) > maxRoomIDLen {
		h.sendError(p, protocol.CodeInvalidRoomID, "room_id must be 1-64 characters")
		return req, false
	}
	return req, true
}

func (h *Hub) handleCreateRoom(p *Player, m protocol.Message) error {
	req, ok := h.roomRequest(p, m)
	if !ok {
		return nil
	}
	if _, exists := h.rooms[req.RoomID]; exists {
		h.sendError(p, protocol.CodeRoomExists, "room already exists")
		return nil
	}

	maxPlayers := h.cfg.DefaultMaxPlayers
	if req.MaxPlayers != nil {
		maxPlayers = *req.MaxPlayers
	}
	if maxPlayers <= 0 {
		h.sendError(p, protocol.CodeRoomFull, "room has no capacity")
		return nil
	}
	if req.Password == "" {
		return h.createRoom(p, req.RoomID, nil, maxPlayers)
	}

	id, roomID, password, cost := p.ID, req.RoomID, req.Password, h.cfg.PasswordCost
	h.offload(func() HubMsg {
		hash, err := room.HashPassword(password, cost)
		return roomHashed{PlayerID: id, RoomID: roomID, MaxPlayers: maxPlayers, Hash: hash, Err: err}
	})
	return nil
}

func (h *Hub) finishCreate(msg roomHashed) {
	p := h.players[msg.PlayerID]
	if p == nil {
		return
	}
	err := msg.Err
	if err == nil {
		if _, exists := h.rooms[msg.RoomID]; exists {
			h.sendError(p, protocol.CodeRoomExists, "room already exists")
			return
		}
		err = h.createRoom(p, msg.RoomID, msg.Hash, msg.MaxPlayers)
	}
	if err != nil {
		h.log.Warn("create room failed", zap.String("player_id", p.ID), zap.Error(err))
		h.sendError(p, protocol.CodeProcessingError, err.Error())
	}
}

func (h *Hub) createRoom(p *Player, id string, hash []byte, maxPlayers int) error {
	r, err := room.New(id, hash, maxPlayers, h.cfg.Clock())
	if errors.Is(err, room.ErrNoCapacity) {
		h.sendError(p, protocol.CodeRoomFull, "room has no capacity")
		return nil
	}
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	h.leaveRoom(p, false)
	if err := r.Add(p.ID); err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	h.rooms[r.ID] = r
	p.RoomID = r.ID

	h.log.Info("room created",
		zap.String("room_id", r.ID),
		zap.String("player_id", p.ID),
		zap.Int("max_players", r.MaxPlayers),
		zap.Bool("password", r.HasPassword()))
	h.send(p, protocol.TypeCreateRoom, protocol.RoomReply{
		Success: true,
		RoomID:  r.ID,
		Players: h.memberNames(r),
	})
	return nil
}

func (h *Hub) handleJoinRoom(p *Player, m protocol.Message) error {
	req, ok := h.roomRequest(p, m)
	if !ok {
		return nil
	}
	r := h.rooms[req.RoomID]
	if r == nil {
		h.sendError(p, protocol.CodeRoomNotFound, "room not found")
		return nil
	}
	if r.Has(p.ID) || !r.HasPassword() {
		return h.joinRoom(p, r)
	}

	id, hash, password := p.ID, r.PasswordHash(), req.Password
	h.offload(func() HubMsg {
		return passwordChecked{PlayerID: id, Room: r, OK: room.VerifyPassword(hash, password)}
	})
	return nil
}

func (h *Hub) finishJoin(msg passwordChecked) {
	p := h.players[msg.PlayerID]
	if p == nil {
		return
	}
	// the room may have closed, or been replaced under the same id, meanwhile
	if h.rooms[msg.Room.ID] != msg.Room {
		h.sendError(p, protocol.CodeRoomNotFound, "room not found")
		return
	}
	if !msg.OK {
		h.sendError(p, protocol.CodeInvalidPassword, "invalid password")
		return
	}
	if err := h.joinRoom(p, msg.Room); err != nil {
		h.log.Warn("join room failed", zap.String("player_id", p.ID), zap.Error(err))
		h.sendError(p, protocol.CodeProcessingError, err.Error())
	}
}

// joinRoom adds p to r once the password is settled. Joining a room p is
// already in only repeats the ack.
func (h *Hub) joinRoom(p *Player, r *room.Room) error {
	if r.Has(p.ID) {
		h.send(p, protocol.TypeJoinRoom, protocol.RoomReply{Success: true, RoomID: r.ID, Players: h.memberNames(r)})
		return nil
	}
	if r.IsFull() {
		h.sendError(p, protocol.CodeRoomFull, "room is full")
		return nil
	}
	h.leaveRoom(p, false)
	if err := r.Add(p.ID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	p.RoomID = r.ID
	h.log.Info("player joined room", zap.String("room_id", r.ID), zap.String("player_id", p.ID))

	players := h.memberNames(r)
	h.send(p, protocol.TypeJoinRoom, protocol.RoomReply{Success: true, RoomID: r.ID, Players: players})
	h.broadcast(r, protocol.TypeRoomInfo, protocol.RoomInfo{
		Event:      protocol.RoomPlayerJoined,
		PlayerName: p.Name,
		Players:    players,
	}, p.ID)
	return nil
}

func (h *Hub) handleLeaveRoom(p *Player, _ protocol.Message) error {
	h.leaveRoom(p, true)
	return nil
}

// leaveRoom detaches p from its room, notifies the remaining members and
// deletes the room once empty. With reply set, p gets a leave_room ack.
func (h *Hub) leaveRoom(p *Player, reply bool) {
	if p.RoomID == "" {
		return
	}
	r := h.rooms[p.RoomID]
	p.RoomID = ""
	if r != nil {
		r.Remove(p.ID)
		if r.IsEmpty() {
			delete(h.rooms, r.ID)
			h.log.Info("room closed", zap.String("room_id", r.ID))
		} else {
			h.broadcast(r, protocol.TypeRoomInfo, protocol.RoomInfo{
				Event:      protocol.RoomPlayerLeft,
				PlayerName: p.Name,
				Players:    h.memberNames(r),
			}, p.ID)
		}
	}
	if reply {
		h.send(p, protocol.TypeLeaveRoom, protocol.RoomReply{Success: true})
	}
}

func (h *Hub) handleListRooms(p *Player, _ protocol.Message) error {
	h.send(p, protocol.TypeListRooms, protocol.RoomList{Rooms: h.roomSummaries()})
	return nil
}

// relay forwards gameplay traffic to the rest of the room with the sender
// stamped on. Players outside a room are ignored.
func (h *Hub) relay(p *Player, m protocol.Message) error {
	r := h.rooms[p.RoomID]
	if r == nil {
		return nil
	}
	b, err := protocol.Rewrap(m.Type, m.Data, protocol.Origin{PlayerID: p.ID, PlayerName: p.Name})
	if err != nil {
		return err
	}
	h.broadcastRaw(r, b, p.ID)
	return nil
}

func (h *Hub) handleChat(p *Player, m protocol.Message) error {
	r := h.rooms[p.RoomID]
	if r == nil {
		return nil
	}
	in, err := protocol.DecodeData[protocol.ChatPayload](m)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	h.broadcast(r, protocol.TypeChatMessage, protocol.ChatPayload{
		Message:    in.Message,
		PlayerID:   p.ID,
		PlayerName: p.Name,
		Timestamp:  float64(h.cfg.Clock().UnixNano()) / 1e9,
	}, p.ID)
	return nil
}

func (h *Hub) memberNames(r *room.Room) []string {
	ids := r.Members()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if p := h.players[id]; p != nil {
			names = append(names, p.Name)
		}
	}
	return names
}

func (h *Hub) roomSummaries() []protocol.RoomSummary {
	out := make([]protocol.RoomSummary, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r.Summary(h.memberNames(r)))
	}
	slices.SortFunc(out, func(a, b protocol.RoomSummary) int { return strings.Compare(a.RoomID, b.RoomID) })
	return out
}

func (h *Hub) send(p *Player, t protocol.MessageType, data any) {
	b, err := protocol.CreateMessage(t, data)
	if err != nil {
		h.log.Error("encode reply", zap.String("type", string(t)), zap.Error(err))
		return
	}
	if !p.sess.Send(b) {
		h.log.Warn("outbox full, closing", zap.String("player_id", p.ID))
		p.sess.Close()
	}
}

func (h *Hub) sendError(p *Player, code, message string) {
	h.send(p, protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
}

func (h *Hub) broadcast(r *room.Room, t protocol.MessageType, data any, exclude string) {
	b, err := protocol.CreateMessage(t, data)
	if err != nil {
		h.log.Error("encode broadcast", zap.String("type", string(t)), zap.Error(err))
		return
	}
	h.broadcastRaw(r, b, exclude)
}

// broadcastRaw is best effort: a member whose send fails is dropped from the
// room and its connection is closed, and the room goes away once empty.
func (h *Hub) broadcastRaw(r *room.Room, payload []byte, exclude string) {
	var failed []string
	for _, id := range r.Members() {
		if id == exclude {
			continue
		}
		p := h.players[id]
		if p == nil || !p.sess.Send(payload) {
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		r.Remove(id)
		if p := h.players[id]; p != nil {
			p.RoomID = ""
			p.sess.Close()
		}
		h.log.Warn("dropped slow room member", zap.String("room_id", r.ID), zap.String("player_id", id))
	}
	if r.IsEmpty() {
		delete(h.rooms, r.ID)
	}
}
