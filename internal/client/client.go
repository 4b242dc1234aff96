// Package client holds the peer-side relay transports. TCP and UDP share one
// contract so the game code can swap them without caring which is in use.
package client

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrQueueFull        = errors.New("send queue full")
	ErrDatagramSize     = errors.New("message exceeds datagram size")
)

const ReasonClientDisconnect = "client disconnect"

// Handlers are invoked from the transport's own goroutines. They must not
// block for long and must not touch game-loop state directly.
type Handlers struct {
	OnConnected    func()
	OnDisconnected func(reason string)
	OnMessage      func(protocol.Message)
	OnError        func(code, message string)
}

type Client interface {
	Connect(host string, port int, name string) error
	Disconnect() error

	CreateRoom(roomID, password string) error
	JoinRoom(roomID, password string) error
	LeaveRoom() error
	ListRooms() error

	SendGameAction(action protocol.GameAction, args map[string]any) error
	SendGameState(ev protocol.GameEvent) error
	SendChat(text string) error

	Connected() bool
	PlayerID() string
	Name() string
	RoomID() string
	Latency() LatencyInfo
}

type Options struct {
	DialTimeout       time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	QueueSize         int
	Logger            *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 90 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type LatencyInfo struct {
	Connected   bool      `json:"connected"`
	LastInbound time.Time `json:"last_inbound"`
	Sequence    uint32    `json:"sequence"`
	Protocol    string    `json:"protocol"`
}

// link is the lifetime of one connection. Teardown runs at most once.
type link struct {
	done    chan struct{}
	once    sync.Once
	leaving atomic.Bool
	closer  io.Closer
}

func newLink(c io.Closer) *link {
	return &link{done: make(chan struct{}), closer: c}
}

// core is the transport-independent half of a client: identity, callbacks
// and the request helpers. Each transport supplies tx.
type core struct {
	h        Handlers
	opts     Options
	log      *zap.Logger
	protocol string
	tx       func(protocol.Message) error

	connected   atomic.Bool
	lastInbound atomic.Int64

	mu       sync.Mutex
	playerID string
	name     string
	roomID   string
}

func (c *core) init(h Handlers, opts Options, proto string) {
	c.h = h
	c.opts = opts.withDefaults()
	c.log = c.opts.Logger.Named("client").With(zap.String("protocol", proto))
	c.protocol = proto
}

func (c *core) begin(name string) {
	c.mu.Lock()
	c.name = name
	c.playerID = ""
	c.roomID = ""
	c.mu.Unlock()
	c.lastInbound.Store(time.Now().UnixNano())
	c.connected.Store(true)
}

func (c *core) Connected() bool { return c.connected.Load() }

func (c *core) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *core) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *core) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *core) latency(seq uint32) LatencyInfo {
	return LatencyInfo{
		Connected:   c.connected.Load(),
		LastInbound: time.Unix(0, c.lastInbound.Load()),
		Sequence:    seq,
		Protocol:    c.protocol,
	}
}

func (c *core) CreateRoom(roomID, password string) error {
	return c.request(protocol.CodeRoomError, protocol.TypeCreateRoom, protocol.RoomRequest{RoomID: roomID, Password: password})
}

func (c *core) JoinRoom(roomID, password string) error {
	return c.request(protocol.CodeRoomError, protocol.TypeJoinRoom, protocol.RoomRequest{RoomID: roomID, Password: password})
}

func (c *core) LeaveRoom() error {
	if err := c.request(protocol.CodeRoomError, protocol.TypeLeaveRoom, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.roomID = ""
	c.mu.Unlock()
	return nil
}

func (c *core) ListRooms() error {
	return c.request(protocol.CodeRoomError, protocol.TypeListRooms, nil)
}

func (c *core) SendChat(text string) error {
	return c.request(protocol.CodeChatError, protocol.TypeChatMessage, protocol.ChatPayload{Message: text})
}

func (c *core) SendGameAction(action protocol.GameAction, args map[string]any) error {
	return c.fast(protocol.TypePlayerAction, protocol.ActionPayload{Action: action, Args: args})
}

func (c *core) SendGameState(ev protocol.GameEvent) error {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		c.log.Debug("dropping game state", zap.Error(err))
		return nil
	}
	return c.fast(protocol.TypeGameState, data)
}

// request sends a lobby message; failures are reported through OnError under
// code and returned.
func (c *core) request(code string, t protocol.MessageType, data any) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	m, err := protocol.NewMessage(t, data)
	if err == nil {
		err = c.tx(m)
	}
	if err != nil {
		c.report(code, fmt.Sprintf("%s: %v", t, err))
		return err
	}
	return nil
}

// fast is the gameplay path: anything past the connected check is dropped
// quietly so the game loop never waits on error handling.
func (c *core) fast(t protocol.MessageType, data any) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	m, err := protocol.NewMessage(t, data)
	if err == nil {
		err = c.tx(m)
	}
	if err != nil {
		c.log.Debug("dropped message", zap.String("type", string(t)), zap.Error(err))
	}
	return nil
}

func (c *core) report(code, message string) {
	if c.h.OnError != nil {
		c.h.OnError(code, message)
	}
}

// observe tracks identity changes carried by server replies before handing
// the message to OnMessage.
func (c *core) observe(m protocol.Message) {
	c.lastInbound.Store(time.Now().UnixNano())
	switch m.Type {
	case protocol.TypeConnect:
		if r, err := protocol.DecodeData[protocol.ConnectReply](m); err == nil && r.Success {
			c.mu.Lock()
			c.playerID = r.PlayerID
			c.mu.Unlock()
		}
	case protocol.TypeCreateRoom, protocol.TypeJoinRoom:
		if r, err := protocol.DecodeData[protocol.RoomReply](m); err == nil && r.Success {
			c.mu.Lock()
			c.roomID = r.RoomID
			c.mu.Unlock()
		}
	case protocol.TypeLeaveRoom:
		c.mu.Lock()
		c.roomID = ""
		c.mu.Unlock()
	}
	if c.h.OnMessage != nil {
		c.h.OnMessage(m)
	}
}

// fail tears l down after an unrecoverable error, unless the user already
// asked to leave, in which case it is an ordinary disconnect.
func (c *core) fail(l *link, reason string, err error) {
	if l.leaving.Load() {
		c.teardown(l, ReasonClientDisconnect, nil)
		return
	}
	c.teardown(l, reason, err)
}

func (c *core) teardown(l *link, reason string, err error) {
	l.once.Do(func() {
		close(l.done)
		_ = l.closer.Close()
		c.connected.Store(false)
		if err != nil {
			c.log.Warn("connection lost", zap.String("reason", reason), zap.Error(err))
			c.report(protocol.CodeConnectionError, fmt.Sprintf("%s: %v", reason, err))
		} else {
			c.log.Info("disconnected", zap.String("reason", reason))
		}
		if c.h.OnDisconnected != nil {
			c.h.OnDisconnected(reason)
		}
	})
}
