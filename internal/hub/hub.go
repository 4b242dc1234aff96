package hub

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/DoyleJ11/tetris-versus/internal/room"
	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

type HubMsg interface{ isHubMsg() }

// Register adds a new player for a freshly accepted session. Reply must be
// buffered; it receives the assigned player id.
type Register struct {
	Session       Session
	Transport     string
	Timeout       time.Duration
	EchoHeartbeat bool
	Reply         chan string
}

type Unregister struct {
	PlayerID string
	Reason   string
}

// Inbound carries one parsed message read by a transport goroutine.
type Inbound struct {
	PlayerID string
	Msg      protocol.Message
	At       time.Time
}

// Touch refreshes liveness for traffic that did not parse.
type Touch struct {
	PlayerID string
	At       time.Time
}

type SweepIdle struct {
	Now   time.Time
	Reply chan []string // optional
}

type SweepRooms struct {
	Reply chan int // optional
}

type GetStats struct {
	Reply chan Stats
}

type GetRooms struct {
	Reply chan []protocol.RoomSummary
}

type GetPlayer struct {
	PlayerID string
	Reply    chan *PlayerView
}

type NoteOutOfOrder struct{ PlayerID string }

type ShutdownHub struct{}

func (Register) isHubMsg()       {}
func (Unregister) isHubMsg()     {}
func (Inbound) isHubMsg()        {}
func (Touch) isHubMsg()          {}
func (SweepIdle) isHubMsg()      {}
func (SweepRooms) isHubMsg()     {}
func (GetStats) isHubMsg()       {}
func (GetRooms) isHubMsg()       {}
func (GetPlayer) isHubMsg()      {}
func (NoteOutOfOrder) isHubMsg() {}
func (ShutdownHub) isHubMsg()    {}

type Stats struct {
	Players             int     `json:"players"`
	Rooms               int     `json:"rooms"`
	TotalConnections    int64   `json:"total_connections"`
	UptimeSeconds       float64 `json:"uptime"`
	OutOfOrderDatagrams int64   `json:"out_of_order_datagrams"`
}

// Observer hears about player lifecycle changes. It is called from the hub
// goroutine and must not block.
type Observer interface {
	PlayerConnected(p PlayerView)
	PlayerDisconnected(p PlayerView, reason string)
}

type Config struct {
	ServerName        string
	Version           string
	DefaultMaxPlayers int
	PasswordCost      int
	PasswordWorkers   int // concurrent bcrypt calls, defaults to GOMAXPROCS
	Clock             func() time.Time
	Observer          Observer
}

type nopObserver struct{}

func (nopObserver) PlayerConnected(PlayerView)            {}
func (nopObserver) PlayerDisconnected(PlayerView, string) {}

// Hub owns the player and room registries. Both maps are only touched from
// the loop goroutine; everything else talks to it through the inbox.
type Hub struct {
	inbox   chan HubMsg
	players map[string]*Player
	rooms   map[string]*room.Room
	cfg     Config
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	hashers *semaphore.Weighted

	seq        int64
	total      int64
	outOfOrder int64
	startedAt  time.Time
}

func NewHub(parent context.Context, cfg Config, log *zap.Logger) *Hub {
	h := newHub(parent, cfg, log)
	go h.loop()
	return h
}

// newHub builds the hub without starting its loop.
func newHub(parent context.Context, cfg Config, log *zap.Logger) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.DefaultMaxPlayers <= 0 {
		cfg.DefaultMaxPlayers = room.DefaultMaxPlayers
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "Tetris Versus Relay"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.PasswordWorkers <= 0 {
		cfg.PasswordWorkers = runtime.GOMAXPROCS(0)
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:     make(chan HubMsg, 256),
		players:   make(map[string]*Player),
		rooms:     make(map[string]*room.Room),
		cfg:       cfg,
		log:       log.Named("hub"),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
		hashers:   semaphore.NewWeighted(int64(cfg.PasswordWorkers)),
		startedAt: cfg.Clock(),
	}
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

// Stopped is closed once the loop has exited and every session was closed.
func (h *Hub) Stopped() <-chan struct{} { return h.stopped }

// Post delivers m unless the hub has already stopped.
func (h *Hub) Post(m HubMsg) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Ask posts the message built around a fresh reply channel and waits for the
// answer. ok is false when the hub stopped first.
func Ask[T any](h *Hub, build func(reply chan T) HubMsg) (v T, ok bool) {
	reply := make(chan T, 1)
	if !h.Post(build(reply)) {
		return v, false
	}
	select {
	case v = <-reply:
		return v, true
	case <-h.ctx.Done():
		return v, false
	}
}

func (h *Hub) loop() {
	defer close(h.stopped)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				msg.Reply <- h.register(msg)

			case Unregister:
				if p := h.players[msg.PlayerID]; p != nil {
					reason := msg.Reason
					if reason == "" {
						reason = "connection closed"
					}
					h.evict(p, reason)
				}

			case Inbound:
				p := h.players[msg.PlayerID]
				if p == nil {
					break
				}
				h.dispatch(p, msg.Msg)
				p.LastSeen = msg.At

			case Touch:
				if p := h.players[msg.PlayerID]; p != nil {
					p.LastSeen = msg.At
				}

			case SweepIdle:
				evicted := h.sweepIdle(msg.Now)
				if msg.Reply != nil {
					msg.Reply <- evicted
				}

			case SweepRooms:
				n := h.sweepRooms()
				if msg.Reply != nil {
					msg.Reply <- n
				}

			case GetStats:
				msg.Reply <- Stats{
					Players:             len(h.players),
					Rooms:               len(h.rooms),
					TotalConnections:    h.total,
					UptimeSeconds:       h.cfg.Clock().Sub(h.startedAt).Seconds(),
					OutOfOrderDatagrams: h.outOfOrder,
				}

			case GetRooms:
				msg.Reply <- h.roomSummaries()

			case GetPlayer:
				var view *PlayerView
				if p := h.players[msg.PlayerID]; p != nil {
					v := p.view()
					view = &v
				}
				msg.Reply <- view

			case NoteOutOfOrder:
				h.outOfOrder++

			case roomHashed:
				h.finishCreate(msg)

			case passwordChecked:
				h.finishJoin(msg)

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) register(msg Register) string {
	now := h.cfg.Clock()
	h.seq++
	h.total++
	id := fmt.Sprintf("player_%d_%d", h.seq, now.Unix())
	p := &Player{
		ID:            id,
		Connected:     true,
		LastSeen:      now,
		Timeout:       msg.Timeout,
		Transport:     msg.Transport,
		EchoHeartbeat: msg.EchoHeartbeat,
		sess:          msg.Session,
	}
	h.players[id] = p
	h.cfg.Observer.PlayerConnected(p.view())
	h.log.Info("player connected",
		zap.String("player_id", id),
		zap.String("transport", msg.Transport),
		zap.String("remote", msg.Session.RemoteAddr()))
	return id
}

// evict removes p from its room and the registry and asks its transport to
// drop the connection.
func (h *Hub) evict(p *Player, reason string) {
	h.leaveRoom(p, false)
	delete(h.players, p.ID)
	p.Connected = false
	p.sess.Close()
	v := p.view()
	v.LastSeen = h.cfg.Clock()
	h.cfg.Observer.PlayerDisconnected(v, reason)
	h.log.Info("player disconnected",
		zap.String("player_id", p.ID),
		zap.String("name", p.Name),
		zap.String("reason", reason))
}

func (h *Hub) sweepIdle(now time.Time) []string {
	var idle []*Player
	for _, p := range h.players {
		if p.Timeout > 0 && now.Sub(p.LastSeen) > p.Timeout {
			idle = append(idle, p)
		}
	}
	ids := make([]string, 0, len(idle))
	for _, p := range idle {
		h.evict(p, "heartbeat timeout")
		ids = append(ids, p.ID)
	}
	return ids
}

func (h *Hub) sweepRooms() int {
	n := 0
	for id, r := range h.rooms {
		if r.IsEmpty() {
			delete(h.rooms, id)
			h.log.Info("removed empty room", zap.String("room_id", id))
			n++
		}
	}
	return n
}

func (h *Hub) shutdown() {
	for _, p := range h.players {
		p.Connected = false
		p.sess.Close()
		h.cfg.Observer.PlayerDisconnected(p.view(), "server shutdown")
	}
	clear(h.players)
	clear(h.rooms)
}
