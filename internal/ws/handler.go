package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-versus/internal/hub"
	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

type Options struct {
	Timeout        time.Duration // liveness window before the hub evicts
	OutboxSize     int
	WriteTimeout   time.Duration
	OriginPatterns []string
}

// session adapts one websocket to hub.Session. Each text message carries
// exactly one envelope, so no length prefix is needed.
type session struct {
	out    chan []byte
	done   chan struct{}
	once   sync.Once
	remote string
}

func (s *session) Send(b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- b:
		return true
	default:
		return false
	}
}

func (s *session) Close() { s.once.Do(func() { close(s.done) }) }

func (s *session) RemoteAddr() string { return s.remote }

// writeLoop pushes queued envelopes to conn until the session closes. On
// close it flushes what the hub queued first, e.g. a final error.
func (s *session) writeLoop(ctx context.Context, conn *websocket.Conn, timeout time.Duration) {
	write := func(b []byte) bool {
		wctx, cancel := context.WithTimeout(ctx, timeout)
		err := conn.Write(wctx, websocket.MessageText, b)
		cancel()
		if err != nil {
			s.Close()
			conn.CloseNow()
			return false
		}
		return true
	}
	for {
		select {
		case b := <-s.out:
			if !write(b) {
				return
			}
		case <-s.done:
			for {
				select {
				case b := <-s.out:
					if !write(b) {
						return
					}
				default:
					conn.Close(websocket.StatusNormalClosure, "bye")
					return
				}
			}
		}
	}
}

func Handler(h *hub.Hub, opts Options, log *zap.Logger) http.HandlerFunc {
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// empty means same-origin only
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		conn.SetReadLimit(protocol.MaxFrameSize)

		sess := &session{
			out:    make(chan []byte, opts.OutboxSize),
			done:   make(chan struct{}),
			remote: r.RemoteAddr,
		}
		id, ok := hub.Ask(h, func(reply chan string) hub.HubMsg {
			return hub.Register{Session: sess, Transport: "ws", Timeout: opts.Timeout, EchoHeartbeat: true, Reply: reply}
		})
		if !ok {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}

		// Writer goroutine
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			sess.writeLoop(r.Context(), conn, opts.WriteTimeout)
		}()

		reason := "connection closed"
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read failed", zap.String("player_id", id), zap.Error(err))
				}
				break
			}
			now := time.Now()
			m, ok := protocol.ParseMessage(data)
			if typ != websocket.MessageText || !ok {
				h.Post(hub.Touch{PlayerID: id, At: now})
				continue
			}
			if !h.Post(hub.Inbound{PlayerID: id, Msg: m, At: now}) {
				reason = "server shutdown"
				break
			}
			if m.Type == protocol.TypeDisconnect {
				reason = "client disconnect"
				break
			}
		}

		sess.Close()
		h.Post(hub.Unregister{PlayerID: id, Reason: reason})
		<-writerDone
	}
}
