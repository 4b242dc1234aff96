package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-versus/internal/hub"
	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

// streamSession is the hub's handle on one length-prefixed TCP connection.
type streamSession struct {
	conn net.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *streamSession) Send(b []byte) bool {
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

func (s *streamSession) Close() { s.once.Do(func() { close(s.done) }) }

func (s *streamSession) RemoteAddr() string { return s.conn.RemoteAddr().String() }

func (s *Server) acceptStreams(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serveStream(conn)
		}()
	}
}

func (s *Server) serveStream(conn net.Conn) {
	sess := &streamSession{
		conn: conn,
		out:  make(chan []byte, s.opts.OutboxSize),
		done: make(chan struct{}),
	}
	id, ok := hub.Ask(s.hub, func(reply chan string) hub.HubMsg {
		return hub.Register{Session: sess, Transport: "tcp", Timeout: s.opts.HeartbeatTimeout, Reply: reply}
	})
	if !ok {
		conn.Close()
		return
	}
	log := s.log.With(zap.String("player_id", id))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeStream(sess, log)
	}()

	reason := "connection closed"
	defer func() {
		sess.Close()
		s.hub.Post(hub.Unregister{PlayerID: id, Reason: reason})
		<-writerDone
	}()
	reason = s.readStream(id, conn, log)
}

// readStream pumps frames into the hub until the peer goes away and returns
// the disconnect reason.
func (s *Server) readStream(id string, conn net.Conn, log *zap.Logger) string {
	for {
		b, err := protocol.ReadFrame(conn, protocol.MaxFrameSize)
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrFrameSize):
				log.Warn("closing connection on bad frame length", zap.Error(err))
				return "invalid frame"
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				log.Debug("read failed", zap.Error(err))
			}
			return "connection closed"
		}

		now := time.Now()
		m, ok := protocol.ParseMessage(b)
		if !ok {
			s.hub.Post(hub.Touch{PlayerID: id, At: now})
			continue
		}
		if !s.hub.Post(hub.Inbound{PlayerID: id, Msg: m, At: now}) {
			return "server shutdown"
		}
		if m.Type == protocol.TypeDisconnect {
			return "client disconnect"
		}
	}
}

func (s *Server) writeStream(sess *streamSession, log *zap.Logger) {
	defer sess.conn.Close()
	write := func(b []byte) bool {
		_ = sess.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := protocol.WriteFrame(sess.conn, b); err != nil {
			log.Debug("write failed", zap.Error(err))
			sess.Close()
			return false
		}
		return true
	}
	for {
		select {
		case b := <-sess.out:
			if !write(b) {
				return
			}
		case <-sess.done:
			// flush whatever the hub queued before closing, e.g. a final error
			for {
				select {
				case b := <-sess.out:
					if !write(b) {
						return
					}
				default:
					return
				}
			}
		}
	}
}
