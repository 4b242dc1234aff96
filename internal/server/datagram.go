package server

import (
	"context"
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-versus/internal/hub"
	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

type datagram struct {
	addr *net.UDPAddr
	b    []byte
}

// datagramSession stands in for one UDP peer, keyed by its source address.
// All peers share the server socket, so Send only queues onto the writer.
type datagramSession struct {
	addr    *net.UDPAddr
	out     chan<- datagram
	closed  atomic.Bool
	id      string
	lastSeq uint32
}

func (d *datagramSession) Send(b []byte) bool {
	if d.closed.Load() {
		return false
	}
	select {
	case d.out <- datagram{addr: d.addr, b: b}:
		return true
	default:
		return false
	}
}

func (d *datagramSession) Close() { d.closed.Store(true) }

func (d *datagramSession) RemoteAddr() string { return d.addr.String() }

// readDatagrams is the only goroutine that touches the address table.
func (s *Server) readDatagrams(ctx context.Context) error {
	log := s.log.Named("udp")
	peers := make(map[string]*datagramSession)
	buf := make([]byte, protocol.MaxDatagramSize+1)

	for {
		_ = s.pc.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := s.pc.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				prune(peers)
				continue
			}
			log.Debug("read failed", zap.Error(err))
			continue
		}
		if n > protocol.MaxDatagramSize {
			log.Debug("dropping oversized datagram", zap.Stringer("from", addr), zap.Int("size", n))
			continue
		}

		m, ok := protocol.ParseMessage(buf[:n])
		key := addr.String()
		peer := peers[key]
		if peer != nil && peer.closed.Load() {
			delete(peers, key)
			peer = nil
		}

		if peer == nil {
			if !ok {
				continue
			}
			peer = &datagramSession{addr: addr, out: s.dgramOut}
			id, registered := hub.Ask(s.hub, func(reply chan string) hub.HubMsg {
				return hub.Register{
					Session:       peer,
					Transport:     "udp",
					Timeout:       s.opts.DatagramTimeout,
					EchoHeartbeat: true,
					Reply:         reply,
				}
			})
			if !registered {
				return nil
			}
			peer.id = id
			peers[key] = peer
		}

		now := time.Now()
		if !ok {
			s.hub.Post(hub.Touch{PlayerID: peer.id, At: now})
			continue
		}
		if m.Sequence != 0 {
			if m.Sequence <= peer.lastSeq {
				log.Debug("out-of-order datagram",
					zap.String("player_id", peer.id),
					zap.Uint32("seq", m.Sequence),
					zap.Uint32("last", peer.lastSeq))
				s.hub.Post(hub.NoteOutOfOrder{PlayerID: peer.id})
			} else {
				peer.lastSeq = m.Sequence
			}
		}
		if !s.hub.Post(hub.Inbound{PlayerID: peer.id, Msg: m, At: now}) {
			return nil
		}
		if m.Type == protocol.TypeDisconnect {
			peer.Close()
			delete(peers, key)
		}
	}
}

func prune(peers map[string]*datagramSession) {
	for k, p := range peers {
		if p.closed.Load() {
			delete(peers, k)
		}
	}
}

func (s *Server) writeDatagrams(ctx context.Context) error {
	log := s.log.Named("udp")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-s.dgramOut:
			if len(d.b) > protocol.MaxDatagramSize {
				log.Warn("message too large for a datagram",
					zap.Stringer("to", d.addr), zap.Int("size", len(d.b)))
				continue
			}
			_ = s.pc.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if _, err := s.pc.WriteToUDP(d.b, d.addr); err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				log.Debug("write failed", zap.Stringer("to", d.addr), zap.Error(err))
			}
		}
	}
}
