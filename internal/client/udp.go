package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

// UDP is the best-effort datagram transport: one datagram per message, every
// outgoing message stamped with a sequence number and the player id.
type UDP struct {
	core
	cur atomic.Pointer[datagramLink]
	seq atomic.Uint32
}

type datagramLink struct {
	*link
	pc     *net.UDPConn
	server *net.UDPAddr
}

var _ Client = (*UDP)(nil)

var errServerSilent = errors.New("no response from server")

func NewUDP(h Handlers, opts Options) *UDP {
	c := &UDP{}
	c.init(h, opts, "udp")
	c.tx = c.transmit
	return c
}

func (c *UDP) Connect(host string, port int, name string) error {
	if c.connected.Load() {
		return ErrAlreadyConnected
	}
	if host == "localhost" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	server, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		c.report(protocol.CodeConnectionError, fmt.Sprintf("resolve %s: %v", addr, err))
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	pc, err := net.ListenUDP("udp", nil)
	if err != nil {
		c.report(protocol.CodeConnectionError, fmt.Sprintf("listen: %v", err))
		return fmt.Errorf("listen: %w", err)
	}

	l := &datagramLink{link: newLink(pc), pc: pc, server: server}
	c.cur.Store(l)
	c.seq.Store(0)
	c.begin(name)

	if err := c.request(protocol.CodeConnectionError, protocol.TypeConnect, protocol.ConnectRequest{PlayerName: name}); err != nil {
		c.teardown(l.link, "connect failed", err)
		return err
	}

	go c.readLoop(l)
	go c.heartbeatLoop(l)

	c.log.Info("connected", zap.String("addr", server.String()), zap.String("name", name))
	if c.h.OnConnected != nil {
		c.h.OnConnected()
	}
	return nil
}

func (c *UDP) Disconnect() error {
	l := c.cur.Load()
	if l == nil || !c.connected.Load() {
		return nil
	}
	l.leaving.Store(true)
	if m, err := protocol.NewMessage(protocol.TypeDisconnect, nil); err == nil {
		_ = c.transmit(m)
	}
	c.teardown(l.link, ReasonClientDisconnect, nil)
	return nil
}

func (c *UDP) Latency() LatencyInfo { return c.latency(c.seq.Load()) }

func (c *UDP) transmit(m protocol.Message) error {
	l := c.cur.Load()
	if l == nil {
		return ErrNotConnected
	}
	m.Sequence = c.seq.Add(1)
	m.PlayerID = c.PlayerID()
	b, err := m.Encode()
	if err != nil {
		return err
	}
	if len(b) > protocol.MaxDatagramSize {
		return ErrDatagramSize
	}
	_, err = l.pc.WriteToUDP(b, l.server)
	return err
}

func (c *UDP) readLoop(l *datagramLink) {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		select {
		case <-l.done:
			return
		default:
		}

		_ = l.pc.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		n, from, err := l.pc.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			c.fail(l.link, "receive failed", err)
			return
		}
		if !sameAddr(from, l.server) {
			c.log.Debug("ignoring datagram from foreign address", zap.Stringer("from", from))
			continue
		}
		m, ok := protocol.ParseMessage(buf[:n])
		if !ok {
			c.lastInbound.Store(time.Now().UnixNano())
			continue
		}
		c.observe(m)
	}
}

func (c *UDP) heartbeatLoop(l *datagramLink) {
	t := time.NewTicker(c.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			_ = c.fast(protocol.TypeHeartbeat, nil)
			if time.Since(time.Unix(0, c.lastInbound.Load())) > c.opts.HeartbeatTimeout {
				c.fail(l.link, "heartbeat timeout", errServerSilent)
				return
			}
		}
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a != nil && b != nil && a.Port == b.Port && a.IP.Equal(b.IP)
}
