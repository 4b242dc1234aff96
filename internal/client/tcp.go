package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

// TCP is the reliable stream transport. Frames are length prefixed and written
// by one goroutine draining a bounded queue, so senders never block.
type TCP struct {
	core
	cur atomic.Pointer[streamLink]
}

type streamLink struct {
	*link
	nc         net.Conn
	out        chan []byte
	closing    chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}
}

var _ Client = (*TCP)(nil)

func NewTCP(h Handlers, opts Options) *TCP {
	c := &TCP{}
	c.init(h, opts, "tcp")
	c.tx = c.transmit
	return c
}

func (c *TCP) Connect(host string, port int, name string) error {
	if c.connected.Load() {
		return ErrAlreadyConnected
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nc, err := net.DialTimeout("tcp", addr, c.opts.DialTimeout)
	if err != nil {
		c.report(protocol.CodeConnectionError, fmt.Sprintf("dial %s: %v", addr, err))
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	l := &streamLink{
		link:       newLink(nc),
		nc:         nc,
		out:        make(chan []byte, c.opts.QueueSize),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	c.cur.Store(l)
	c.begin(name)

	go c.writeLoop(l)
	go c.readLoop(l)
	go c.heartbeatLoop(l)

	if err := c.request(protocol.CodeConnectionError, protocol.TypeConnect, protocol.ConnectRequest{PlayerName: name}); err != nil {
		c.teardown(l.link, "connect failed", err)
		return err
	}
	c.log.Info("connected", zap.String("addr", addr), zap.String("name", name))
	if c.h.OnConnected != nil {
		c.h.OnConnected()
	}
	return nil
}

// Disconnect queues a disconnect notice, lets the writer flush and closes the
// socket. It is a no-op when not connected.
func (c *TCP) Disconnect() error {
	l := c.cur.Load()
	if l == nil || !c.connected.Load() {
		return nil
	}
	l.leaving.Store(true)
	if m, err := protocol.NewMessage(protocol.TypeDisconnect, nil); err == nil {
		_ = c.enqueue(l, m)
	}
	l.closeOnce.Do(func() { close(l.closing) })

	select {
	case <-l.writerDone:
	case <-time.After(c.opts.WriteTimeout):
	}
	c.teardown(l.link, ReasonClientDisconnect, nil)
	return nil
}

func (c *TCP) Latency() LatencyInfo { return c.latency(0) }

func (c *TCP) transmit(m protocol.Message) error {
	l := c.cur.Load()
	if l == nil {
		return ErrNotConnected
	}
	return c.enqueue(l, m)
}

func (c *TCP) enqueue(l *streamLink, m protocol.Message) error {
	b, err := m.Encode()
	if err != nil {
		return err
	}
	if len(b) > protocol.MaxFrameSize {
		return protocol.ErrFrameSize
	}
	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}
	select {
	case l.out <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *TCP) writeLoop(l *streamLink) {
	defer close(l.writerDone)

	write := func(b []byte) bool {
		_ = l.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		if err := protocol.WriteFrame(l.nc, b); err != nil {
			c.fail(l.link, "send failed", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-l.done:
			return
		case b := <-l.out:
			if !write(b) {
				return
			}
		case <-l.closing:
			for {
				select {
				case b := <-l.out:
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

func (c *TCP) readLoop(l *streamLink) {
	for {
		b, err := protocol.ReadFrame(l.nc, protocol.MaxFrameSize)
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrFrameSize):
				c.fail(l.link, "protocol corruption", err)
			default:
				c.fail(l.link, "connection closed", err)
			}
			return
		}
		m, ok := protocol.ParseMessage(b)
		if !ok {
			c.log.Debug("dropping unparseable frame", zap.Int("bytes", len(b)))
			continue
		}
		c.observe(m)
	}
}

// The relay evicts silent stream players after a minute, so idle lobby
// clients keep themselves alive.
func (c *TCP) heartbeatLoop(l *streamLink) {
	t := time.NewTicker(c.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			_ = c.fast(protocol.TypeHeartbeat, nil)
		}
	}
}
