package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/tetris-versus/internal/config"
	"github.com/DoyleJ11/tetris-versus/internal/httpapi"
	"github.com/DoyleJ11/tetris-versus/internal/hub"
	"github.com/DoyleJ11/tetris-versus/internal/ws"
)

const Version = "1.0.0"

type Options struct {
	Addr      string // stream listener, host:port
	UDPAddr   string // empty disables the datagram relay
	AdminAddr string // empty disables the admin HTTP server

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DatagramTimeout   time.Duration
	CleanupInterval   time.Duration
	WriteTimeout      time.Duration
	OutboxSize        int

	Hub hub.Config
}

func OptionsFrom(c config.Config) Options {
	o := Options{
		Addr:              c.Addr(),
		AdminAddr:         c.AdminAddr,
		HeartbeatInterval: c.HeartbeatInterval,
		HeartbeatTimeout:  c.HeartbeatTimeout,
		DatagramTimeout:   c.DatagramTimeout,
		CleanupInterval:   c.CleanupInterval,
		WriteTimeout:      c.WriteTimeout,
		OutboxSize:        c.OutboxSize,
		Hub: hub.Config{
			ServerName:        "Tetris Versus Relay",
			Version:           Version,
			DefaultMaxPlayers: c.RoomMaxPlayers,
			PasswordCost:      c.RoomPasswordCost,
		},
	}
	if c.UDPPort > 0 {
		o.UDPAddr = net.JoinHostPort(c.Host, strconv.Itoa(c.UDPPort))
	}
	return o
}

func (o Options) withDefaults() Options {
	d := config.Default()
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if o.DatagramTimeout <= 0 {
		o.DatagramTimeout = d.DatagramTimeout
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = d.CleanupInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = d.OutboxSize
	}
	return o
}

// Server is the relay: a stream listener, an optional datagram socket and an
// optional admin HTTP server, all feeding one hub.
type Server struct {
	opts Options
	log  *zap.Logger

	hub    *hub.Hub
	cancel context.CancelFunc
	group  *errgroup.Group
	conns  sync.WaitGroup

	ln    net.Listener
	pc    *net.UDPConn
	admin net.Listener
	http  *http.Server

	dgramOut chan datagram

	stopOnce sync.Once
	stopErr  error
}

func New(opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{opts: opts.withDefaults(), log: log.Named("server")}
}

// Start binds every configured socket and launches the accept, read and
// sweep goroutines. It returns once the relay is serving.
func (s *Server) Start(ctx context.Context) (err error) {
	if s.ln != nil {
		return errors.New("server already started")
	}

	s.ln, err = net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", s.opts.Addr, err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.closeSockets())
		}
	}()

	if s.opts.UDPAddr != "" {
		addr, rerr := net.ResolveUDPAddr("udp", s.opts.UDPAddr)
		if rerr != nil {
			return fmt.Errorf("resolve udp %s: %w", s.opts.UDPAddr, rerr)
		}
		if s.pc, err = net.ListenUDP("udp", addr); err != nil {
			return fmt.Errorf("listen udp %s: %w", s.opts.UDPAddr, err)
		}
	}

	if s.opts.AdminAddr != "" {
		if s.admin, err = net.Listen("tcp", s.opts.AdminAddr); err != nil {
			return fmt.Errorf("listen admin %s: %w", s.opts.AdminAddr, err)
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	s.hub = hub.NewHub(gctx, s.opts.Hub, s.log)

	g.Go(func() error { return s.acceptStreams(gctx) })
	if s.pc != nil {
		s.dgramOut = make(chan datagram, s.opts.OutboxSize*16)
		g.Go(func() error { return s.readDatagrams(gctx) })
		g.Go(func() error { return s.writeDatagrams(gctx) })
	}
	if s.admin != nil {
		s.http = &http.Server{
			Handler: httpapi.SetupRoutes(s.hub, ws.Options{
				Timeout:      s.opts.HeartbeatTimeout,
				OutboxSize:   s.opts.OutboxSize,
				WriteTimeout: s.opts.WriteTimeout,
			}, s.log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := s.http.Serve(s.admin); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin http: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return s.every(gctx, s.opts.HeartbeatInterval, func(now time.Time) hub.HubMsg { return hub.SweepIdle{Now: now} })
	})
	g.Go(func() error {
		return s.every(gctx, s.opts.CleanupInterval, func(time.Time) hub.HubMsg { return hub.SweepRooms{} })
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdownSockets()
	})

	s.log.Info("relay started",
		zap.String("tcp", addrString(s.Addr())),
		zap.String("udp", addrString(s.UDPAddr())),
		zap.String("admin", addrString(s.AdminAddr())))
	return nil
}

// Stop disconnects every player and closes all sockets. It is safe to call
// more than once.
func (s *Server) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.stopOnce.Do(func() {
		s.cancel()
		s.stopErr = s.group.Wait()
		<-s.hub.Stopped()
		s.conns.Wait()
		s.log.Info("relay stopped")
	})
	return s.stopErr
}

// Wait blocks until the relay stops on its own, for instance after a fatal
// listener error.
func (s *Server) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

func (s *Server) Hub() *hub.Hub { return s.hub }

func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) UDPAddr() net.Addr {
	if s.pc == nil {
		return nil
	}
	return s.pc.LocalAddr()
}

func (s *Server) AdminAddr() net.Addr {
	if s.admin == nil {
		return nil
	}
	return s.admin.Addr()
}

func addrString(a net.Addr) string {
	if a == nil {
		return "off"
	}
	return a.String()
}

func (s *Server) every(ctx context.Context, d time.Duration, msg func(time.Time) hub.HubMsg) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			s.hub.Post(msg(now))
		}
	}
}

func (s *Server) shutdownSockets() error {
	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		err = multierr.Append(err, s.http.Shutdown(ctx))
		cancel()
	}
	return multierr.Append(err, s.closeSockets())
}

func (s *Server) closeSockets() error {
	var err error
	closeOne := func(c interface{ Close() error }) {
		if cerr := c.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	if s.ln != nil {
		closeOne(s.ln)
	}
	if s.pc != nil {
		closeOne(s.pc)
	}
	if s.admin != nil {
		closeOne(s.admin)
	}
	return err
}
