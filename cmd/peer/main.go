// Command peer is a headless lobby client for poking at a running relay.
// Lines typed on stdin are sent as chat; /rooms, /join <id> [password],
// /leave and /quit are handled locally. With -versus it also plays a match
// in -room on an autoplaying grid, so two peers exercise the garbage
// exchange end to end.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-versus/internal/client"
	"github.com/DoyleJ11/tetris-versus/internal/match"
	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

type peerConfig struct {
	transport string
	host      string
	port      int
	name      string
	roomID    string
	create    bool
	password  string
	versus    bool
	debug     bool
}

func main() {
	var cfg peerConfig
	flag.StringVar(&cfg.transport, "transport", "tcp", "tcp or udp")
	flag.StringVar(&cfg.host, "host", "localhost", "relay host")
	flag.IntVar(&cfg.port, "port", 0, "relay port (default 12345 for tcp, 12346 for udp)")
	flag.StringVar(&cfg.name, "name", "player", "display name")
	flag.StringVar(&cfg.roomID, "room", "", "room to enter after connecting")
	flag.BoolVar(&cfg.create, "create", false, "create the room instead of joining it")
	flag.StringVar(&cfg.password, "password", "", "room password")
	flag.BoolVar(&cfg.versus, "versus", false, "play a headless match in -room against whoever joins")
	flag.BoolVar(&cfg.debug, "debug", false, "verbose logging")
	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "peer:", err)
		os.Exit(1)
	}
}

func run(cfg peerConfig) error {
	if cfg.versus && cfg.roomID == "" {
		return errors.New("-versus needs -room")
	}
	log := zap.NewNop()
	if cfg.debug {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		log = l
	}

	// set before Connect, read from the client's receive goroutine
	var game *match.Session
	start := make(chan struct{}, 1)

	gone := make(chan string, 1)
	h := client.Handlers{
		OnDisconnected: func(reason string) { gone <- reason },
		OnMessage: func(m protocol.Message) {
			printMessage(m)
			if game == nil {
				return
			}
			game.HandleMessage(m)
			// the creator starts once somebody sits down
			if cfg.create && m.Type == protocol.TypeRoomInfo {
				if ri, err := protocol.DecodeData[protocol.RoomInfo](m); err == nil && ri.Event == protocol.RoomPlayerJoined {
					select {
					case start <- struct{}{}:
					default:
					}
				}
			}
		},
		OnError: func(code, msg string) { fmt.Printf("! %s: %s\n", code, msg) },
	}
	opts := client.Options{Logger: log}

	var c client.Client
	switch cfg.transport {
	case "tcp":
		c = client.NewTCP(h, opts)
		if cfg.port == 0 {
			cfg.port = 12345
		}
	case "udp":
		c = client.NewUDP(h, opts)
		if cfg.port == 0 {
			cfg.port = 12346
		}
	default:
		return fmt.Errorf("unknown transport %q", cfg.transport)
	}

	var bot *match.Autoplayer
	if cfg.versus {
		sim := match.NewGridSim()
		game = match.NewSession(sim, c, log)
		bot = match.NewAutoplayer(game, sim, 700*time.Millisecond, nil)
	}

	if err := c.Connect(cfg.host, cfg.port, cfg.name); err != nil {
		return err
	}
	defer func() { _ = c.Disconnect() }()

	if cfg.roomID != "" {
		var err error
		if cfg.create {
			err = c.CreateRoom(cfg.roomID, cfg.password)
		} else {
			err = c.JoinRoom(cfg.roomID, cfg.password)
		}
		if err != nil {
			return err
		}
	}

	result := make(chan match.Result, 1)
	if bot != nil {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var begin <-chan struct{}
		if cfg.create {
			begin = start
		}
		go func() { result <- bot.Run(ctx, 60, begin) }()
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case reason := <-gone:
			fmt.Println("disconnected:", reason)
			return nil
		case r := <-result:
			fmt.Println("match over:", r)
			return nil
		case line, ok := <-lines:
			if !ok {
				if bot != nil {
					lines = nil // keep playing without a terminal
					continue
				}
				return nil
			}
			quit, err := command(c, strings.TrimSpace(line))
			if err != nil && !errors.Is(err, client.ErrNotConnected) {
				fmt.Println("!", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func command(c client.Client, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "/quit":
		return true, nil
	case "/rooms":
		return false, c.ListRooms()
	case "/leave":
		return false, c.LeaveRoom()
	case "/join":
		if len(fields) < 2 {
			return false, errors.New("usage: /join <room> [password]")
		}
		pw := ""
		if len(fields) > 2 {
			pw = fields[2]
		}
		return false, c.JoinRoom(fields[1], pw)
	}
	return false, c.SendChat(line)
}

func printMessage(m protocol.Message) {
	switch m.Type {
	case protocol.TypeConnect:
		if r, err := protocol.DecodeData[protocol.ConnectReply](m); err == nil {
			fmt.Printf("connected as %s to %s %s\n", r.PlayerID, r.ServerInfo.Name, r.ServerInfo.Version)
		}
	case protocol.TypeChatMessage:
		if r, err := protocol.DecodeData[protocol.ChatPayload](m); err == nil {
			fmt.Printf("<%s> %s\n", r.PlayerName, r.Message)
		}
	case protocol.TypeRoomInfo:
		if r, err := protocol.DecodeData[protocol.RoomInfo](m); err == nil {
			fmt.Printf("* %s %s, now: %s\n", r.PlayerName, strings.TrimPrefix(string(r.Event), "player_"), strings.Join(r.Players, ", "))
		}
	case protocol.TypeListRooms:
		if r, err := protocol.DecodeData[protocol.RoomList](m); err == nil {
			if len(r.Rooms) == 0 {
				fmt.Println("no rooms")
			}
			for _, s := range r.Rooms {
				fmt.Printf("  %-20s %d/%d locked=%t\n", s.RoomID, len(s.Players), s.MaxPlayers, s.HasPassword)
			}
		}
	case protocol.TypeError:
		if r, err := protocol.DecodeData[protocol.ErrorPayload](m); err == nil {
			fmt.Printf("! %s: %s\n", r.Code, r.Message)
		}
	case protocol.TypeHeartbeat, protocol.TypeGameState:
	case protocol.TypeGameStart:
		fmt.Println("* match started")
	default:
		fmt.Printf("%s %s\n", m.Type, m.Data)
	}
}
