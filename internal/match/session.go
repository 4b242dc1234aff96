// Package match runs one versus game on the peer side. Network callbacks only
// enqueue; everything that touches the board or the attack queues happens in
// Tick on the game-loop goroutine.
package match

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tetris-versus/internal/attack"
	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

type Result string

const (
	ResultNone Result = ""
	ResultWin  Result = "win"
	ResultLose Result = "lose"
)

const (
	DefaultSnapshotRate = 30
	defaultInboxSize    = 128
	chatHistory         = 50
)

type Simulation interface {
	attack.Board
	Snapshot() protocol.Snapshot
}

// Transport is the slice of client.Client a match needs.
type Transport interface {
	SendGameState(ev protocol.GameEvent) error
}

type ChatLine struct {
	From string
	Text string
	At   time.Time
}

type Session struct {
	sim   Simulation
	tr    Transport
	pipe  *attack.Pipeline
	log   *zap.Logger
	inbox chan protocol.Message

	snapshotEvery time.Duration
	pipeOpts      []attack.Option

	started      bool
	result       Result
	lastSnapshot time.Time
	opponent     *protocol.Snapshot
	chat         []ChatLine
	dropped      atomic.Int64
}

type Option func(*Session)

func WithSnapshotRate(hz int) Option {
	return func(s *Session) {
		if hz > 0 {
			s.snapshotEvery = time.Second / time.Duration(hz)
		}
	}
}

func WithInboxSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.inbox = make(chan protocol.Message, n)
		}
	}
}

func WithPipelineOptions(opts ...attack.Option) Option {
	return func(s *Session) { s.pipeOpts = append(s.pipeOpts, opts...) }
}

func NewSession(sim Simulation, tr Transport, log *zap.Logger, opts ...Option) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		sim:           sim,
		tr:            tr,
		log:           log.Named("match"),
		inbox:         make(chan protocol.Message, defaultInboxSize),
		snapshotEvery: time.Second / DefaultSnapshotRate,
	}
	for _, o := range opts {
		o(s)
	}
	s.pipe = attack.NewPipeline(sim, gameStateSender{s}, s.pipeOpts...)
	return s
}

// HandleMessage is safe to call from any goroutine, typically the client's
// OnMessage callback. It never blocks; false means the inbox was full and the
// message was dropped.
func (s *Session) HandleMessage(m protocol.Message) bool {
	select {
	case s.inbox <- m:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Start begins the match locally and tells the opponent.
func (s *Session) Start(now time.Time) {
	if s.started {
		return
	}
	s.begin(now)
	_ = s.tr.SendGameState(protocol.GameStart{})
}

func (s *Session) begin(now time.Time) {
	s.started = true
	s.lastSnapshot = now
	s.log.Info("match started")
}

// Tick applies queued network input, advances the attack queues by dt, sends
// a snapshot when one is due and detects a local top-out.
func (s *Session) Tick(now time.Time, dt time.Duration) {
	s.drain(now)
	if !s.started || s.result != ResultNone {
		return
	}

	s.pipe.Update(dt)

	if !s.sim.IsGameOver() && now.Sub(s.lastSnapshot) >= s.snapshotEvery {
		_ = s.tr.SendGameState(s.sim.Snapshot())
		s.lastSnapshot = now
	}

	if s.sim.IsGameOver() {
		s.finish(ResultLose)
	}
}

// OnLinesCleared feeds a local clear into the attack pipeline and returns the
// lines sent after cancellation.
func (s *Session) OnLinesCleared(lines int, spin string) int {
	if !s.started || s.result != ResultNone {
		return 0
	}
	return s.pipe.OnLinesCleared(lines, spin)
}

func (s *Session) Surrender() {
	if s.result == ResultNone {
		s.finish(ResultLose)
	}
}

func (s *Session) finish(r Result) {
	s.result = r
	s.log.Info("match over", zap.String("result", string(r)))
	_ = s.tr.SendGameState(protocol.GameOver{Result: string(r)})
}

func (s *Session) drain(now time.Time) {
	for {
		select {
		case m := <-s.inbox:
			s.apply(m, now)
		default:
			return
		}
	}
}

func (s *Session) apply(m protocol.Message, now time.Time) {
	switch m.Type {
	case protocol.TypeGameState, protocol.TypeGameStart, protocol.TypeGameOver:
	case protocol.TypeChatMessage:
		c, err := protocol.DecodeData[protocol.ChatPayload](m)
		if err != nil {
			return
		}
		s.chat = append(s.chat, ChatLine{From: c.PlayerName, Text: c.Message, At: now})
		if len(s.chat) > chatHistory {
			s.chat = s.chat[len(s.chat)-chatHistory:]
		}
		return
	default:
		return
	}

	ev, err := s.event(m)
	if err != nil {
		s.log.Debug("ignoring game message", zap.String("type", string(m.Type)), zap.Error(err))
		return
	}

	switch e := ev.(type) {
	case protocol.Snapshot:
		s.opponent = &e
	case protocol.AttackWarning:
		if s.result == ResultNone {
			s.pipe.ReceiveWarning(e.AttackID, e.Lines, time.Duration(e.Delay*float64(time.Second)))
		}
	case protocol.Attack:
		if s.result == ResultNone {
			s.pipe.ReceiveAttack(e.AttackID, e.Lines)
		}
	case protocol.GameStart:
		if !s.started {
			s.begin(now)
		}
	case protocol.GameOver:
		if s.started && s.result == ResultNone {
			s.finish(ResultWin)
		}
	}
}

// event maps the dedicated game_start/game_over message types onto the same
// events carried inside game_state.
func (s *Session) event(m protocol.Message) (protocol.GameEvent, error) {
	switch m.Type {
	case protocol.TypeGameStart:
		return protocol.GameStart{}, nil
	case protocol.TypeGameOver:
		return protocol.DecodeData[protocol.GameOver](m)
	}
	return protocol.DecodeEvent(m)
}

func (s *Session) Started() bool { return s.started }

func (s *Session) Over() bool { return s.result != ResultNone }

func (s *Session) Result() Result { return s.result }

// Opponent returns the newest snapshot received from the other player.
func (s *Session) Opponent() (protocol.Snapshot, bool) {
	if s.opponent == nil {
		return protocol.Snapshot{}, false
	}
	return *s.opponent, true
}

func (s *Session) Chat() []ChatLine { return append([]ChatLine(nil), s.chat...) }

func (s *Session) Pipeline() *attack.Pipeline { return s.pipe }

// Dropped counts inbound messages lost to a full inbox.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

type gameStateSender struct{ s *Session }

func (g gameStateSender) SendAttackWarning(id string, lines int, delay time.Duration) {
	_ = g.s.tr.SendGameState(protocol.AttackWarning{AttackID: id, Lines: lines, Delay: delay.Seconds()})
}

func (g gameStateSender) SendAttack(id string, lines int) {
	_ = g.s.tr.SendGameState(protocol.Attack{AttackID: id, Lines: lines})
}
