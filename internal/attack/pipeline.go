package attack

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
)

// WarningDelay is how long an outgoing attack waits before delivery.
const WarningDelay = 2 * time.Second

// settledMemory bounds how many resolved attack ids are remembered for
// duplicate suppression.
const settledMemory = 64

type Unit struct {
	ID    string
	Delay time.Duration
	Lines int
}

type Board interface {
	InsertGarbageRow(hole int)
	IsGameOver() bool
	Width() int
}

// Sender transmits attack events to the opponent. Implementations must not
// block the game loop.
type Sender interface {
	SendAttackWarning(id string, lines int, delay time.Duration)
	SendAttack(id string, lines int)
}

// Pipeline holds both attack queues for one local player. It is owned by the
// game-loop goroutine and is not safe for concurrent use.
type Pipeline struct {
	board Board
	send  Sender
	rng   *rand.Rand
	newID func() string

	outgoing []Unit
	incoming []Unit
	pending  int
	settled  []string
}

type Option func(*Pipeline)

func WithRand(r *rand.Rand) Option { return func(p *Pipeline) { p.rng = r } }

func WithIDs(fn func() string) Option { return func(p *Pipeline) { p.newID = fn } }

func NewPipeline(board Board, send Sender, opts ...Option) *Pipeline {
	p := &Pipeline{board: board, send: send, newID: uuid.NewString}
	for _, o := range opts {
		o(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return p
}

// OnLinesCleared applies a local clear: the power first cancels queued
// incoming attacks in arrival order and any residual becomes an outgoing
// attack announced to the opponent right away. It returns the residual.
func (p *Pipeline) OnLinesCleared(lines int, spin string) int {
	power := Power(lines, spin)
	if power == 0 {
		return 0
	}
	residual := power - p.cancel(power)
	if residual <= 0 {
		return 0
	}
	u := Unit{ID: p.newID(), Delay: WarningDelay, Lines: residual}
	p.outgoing = append(p.outgoing, u)
	p.send.SendAttackWarning(u.ID, u.Lines, u.Delay)
	return residual
}

func (p *Pipeline) cancel(power int) int {
	cancelled := 0
	kept := p.incoming[:0]
	for _, u := range p.incoming {
		if cancelled < power {
			n := min(power-cancelled, u.Lines)
			u.Lines -= n
			cancelled += n
		}
		if u.Lines <= 0 {
			p.settle(u.ID)
			continue
		}
		kept = append(kept, u)
	}
	p.incoming = kept
	return cancelled
}

// ReceiveWarning queues an announced attack. A non-positive delay falls back
// to WarningDelay; ids already resolved are ignored.
func (p *Pipeline) ReceiveWarning(id string, lines int, delay time.Duration) {
	if lines <= 0 || p.isSettled(id) {
		return
	}
	if delay <= 0 {
		delay = WarningDelay
	}
	p.incoming = append(p.incoming, Unit{ID: id, Delay: delay, Lines: lines})
}

// ReceiveAttack handles a delivered attack. A still-queued id materialises its
// remaining lines now, a resolved id is a duplicate of garbage already taken,
// and an unknown id is applied as sent.
func (p *Pipeline) ReceiveAttack(id string, lines int) {
	if id != "" {
		if i := slices.IndexFunc(p.incoming, func(u Unit) bool { return u.ID == id }); i >= 0 {
			p.pending += p.incoming[i].Lines
			p.incoming = slices.Delete(p.incoming, i, i+1)
			p.settle(id)
			return
		}
		if p.isSettled(id) {
			return
		}
		p.settle(id)
	}
	if lines > 0 {
		p.pending += lines
	}
}

// Update advances every queued attack by dt, sends matured outgoing attacks,
// moves matured incoming attacks into the garbage buffer and inserts at most
// one garbage row.
func (p *Pipeline) Update(dt time.Duration) {
	out := p.outgoing[:0]
	for _, u := range p.outgoing {
		u.Delay -= dt
		if u.Delay <= 0 {
			p.send.SendAttack(u.ID, u.Lines)
			continue
		}
		out = append(out, u)
	}
	p.outgoing = out

	in := p.incoming[:0]
	for _, u := range p.incoming {
		u.Delay -= dt
		if u.Delay <= 0 {
			p.pending += u.Lines
			p.settle(u.ID)
			continue
		}
		in = append(in, u)
	}
	p.incoming = in

	if p.pending > 0 && !p.board.IsGameOver() {
		p.board.InsertGarbageRow(p.rng.IntN(p.board.Width()))
		p.pending--
	}
}

func (p *Pipeline) settle(id string) {
	if id == "" {
		return
	}
	if len(p.settled) == settledMemory {
		p.settled = slices.Delete(p.settled, 0, 1)
	}
	p.settled = append(p.settled, id)
}

func (p *Pipeline) isSettled(id string) bool {
	return id != "" && slices.Contains(p.settled, id)
}

func (p *Pipeline) Outgoing() []Unit { return slices.Clone(p.outgoing) }

func (p *Pipeline) Incoming() []Unit { return slices.Clone(p.incoming) }

func (p *Pipeline) IncomingTotal() int {
	n := 0
	for _, u := range p.incoming {
		n += u.Lines
	}
	return n
}

func (p *Pipeline) PendingGarbage() int { return p.pending }
