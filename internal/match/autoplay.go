package match

import (
	"context"
	"math/rand/v2"
	"time"
)

// Autoplayer stands in for a human on a GridSim. Every interval it clears a
// random 0-4 lines, so a headless peer still trades garbage for real.
type Autoplayer struct {
	s        *Session
	sim      *GridSim
	interval time.Duration
	rng      *rand.Rand
	next     time.Time
}

func NewAutoplayer(s *Session, sim *GridSim, interval time.Duration, rng *rand.Rand) *Autoplayer {
	if interval <= 0 {
		interval = time.Second
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Autoplayer{s: s, sim: sim, interval: interval, rng: rng}
}

func (a *Autoplayer) Session() *Session { return a.s }

// Step runs one frame: it ticks the session and clears lines when due.
func (a *Autoplayer) Step(now time.Time, dt time.Duration) {
	a.s.Tick(now, dt)
	if !a.s.Started() || a.s.Over() {
		return
	}
	if a.next.IsZero() {
		a.next = now.Add(a.interval)
		return
	}
	if now.Before(a.next) {
		return
	}
	a.next = now.Add(a.interval)

	lines := a.rng.IntN(5)
	if lines == 0 {
		return
	}
	a.sim.Lines += lines
	a.sim.Score += 100 * lines * a.sim.Level
	a.sim.Level = 1 + a.sim.Lines/10
	a.s.OnLinesCleared(lines, "")
}

// Run steps at hz until the match is over or ctx is done. A receive on start
// begins the match from this side; a nil channel waits for the opponent's
// game_start instead.
func (a *Autoplayer) Run(ctx context.Context, hz int, start <-chan struct{}) Result {
	if hz <= 0 {
		hz = 60
	}
	t := time.NewTicker(time.Second / time.Duration(hz))
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return a.s.Result()
		case <-start:
			a.s.Start(time.Now())
			start = nil
		case now := <-t.C:
			a.Step(now, now.Sub(last))
			last = now
			if a.s.Over() {
				return a.s.Result()
			}
		}
	}
}
