package attack

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	warning bool
	id      string
	lines   int
	delay   time.Duration
}

type recordSender struct{ log []sent }

func (r *recordSender) SendAttackWarning(id string, lines int, delay time.Duration) {
	r.log = append(r.log, sent{warning: true, id: id, lines: lines, delay: delay})
}

func (r *recordSender) SendAttack(id string, lines int) {
	r.log = append(r.log, sent{id: id, lines: lines})
}

func newTestPipeline(t *testing.T) (*Pipeline, *Grid, *recordSender) {
	t.Helper()
	g := NewGrid(GridWidth, GridHeight)
	s := &recordSender{}
	n := 0
	p := NewPipeline(g, s,
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithIDs(func() string { n++; return fmt.Sprintf("atk-%d", n) }))
	return p, g, s
}

func TestPower(t *testing.T) {
	cases := []struct {
		lines int
		spin  string
		want  int
	}{
		{0, "", 0},
		{0, "T-Spin", 0},
		{1, "", 0},
		{2, "", 1},
		{3, "", 2},
		{4, "", 4},
		{5, "", 4},
		{1, "T-Spin Single", 2},
		{2, "T-Spin Double", 3},
		{2, "L-Spin", 2},
		{1, "Mini", 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Power(tc.lines, tc.spin), "%d %q", tc.lines, tc.spin)
	}
}

func TestPipeline_SingleSendsNothing(t *testing.T) {
	p, _, s := newTestPipeline(t)
	assert.Zero(t, p.OnLinesCleared(1, ""))
	assert.Empty(t, p.Outgoing())
	assert.Empty(t, s.log)
}

// Tetris against a queued 2-line attack: the queue empties and 2 lines go out.
func TestPipeline_TetrisCancelsIncoming(t *testing.T) {
	p, _, s := newTestPipeline(t)
	p.ReceiveWarning("theirs", 2, 2*time.Second)

	residual := p.OnLinesCleared(4, "")
	assert.Equal(t, 2, residual)
	assert.Empty(t, p.Incoming())

	out := p.Outgoing()
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].Lines)
	assert.Equal(t, WarningDelay, out[0].Delay)

	require.Len(t, s.log, 1)
	assert.Equal(t, sent{warning: true, id: "atk-1", lines: 2, delay: 2 * time.Second}, s.log[0])
}

func TestPipeline_CancellationConservation(t *testing.T) {
	for _, incoming := range [][]int{{}, {1}, {3}, {1, 1, 1}, {2, 5}, {4, 4}} {
		for _, tc := range []struct {
			lines int
			spin  string
		}{{2, ""}, {3, ""}, {4, ""}, {2, "T-Spin"}} {
			name := fmt.Sprintf("in=%v/lines=%d%s", incoming, tc.lines, tc.spin)
			t.Run(name, func(t *testing.T) {
				p, _, _ := newTestPipeline(t)
				total := 0
				for i, n := range incoming {
					p.ReceiveWarning(fmt.Sprintf("in-%d", i), n, time.Second)
					total += n
				}
				power := Power(tc.lines, tc.spin)

				residual := p.OnLinesCleared(tc.lines, tc.spin)
				assert.Equal(t, max(0, power-min(power, total)), residual)
				assert.Equal(t, max(0, total-power), p.IncomingTotal())
				for _, u := range p.Incoming() {
					assert.Positive(t, u.Lines)
				}
			})
		}
	}
}

func TestPipeline_CancelWalksArrivalOrder(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	p.ReceiveWarning("a", 1, time.Second)
	p.ReceiveWarning("b", 3, time.Second)
	p.OnLinesCleared(3, "") // power 2

	in := p.Incoming()
	require.Len(t, in, 1)
	assert.Equal(t, Unit{ID: "b", Delay: time.Second, Lines: 2}, in[0])
}

func TestPipeline_OutgoingDeliversAfterDelay(t *testing.T) {
	p, _, s := newTestPipeline(t)
	p.OnLinesCleared(4, "")
	s.log = nil

	p.Update(1500 * time.Millisecond)
	assert.Empty(t, s.log)
	p.Update(500 * time.Millisecond)
	require.Len(t, s.log, 1)
	assert.Equal(t, sent{id: "atk-1", lines: 4}, s.log[0])
	assert.Empty(t, p.Outgoing())

	p.Update(time.Second)
	assert.Len(t, s.log, 1)
}

func TestPipeline_IncomingMaturesOneRowPerTick(t *testing.T) {
	p, g, _ := newTestPipeline(t)
	p.ReceiveWarning("x", 3, 2*time.Second)

	p.Update(time.Second)
	assert.Equal(t, 0, p.PendingGarbage())

	p.Update(time.Second) // matures, first row drained in the same tick
	assert.Equal(t, 2, p.PendingGarbage())
	p.Update(16 * time.Millisecond)
	p.Update(16 * time.Millisecond)
	assert.Equal(t, 0, p.PendingGarbage())

	for row := GridHeight - 3; row < GridHeight; row++ {
		filled := 0
		for _, c := range g.Cells[row] {
			if c == Garbage {
				filled++
			}
		}
		assert.Equal(t, GridWidth-1, filled, "row %d", row)
	}
}

func TestPipeline_NoGarbageAfterGameOver(t *testing.T) {
	p, g, _ := newTestPipeline(t)
	p.ReceiveAttack("", 2)
	g.GameOver = true
	p.Update(time.Millisecond)
	assert.Equal(t, 2, p.PendingGarbage())
}

func TestPipeline_DeliveredAttackCorrelation(t *testing.T) {
	t.Run("queued id materialises remainder", func(t *testing.T) {
		p, _, _ := newTestPipeline(t)
		p.ReceiveWarning("x", 4, 2*time.Second)
		p.OnLinesCleared(3, "") // cancels 2
		p.ReceiveAttack("x", 4)
		assert.Empty(t, p.Incoming())
		assert.Equal(t, 2, p.PendingGarbage())
	})

	t.Run("after local maturity is ignored", func(t *testing.T) {
		p, _, _ := newTestPipeline(t)
		p.ReceiveWarning("x", 2, time.Second)
		p.Update(time.Second)
		before := p.PendingGarbage()
		p.ReceiveAttack("x", 2)
		assert.Equal(t, before, p.PendingGarbage())
	})

	t.Run("fully cancelled is ignored", func(t *testing.T) {
		p, _, _ := newTestPipeline(t)
		p.ReceiveWarning("x", 1, time.Second)
		p.OnLinesCleared(2, "")
		p.ReceiveAttack("x", 1)
		assert.Zero(t, p.PendingGarbage())
	})

	t.Run("unknown id applies and blocks late warning", func(t *testing.T) {
		p, _, _ := newTestPipeline(t)
		p.ReceiveAttack("lost", 3)
		assert.Equal(t, 3, p.PendingGarbage())
		p.ReceiveWarning("lost", 3, time.Second)
		assert.Empty(t, p.Incoming())
	})

	t.Run("no id applies", func(t *testing.T) {
		p, _, _ := newTestPipeline(t)
		p.ReceiveAttack("", 2)
		p.ReceiveAttack("", 2)
		assert.Equal(t, 4, p.PendingGarbage())
	})
}

func TestPipeline_WarningDefaults(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	p.ReceiveWarning("a", 0, time.Second)
	p.ReceiveWarning("b", 2, 0)
	in := p.Incoming()
	require.Len(t, in, 1)
	assert.Equal(t, WarningDelay, in[0].Delay)
}

func TestPipeline_SettledMemoryIsBounded(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	for i := 0; i < settledMemory*2; i++ {
		p.ReceiveAttack(fmt.Sprintf("id-%d", i), 1)
	}
	assert.Len(t, p.settled, settledMemory)
	assert.True(t, p.isSettled(fmt.Sprintf("id-%d", settledMemory*2-1)))
	assert.False(t, p.isSettled("id-0"))
}
