package match

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/tetris-versus/internal/attack"
	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

type fakeTransport struct{ sent []protocol.GameEvent }

func (f *fakeTransport) SendGameState(ev protocol.GameEvent) error {
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeTransport) kinds() []protocol.EventKind {
	out := make([]protocol.EventKind, 0, len(f.sent))
	for _, ev := range f.sent {
		out = append(out, ev.Kind())
	}
	return out
}

func newTestSession(t *testing.T) (*Session, *GridSim, *fakeTransport) {
	t.Helper()
	sim := NewGridSim()
	tr := &fakeTransport{}
	s := NewSession(sim, tr, zaptest.NewLogger(t),
		WithPipelineOptions(attack.WithRand(rand.New(rand.NewPCG(3, 4)))))
	return s, sim, tr
}

func gameState(t *testing.T, ev protocol.GameEvent) protocol.Message {
	t.Helper()
	b, err := protocol.GameState(ev)
	require.NoError(t, err)
	m, ok := protocol.ParseMessage(b)
	require.True(t, ok)
	return m
}

var t0 = time.Unix(1_700_000_000, 0)

func TestSession_StartSendsGameStart(t *testing.T) {
	s, _, tr := newTestSession(t)
	s.Start(t0)
	s.Start(t0)
	assert.True(t, s.Started())
	assert.Equal(t, []protocol.EventKind{protocol.EventGameStart}, tr.kinds())
}

func TestSession_RemoteStartStartsLocally(t *testing.T) {
	s, _, tr := newTestSession(t)
	s.HandleMessage(gameState(t, protocol.GameStart{}))
	s.Tick(t0, 0)
	assert.True(t, s.Started())
	assert.Empty(t, tr.kinds())
}

func TestSession_InboundAppliedOnlyOnTick(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Start(t0)

	require.True(t, s.HandleMessage(gameState(t, protocol.AttackWarning{AttackID: "a", Lines: 3, Delay: 2})))
	assert.Zero(t, s.Pipeline().IncomingTotal())

	s.Tick(t0, 0)
	assert.Equal(t, 3, s.Pipeline().IncomingTotal())
}

func TestSession_SnapshotCadence(t *testing.T) {
	s, sim, tr := newTestSession(t)
	s.Start(t0)
	sim.Score = 900

	s.Tick(t0.Add(10*time.Millisecond), 10*time.Millisecond)
	assert.Len(t, tr.sent, 1)

	s.Tick(t0.Add(40*time.Millisecond), 30*time.Millisecond)
	require.Len(t, tr.sent, 2)
	snap, ok := tr.sent[1].(protocol.Snapshot)
	require.True(t, ok)
	assert.Equal(t, 900, snap.Score)
	assert.Len(t, snap.Grid, attack.GridHeight)

	s.Tick(t0.Add(50*time.Millisecond), 10*time.Millisecond)
	assert.Len(t, tr.sent, 2)
}

func TestSession_OpponentSnapshotNewestWins(t *testing.T) {
	s, _, _ := newTestSession(t)
	_, ok := s.Opponent()
	assert.False(t, ok)

	s.HandleMessage(gameState(t, protocol.Snapshot{Score: 1}))
	s.HandleMessage(gameState(t, protocol.Snapshot{Score: 2}))
	s.Tick(t0, 0)

	snap, ok := s.Opponent()
	require.True(t, ok)
	assert.Equal(t, 2, snap.Score)
}

func TestSession_AttackRoundTrip(t *testing.T) {
	s, sim, tr := newTestSession(t)
	s.Start(t0)

	require.Equal(t, 4, s.OnLinesCleared(4, ""))
	warning, ok := tr.sent[1].(protocol.AttackWarning)
	require.True(t, ok)
	assert.Equal(t, 4, warning.Lines)
	assert.Equal(t, 2.0, warning.Delay)
	assert.NotEmpty(t, warning.AttackID)

	// the opponent's own warning and delivery of the same attack
	s.HandleMessage(gameState(t, protocol.AttackWarning{AttackID: "theirs", Lines: 2, Delay: 0.5}))
	s.Tick(t0.Add(time.Millisecond), time.Millisecond)
	assert.Equal(t, 2, s.Pipeline().IncomingTotal())

	s.Tick(t0.Add(600*time.Millisecond), 600*time.Millisecond) // matures locally, one row drained
	assert.Equal(t, 1, s.Pipeline().PendingGarbage())

	s.HandleMessage(gameState(t, protocol.Attack{AttackID: "theirs", Lines: 2}))
	s.Tick(t0.Add(601*time.Millisecond), time.Millisecond)
	assert.Zero(t, s.Pipeline().PendingGarbage(), "delivered attack must not apply twice")

	garbageRows := 0
	for _, row := range sim.Cells {
		if row[0] == attack.Garbage || row[1] == attack.Garbage {
			garbageRows++
		}
	}
	assert.Equal(t, 2, garbageRows)
}

func TestSession_TopOutLoses(t *testing.T) {
	s, sim, tr := newTestSession(t)
	s.Start(t0)
	sim.GameOver = true
	s.Tick(t0.Add(time.Second), time.Second)

	assert.Equal(t, ResultLose, s.Result())
	last := tr.sent[len(tr.sent)-1]
	assert.Equal(t, protocol.GameOver{Result: "lose"}, last)

	n := len(tr.sent)
	s.Tick(t0.Add(2*time.Second), time.Second)
	assert.Len(t, tr.sent, n)
}

func TestSession_OpponentGameOverWins(t *testing.T) {
	for _, msg := range []func(t *testing.T) protocol.Message{
		func(t *testing.T) protocol.Message { return gameState(t, protocol.GameOver{Result: "lose"}) },
		func(t *testing.T) protocol.Message {
			b, err := protocol.CreateMessage(protocol.TypeGameOver, protocol.GameOver{Result: "lose"})
			require.NoError(t, err)
			m, _ := protocol.ParseMessage(b)
			return m
		},
	} {
		s, _, _ := newTestSession(t)
		s.Start(t0)
		s.HandleMessage(msg(t))
		s.Tick(t0, 0)
		assert.Equal(t, ResultWin, s.Result())
		assert.True(t, s.Over())
	}
}

func TestSession_Surrender(t *testing.T) {
	s, _, tr := newTestSession(t)
	s.Start(t0)
	s.Surrender()
	s.Surrender()
	assert.Equal(t, ResultLose, s.Result())
	assert.Equal(t, []protocol.EventKind{protocol.EventGameStart, protocol.EventGameOver}, tr.kinds())
	assert.Zero(t, s.OnLinesCleared(4, ""))
}

func TestSession_ChatAndFullInbox(t *testing.T) {
	sim := NewGridSim()
	s := NewSession(sim, &fakeTransport{}, zaptest.NewLogger(t), WithInboxSize(1))

	b, _ := protocol.CreateMessage(protocol.TypeChatMessage, protocol.ChatPayload{Message: "gl", PlayerName: "bob"})
	m, _ := protocol.ParseMessage(b)
	assert.True(t, s.HandleMessage(m))
	assert.False(t, s.HandleMessage(m))
	assert.Equal(t, int64(1), s.Dropped())

	s.Tick(t0, 0)
	chat := s.Chat()
	require.Len(t, chat, 1)
	assert.Equal(t, "bob", chat[0].From)
	assert.Equal(t, "gl", chat[0].Text)
}
