package match

import (
	"github.com/DoyleJ11/tetris-versus/internal/attack"
	"github.com/DoyleJ11/tetris-versus/pkg/protocol"
)

// GridSim is the smallest Simulation: a garbage-capable grid plus the
// counters a snapshot reports. Headless peers and tests drive it directly.
type GridSim struct {
	*attack.Grid
	Score int
	Level int
	Lines int
	Piece *protocol.Piece
}

func NewGridSim() *GridSim {
	return &GridSim{Grid: attack.NewGrid(attack.GridWidth, attack.GridHeight), Level: 1}
}

func (g *GridSim) Snapshot() protocol.Snapshot {
	return protocol.Snapshot{
		Grid:         g.Grid.Snapshot(),
		Score:        g.Score,
		Level:        g.Level,
		LinesCleared: g.Lines,
		CurrentPiece: g.Piece,
	}
}
