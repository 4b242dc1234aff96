package attack

import "slices"

const (
	GridWidth  = 10
	GridHeight = 20

	Empty   = 0
	Garbage = 8
)

// Grid is a plain cell matrix, row 0 at the top. It satisfies Board so the
// pipeline can be driven without a full simulation.
type Grid struct {
	Cells    [][]int
	GameOver bool
}

func NewGrid(width, height int) *Grid {
	cells := make([][]int, height)
	for i := range cells {
		cells[i] = make([]int, width)
	}
	return &Grid{Cells: cells}
}

func (g *Grid) Width() int {
	if len(g.Cells) == 0 {
		return 0
	}
	return len(g.Cells[0])
}

func (g *Grid) Height() int { return len(g.Cells) }

func (g *Grid) IsGameOver() bool { return g.GameOver }

// InsertGarbageRow shifts every row up by one, dropping the top row, and
// fills the bottom row with garbage except for the hole column. Anything
// solid pushed off the top tops the player out.
func (g *Grid) InsertGarbageRow(hole int) {
	h := g.Height()
	if h == 0 {
		return
	}
	top := g.Cells[0]
	if slices.ContainsFunc(top, func(c int) bool { return c != Empty }) {
		g.GameOver = true
	}
	copy(g.Cells, g.Cells[1:])
	for col := range top {
		if col == hole {
			top[col] = Empty
		} else {
			top[col] = Garbage
		}
	}
	g.Cells[h-1] = top
}

// Snapshot returns a deep copy of the cells.
func (g *Grid) Snapshot() [][]int {
	out := make([][]int, len(g.Cells))
	for i, row := range g.Cells {
		out[i] = slices.Clone(row)
	}
	return out
}
