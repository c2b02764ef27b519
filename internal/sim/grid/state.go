package grid

import "oceandepths/internal/protocol"

// Snapshot exports the grid as wire/persistence state.
func (g *Grid) Snapshot() [][]protocol.CellState {
	out := make([][]protocol.CellState, len(g.rows))
	for row := range g.rows {
		out[row] = make([]protocol.CellState, g.width)
		for x := range g.rows[row] {
			c := &g.rows[row][x]
			cs := protocol.CellState{
				Position:   protocol.Position{X: c.Position.X, Y: c.Position.Y},
				IsUnlocked: c.IsUnlocked,
				Depth:      c.Depth,
				Zone:       string(ZoneForDepth(c.Depth)),
			}
			if c.Base != nil {
				b := c.Base
				cs.Base = &protocol.BaseState{
					ID:                   b.ID,
					Type:                 b.Type,
					Position:             protocol.Position{X: b.Position.X, Y: b.Position.Y},
					Level:                b.Level,
					ConstructionProgress: b.ConstructionProgress,
					IsOperational:        b.IsOperational,
					Workers:              b.Workers,
					ActionID:             b.ActionID,
					ConstructionStartsAt: b.ConstructionStartedAt,
					ConstructionEndsAt:   b.ConstructionEndsAt,
				}
			}
			out[row][x] = cs
		}
	}
	return out
}

// FromSnapshot rebuilds a grid from wire/persistence state. The above-surface
// row count is recovered from the world Y of the topmost row.
func FromSnapshot(cells [][]protocol.CellState) *Grid {
	if len(cells) == 0 || len(cells[0]) == 0 {
		return New(0, 0, 0)
	}
	aboveRows := -cells[0][0].Position.Y
	width := len(cells[0])
	g := &Grid{width: width, aboveRows: aboveRows}
	g.rows = make([][]Cell, len(cells))
	for row := range cells {
		g.rows[row] = make([]Cell, width)
		for x := range cells[row] {
			cs := cells[row][x]
			cell := Cell{
				Position:   Position{X: cs.Position.X, Y: cs.Position.Y},
				IsUnlocked: cs.IsUnlocked,
				Depth:      cs.Depth,
			}
			if cs.Base != nil {
				b := cs.Base
				cell.Base = &Base{
					ID:                    b.ID,
					Type:                  b.Type,
					Position:              Position{X: b.Position.X, Y: b.Position.Y},
					Level:                 b.Level,
					ConstructionProgress:  b.ConstructionProgress,
					IsOperational:         b.IsOperational,
					Workers:               b.Workers,
					ActionID:              b.ActionID,
					ConstructionStartedAt: b.ConstructionStartsAt,
					ConstructionEndsAt:    b.ConstructionEndsAt,
				}
			}
			g.rows[row][x] = cell
		}
	}
	return g
}
