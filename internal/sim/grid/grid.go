package grid

import (
	"time"

	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/catalogs"
)

// Direction is a connection side of a base type.
type Direction string

const (
	Top    Direction = "top"
	Bottom Direction = "bottom"
	Left   Direction = "left"
	Right  Direction = "right"
)

var directions = []Direction{Top, Bottom, Left, Right}

func Opposite(d Direction) Direction {
	switch d {
	case Top:
		return Bottom
	case Bottom:
		return Top
	case Left:
		return Right
	default:
		return Left
	}
}

// delta returns the world-coordinate offset for a direction. World Y grows
// downward: negative rows are sky, 0 is the surface, positive is depth.
func delta(d Direction) (dx, dy int) {
	switch d {
	case Top:
		return 0, -1
	case Bottom:
		return 0, 1
	case Left:
		return -1, 0
	default:
		return 1, 0
	}
}

// Zone is a pure function of depth.
type Zone string

const (
	ZoneSky     Zone = "sky"
	ZoneSurface Zone = "surface"
	ZoneShallow Zone = "shallow"
	ZoneDeep    Zone = "deep"
)

func ZoneForDepth(depth int) Zone {
	switch {
	case depth < 0:
		return ZoneSky
	case depth == 0:
		return ZoneSurface
	case depth <= 5:
		return ZoneShallow
	default:
		return ZoneDeep
	}
}

type Position struct {
	X int
	Y int // world Y; negative above surface
}

// Base is a structure instance owned by exactly one cell.
type Base struct {
	ID                   string
	Type                 string
	Position             Position
	Level                int
	ConstructionProgress int
	IsOperational        bool
	Workers              int

	// Set while a build action is pending; cleared at resolution.
	ActionID              string
	ConstructionStartedAt *time.Time
	ConstructionEndsAt    *time.Time
}

type Cell struct {
	Position   Position
	Base       *Base
	IsUnlocked bool
	Depth      int
}

// Grid is the spatial model of buildable cells. Row 0 is the topmost sky
// row; the surface row sits at index aboveRows.
type Grid struct {
	rows      [][]Cell
	width     int
	aboveRows int
}

func New(width, height, aboveRows int) *Grid {
	g := &Grid{width: width, aboveRows: aboveRows}
	total := height + aboveRows
	g.rows = make([][]Cell, total)
	for row := 0; row < total; row++ {
		g.rows[row] = make([]Cell, width)
		for x := 0; x < width; x++ {
			worldY := row - aboveRows
			g.rows[row][x] = Cell{
				Position:   Position{X: x, Y: worldY},
				IsUnlocked: worldY <= 0,
				Depth:      worldY,
			}
		}
	}
	return g
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return len(g.rows) - g.aboveRows }

func (g *Grid) rowIndex(worldY int) int { return worldY + g.aboveRows }

func (g *Grid) InBounds(p Position) bool {
	row := g.rowIndex(p.Y)
	return row >= 0 && row < len(g.rows) && p.X >= 0 && p.X < g.width
}

// At returns the cell at a world position, or nil when out of bounds.
func (g *Grid) At(p Position) *Cell {
	if !g.InBounds(p) {
		return nil
	}
	return &g.rows[g.rowIndex(p.Y)][p.X]
}

// SeedCommandShip places the operational command hub at the surface center
// and opens the starting frontier: the flanking surface cells and the cell
// directly below.
func (g *Grid) SeedCommandShip(id string, cats *catalogs.Catalogs) {
	centerX := g.width / 2
	pos := Position{X: centerX, Y: 0}
	def, _ := cats.Base(catalogs.CommandBase)
	cell := g.At(pos)
	cell.Base = &Base{
		ID:                   id,
		Type:                 catalogs.CommandBase,
		Position:             pos,
		Level:                1,
		ConstructionProgress: 100,
		IsOperational:        true,
		Workers:              def.WorkersRequired,
	}
	cell.IsUnlocked = true
	for _, dx := range []int{-1, 0, 1} {
		if c := g.At(Position{X: centerX + dx, Y: 0}); c != nil {
			c.IsUnlocked = true
		}
	}
	if c := g.At(Position{X: centerX, Y: 1}); c != nil {
		c.IsUnlocked = true
	}
}

// hasConnection reports whether an operational neighbor extends a matching
// connection side toward pos. Candidate side-sets are directional: the
// neighbor must offer the side facing pos and the candidate must carry the
// opposite side.
func (g *Grid) hasConnection(pos Position, candidate catalogs.BaseDef, cats *catalogs.Catalogs) bool {
	for _, d := range directions {
		if !hasSide(candidate.ConnectionSides, string(d)) {
			continue
		}
		dx, dy := delta(d)
		neighbor := g.At(Position{X: pos.X + dx, Y: pos.Y + dy})
		if neighbor == nil || neighbor.Base == nil || !neighbor.Base.IsOperational {
			continue
		}
		def, ok := cats.Base(neighbor.Base.Type)
		if !ok {
			continue
		}
		if hasSide(def.ConnectionSides, string(Opposite(d))) {
			return true
		}
	}
	return false
}

func hasSide(sides []string, side string) bool {
	for _, s := range sides {
		if s == side {
			return true
		}
	}
	return false
}

// CanBuildAt enforces the placement contract. Checks are ordered and
// short-circuit on the first failure so the rejection reason is
// deterministic.
func (g *Grid) CanBuildAt(pos Position, baseType string, cats *catalogs.Catalogs, resources map[string]float64, unlockedTechs []string) error {
	def, known := cats.Base(baseType)
	if !known {
		return protocol.Errf(protocol.ErrBadRequest, "unknown base type: "+baseType)
	}
	cell := g.At(pos)
	if cell == nil {
		return protocol.Errf(protocol.ErrCellInvalid, "position out of bounds")
	}
	if cell.Depth < 0 {
		return protocol.Errf(protocol.ErrSurfaceLocked, "above-surface construction locked")
	}
	if !cell.IsUnlocked {
		return protocol.Errf(protocol.ErrCellLocked, "cell is locked")
	}
	if cell.Base != nil {
		return protocol.Errf(protocol.ErrCellOccupied, "cell already has a base")
	}
	if !g.hasConnection(pos, def, cats) {
		return protocol.Errf(protocol.ErrNoConnection, "no operational neighbor offers a matching connection side")
	}
	if gate := cats.GateFor(baseType); gate != "" && !contains(unlockedTechs, gate) {
		return protocol.Errf(protocol.ErrTechLocked, "requires "+gate)
	}
	for kind, cost := range def.Cost {
		if resources[kind] < float64(cost) {
			return protocol.Errf(protocol.ErrNoResource, "insufficient "+kind)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// PlaceUnderConstruction occupies a cell with a non-operational base. The
// caller is responsible for running CanBuildAt first.
func (g *Grid) PlaceUnderConstruction(b *Base) {
	cell := g.At(b.Position)
	if cell == nil {
		return
	}
	cell.Base = b
}

// MarkOperational flips the base at pos to operational exactly once and
// opens the adjacent frontier. Returns false if there is no base at pos.
func (g *Grid) MarkOperational(pos Position, cats *catalogs.Catalogs) bool {
	cell := g.At(pos)
	if cell == nil || cell.Base == nil {
		return false
	}
	b := cell.Base
	def, ok := cats.Base(b.Type)
	if !ok {
		return false
	}
	b.ConstructionProgress = 100
	b.IsOperational = true
	b.Workers = def.WorkersRequired
	b.ActionID = ""
	b.ConstructionStartedAt = nil
	b.ConstructionEndsAt = nil
	g.UnlockAdjacent(pos, def)
	return true
}

// UnlockAdjacent unlocks each axis-aligned neighbor the base's connection
// sides point at. This is the sole mechanism by which the buildable
// frontier grows; unlocking is monotonic.
func (g *Grid) UnlockAdjacent(pos Position, def catalogs.BaseDef) {
	for _, d := range directions {
		if !hasSide(def.ConnectionSides, string(d)) {
			continue
		}
		dx, dy := delta(d)
		if c := g.At(Position{X: pos.X + dx, Y: pos.Y + dy}); c != nil {
			c.IsUnlocked = true
		}
	}
}

// RemoveBase clears the base at pos, returning the removed instance.
func (g *Grid) RemoveBase(pos Position) *Base {
	cell := g.At(pos)
	if cell == nil || cell.Base == nil {
		return nil
	}
	b := cell.Base
	cell.Base = nil
	return b
}

// OperationalTypes walks the grid top-left to bottom-right and collects the
// type of every operational base. The deterministic order keeps rate sums
// reproducible.
func (g *Grid) OperationalTypes() []string {
	var out []string
	for row := range g.rows {
		for x := range g.rows[row] {
			b := g.rows[row][x].Base
			if b != nil && b.IsOperational {
				out = append(out, b.Type)
			}
		}
	}
	return out
}

// Bases returns every base instance in grid order.
func (g *Grid) Bases() []*Base {
	var out []*Base
	for row := range g.rows {
		for x := range g.rows[row] {
			if b := g.rows[row][x].Base; b != nil {
				out = append(out, b)
			}
		}
	}
	return out
}

// FindBaseByAction locates the base carrying the given pending action id.
func (g *Grid) FindBaseByAction(actionID string) *Base {
	for row := range g.rows {
		for x := range g.rows[row] {
			if b := g.rows[row][x].Base; b != nil && b.ActionID == actionID {
				return b
			}
		}
	}
	return nil
}
