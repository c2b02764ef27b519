package economy

import "math"

// Resource kinds. Wire names match the catalog resource maps.
const (
	Population = "population"
	Food       = "food"
	Oxygen     = "oxygen"
	Water      = "water"
	Energy     = "energy"
	Minerals   = "minerals"
	TechPoints = "tech_points"
)

// Kinds is the canonical iteration order for every per-kind computation.
// Both the authoritative and the optimistic side must walk kinds in this
// order so their results stay bit-identical.
var Kinds = []string{Population, Food, Oxygen, Water, Energy, Minerals, TechPoints}

// Vector is a fixed mapping of resource kind to amount.
type Vector map[string]float64

func NewVector() Vector {
	v := make(Vector, len(Kinds))
	for _, k := range Kinds {
		v[k] = 0
	}
	return v
}

func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Ints converts to wire granularity. Fractional accumulation is truncated,
// matching the authoritative at-rest representation.
func (v Vector) Ints() map[string]int {
	out := make(map[string]int, len(v))
	for _, k := range Kinds {
		out[k] = int(math.Floor(v[k]))
	}
	return out
}

// Truncate drops fractional parts in place and returns v.
func (v Vector) Truncate() Vector {
	for _, k := range Kinds {
		v[k] = math.Floor(v[k])
	}
	return v
}

func FromInts(m map[string]int) Vector {
	v := NewVector()
	for _, k := range Kinds {
		v[k] = float64(m[k])
	}
	return v
}

func DefaultResources() Vector {
	return Vector{
		Population: 10,
		Food:       100,
		Oxygen:     100,
		Water:      100,
		Energy:     50,
		Minerals:   50,
		TechPoints: 0,
	}
}

func DefaultCapacity() Vector {
	return Vector{
		Population: 50,
		Food:       500,
		Oxygen:     500,
		Water:      500,
		Energy:     200,
		Minerals:   200,
		TechPoints: 1000,
	}
}
