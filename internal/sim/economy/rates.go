package economy

import (
	"math"

	"oceandepths/internal/sim/catalogs"
)

// Population upkeep per simulated minute, per head. These constants are the
// single source of the population consumption term; they must never be
// duplicated by a caller.
const (
	PopFoodUpkeep   = 0.5
	PopOxygenUpkeep = 0.3
	PopWaterUpkeep  = 0.2
)

// Rates are per simulated minute.
type Rates struct {
	Production  Vector
	Consumption Vector
	Net         Vector
}

// ComputeRates sums production/consumption of the given operational base
// types and adds the population upkeep term. It is invoked identically by
// the authoritative city and the optimistic client tick; any other rate
// formula is a bug.
func ComputeRates(cats *catalogs.Catalogs, operational []string, population float64) Rates {
	production := NewVector()
	consumption := NewVector()

	for _, bt := range operational {
		def, ok := cats.Base(bt)
		if !ok {
			continue
		}
		for kind, rate := range def.Production {
			if _, known := production[kind]; known {
				production[kind] += float64(rate)
			}
		}
		for kind, rate := range def.Consumption {
			if _, known := consumption[kind]; known {
				consumption[kind] += float64(rate)
			}
		}
	}

	consumption[Food] += population * PopFoodUpkeep
	consumption[Oxygen] += population * PopOxygenUpkeep
	consumption[Water] += population * PopWaterUpkeep

	net := NewVector()
	for _, k := range Kinds {
		net[k] = production[k] - consumption[k]
	}
	return Rates{Production: production, Consumption: consumption, Net: net}
}

// ComputeCapacity derives total capacity from the base values plus the
// storage bonuses of operational structures.
func ComputeCapacity(cats *catalogs.Catalogs, operational []string) Vector {
	capacity := DefaultCapacity()
	for _, bt := range operational {
		def, ok := cats.Base(bt)
		if !ok {
			continue
		}
		for kind, bonus := range def.StorageBonus {
			if _, known := capacity[kind]; known {
				capacity[kind] += float64(bonus)
			}
		}
	}
	return capacity
}

// Tolerances converts a net rate into the per-kind drift allowance used at
// sync: |net| per second times the tolerance window, plus one for rounding.
func Tolerances(r Rates, toleranceSeconds int) map[string]int {
	out := make(map[string]int, len(Kinds))
	for _, k := range Kinds {
		perSecond := math.Abs(r.Net[k]) / 60.0
		out[k] = int(perSecond*float64(toleranceSeconds)) + 1
	}
	return out
}
