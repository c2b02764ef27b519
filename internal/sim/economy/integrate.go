package economy

import "math"

// Population feedback per simulated minute.
const (
	PopGrowthPerMinute  = 0.01
	PopDeclinePerMinute = 0.05
	PopFloor            = 1
)

// Integrate advances resources by deltaSeconds and returns a new vector.
// Rates are per 60 simulated seconds, so the step is scaled by delta/60.
// Every kind except population is clamped to [0, capacity]; population is
// driven by the survival thresholds and floored at PopFloor. Colonies never
// fully die.
func Integrate(res Vector, r Rates, capacity Vector, deltaSeconds float64) Vector {
	if deltaSeconds <= 0 {
		return res.Clone()
	}
	elapsed := deltaSeconds / 60.0

	out := NewVector()
	for _, k := range Kinds {
		if k == Population {
			out[k] = res[k]
			continue
		}
		v := res[k] + r.Net[k]*elapsed
		out[k] = clamp(v, 0, capacity[k])
	}

	// Threshold-driven feedback, deliberately unsmoothed: oscillation near
	// the thresholds is expected behavior.
	pop := out[Population]
	hasFood := out[Food] > pop
	hasOxygen := out[Oxygen] > pop*0.5
	hasWater := out[Water] > pop*0.3

	if hasFood && hasOxygen && hasWater {
		pop = math.Min(pop+PopGrowthPerMinute*elapsed, capacity[Population])
	} else {
		pop = math.Max(PopFloor, pop-PopDeclinePerMinute*elapsed)
	}
	out[Population] = pop

	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
