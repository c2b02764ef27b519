package city

import (
	"time"

	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/economy"
)

// Sync reconciles the client's accumulated resources against the
// authoritative computation. The server value always wins; drift is
// reported for observability and never blocks or alters the overwrite.
func (c *City) Sync(now time.Time, clientResources map[string]int) protocol.ResourceSyncResponse {
	c.Advance(now)
	// The sync boundary is where resources come to rest as integers.
	c.Resources = c.Resources.Truncate()
	c.LastSyncedAt = now

	rates := c.Rates()
	capacity := c.Capacity()
	expected := c.Resources.Ints()
	tolerance := economy.Tolerances(rates, c.tune.ErrorToleranceSeconds)

	driftDetected := false
	var details map[string]protocol.DriftDetail
	for _, kind := range economy.Kinds {
		clientVal := clientResources[kind]
		expectedVal := expected[kind]
		diff := clientVal - expectedVal
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance[kind] {
			driftDetected = true
			if details == nil {
				details = map[string]protocol.DriftDetail{}
			}
			details[kind] = protocol.DriftDetail{
				Client:     clientVal,
				Expected:   expectedVal,
				Difference: diff,
				Tolerance:  tolerance[kind],
			}
		}
	}

	return protocol.ResourceSyncResponse{
		Resources:     expected,
		Capacity:      capacity.Ints(),
		Rates:         wireRates(rates),
		LastSyncedAt:  now,
		DriftDetected: driftDetected,
		DriftDetails:  details,
	}
}

// ResourcesNow reports the resource picture as of now. It is a pure read:
// the projection runs on a copy, so polling never re-anchors LastSyncedAt
// or disturbs the accrual the next sync will settle.
func (c *City) ResourcesNow(now time.Time) protocol.ResourcesResponse {
	rates := c.Rates()
	capacity := c.Capacity()
	projected := economy.Integrate(c.Resources, rates, capacity, now.Sub(c.LastSyncedAt).Seconds())
	return protocol.ResourcesResponse{
		Resources:    projected.Ints(),
		Capacity:     capacity.Ints(),
		Rates:        wireRates(rates),
		CalculatedAt: now,
	}
}

func wireRates(r economy.Rates) protocol.Rates {
	return protocol.Rates{
		Production:  map[string]float64(r.Production),
		Consumption: map[string]float64(r.Consumption),
		Net:         map[string]float64(r.Net),
	}
}
