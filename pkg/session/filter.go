package session

import "time"

// OrientationFilter limits how often orientation updates are dispatched.
// The zero value dispatches every update.
type OrientationFilter struct {
	// MinPeriod is the minimum time since the last dispatched update.
	MinPeriod time.Duration
	// MinHeadingVariation is the minimum heading change, in degrees, since
	// the last dispatched update.
	MinHeadingVariation int
}

// orientationGate applies an OrientationFilter. Both thresholds are
// measured against the last dispatched update, not the last received one.
type orientationGate struct {
	filter      OrientationFilter
	primed      bool
	lastHeading int
	lastAt      time.Time
}

func (g *orientationGate) reset(f OrientationFilter) {
	*g = orientationGate{filter: f}
}

func (g *orientationGate) pass(heading int, now time.Time) bool {
	if g.primed {
		variation := heading - g.lastHeading
		if variation < 0 {
			variation = -variation
		}
		if variation < g.filter.MinHeadingVariation || now.Sub(g.lastAt) < g.filter.MinPeriod {
			return false
		}
	}
	g.primed = true
	g.lastHeading = heading
	g.lastAt = now
	return true
}
