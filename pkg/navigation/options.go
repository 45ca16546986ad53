package navigation

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/beltctl/internal/clock"
	"github.com/srg/beltctl/pkg/session"
)

// Options tune the controller.
type Options struct {
	// MinUpdatePeriod is the minimum delay between two navigation signal
	// updates sent to the belt.
	MinUpdatePeriod time.Duration `default:"100ms"`
	// OrientationMinPeriod and OrientationMinHeadingVariation filter the
	// orientation notifications started on connect.
	OrientationMinPeriod           time.Duration `default:"2s"`
	OrientationMinHeadingVariation int           `default:"11"`
}

// DefaultOptions returns the default controller options.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

func (o Options) orientationFilter() session.OrientationFilter {
	return session.OrientationFilter{
		MinPeriod:           o.OrientationMinPeriod,
		MinHeadingVariation: o.OrientationMinHeadingVariation,
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithMinUpdatePeriod sets the navigation signal rate limit.
func WithMinUpdatePeriod(d time.Duration) Option {
	return func(c *Controller) {
		c.opts.MinUpdatePeriod = d
	}
}

// WithOrientationFilter sets the filter used for orientation
// notifications.
func WithOrientationFilter(f session.OrientationFilter) Option {
	return func(c *Controller) {
		c.opts.OrientationMinPeriod = f.MinPeriod
		c.opts.OrientationMinHeadingVariation = f.MinHeadingVariation
	}
}

// WithClock replaces the wall clock used for rate limiting.
func WithClock(cl clock.Clock) Option {
	return func(c *Controller) {
		if cl != nil {
			c.clock = cl
		}
	}
}
