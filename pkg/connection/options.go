package connection

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/beltctl/internal/clock"
	"github.com/srg/beltctl/pkg/config"
	"github.com/srg/beltctl/pkg/session"
)

// Options tunes the connection timers and the search strategy.
type Options struct {
	ScanTimeout    time.Duration `default:"15s"`
	ConnectTimeout time.Duration `default:"20s"`
	WakeupTimeout  time.Duration `default:"3s"`
	// FallbackPolicy is config.FallbackNotApplicableOnly or
	// config.FallbackOnFailure.
	FallbackPolicy string `default:"not-applicable-only"`
	HistorySize    int    `default:"64"`
	// AutoReconnect redials a connected belt after an unrequested
	// disconnection instead of reporting it.
	AutoReconnect bool
}

// DefaultOptions returns Options with every default applied.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

// OptionsFromConfig maps the application configuration to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	o := DefaultOptions()
	if cfg == nil {
		return o
	}
	o.ScanTimeout = cfg.ScanTimeout
	o.ConnectTimeout = cfg.ConnectTimeout
	o.WakeupTimeout = cfg.WakeupTimeout
	o.FallbackPolicy = cfg.FallbackPolicy
	o.HistorySize = cfg.HistorySize
	o.AutoReconnect = cfg.AutoReconnect
	return o
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithOptions(o Options) ManagerOption {
	return func(m *Manager) {
		fill := DefaultOptions()
		if o.ScanTimeout <= 0 {
			o.ScanTimeout = fill.ScanTimeout
		}
		if o.ConnectTimeout <= 0 {
			o.ConnectTimeout = fill.ConnectTimeout
		}
		if o.WakeupTimeout <= 0 {
			o.WakeupTimeout = fill.WakeupTimeout
		}
		if o.FallbackPolicy == "" {
			o.FallbackPolicy = fill.FallbackPolicy
		}
		if o.HistorySize <= 0 {
			o.HistorySize = fill.HistorySize
		}
		m.opts = o
	}
}

// WithClock drives every timer of the manager and, unless WithSession is
// given, of its session.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithSession makes the manager attach established links to s.
func WithSession(s *session.Session) ManagerOption {
	return func(m *Manager) { m.session = s }
}
