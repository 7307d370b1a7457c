package cytoqc

import (
	"fmt"
	"strings"

	"github.com/cytoqc/cytoqc/internal/density"
)

// Mode selects the detectors a run applies.
type Mode int

const (
	// ModeAll runs the isolation forest followed by the MAD detector.
	ModeAll Mode = iota
	// ModeIsolationForest runs only the isolation forest.
	ModeIsolationForest
	// ModeMAD runs only the MAD detector.
	ModeMAD
	// ModeNone flags nothing and skips the consecutive filter.
	ModeNone
)

func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeIsolationForest:
		return "it"
	case ModeMAD:
		return "mad"
	case ModeNone:
		return "none"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses the textual form of a Mode. Matching is case-insensitive
// and accepts "isolation_forest" for ModeIsolationForest.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ModeAll, nil
	case "it", "isolation_forest", "isolationforest":
		return ModeIsolationForest, nil
	case "mad":
		return ModeMAD, nil
	case "none":
		return ModeNone, nil
	}
	return ModeAll, configError("unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Mode) runsForest() bool { return m == ModeAll || m == ModeIsolationForest }
func (m Mode) runsMAD() bool    { return m == ModeAll || m == ModeMAD }

// Config defines a QC run. Only Channels is required; every other field
// defaults to the value given by DefaultConfig.
type Config struct {
	// Channels are the channels examined. Required.
	Channels []string `yaml:"channels" json:"channels"`

	// Mode selects the detectors. Default: ModeAll.
	Mode Mode `yaml:"mode" json:"mode"`

	// MinEventsPerWindow is the smallest derived window size. Default: 150.
	MinEventsPerWindow int `yaml:"min_events_per_window" json:"min_events_per_window"`

	// MaxWindows bounds the number of windows when the size is derived.
	// Default: 500.
	MaxWindows int `yaml:"max_windows" json:"max_windows"`

	// EventsPerWindow fixes the window size. 0 derives it from the event
	// count. Default: 0.
	EventsPerWindow int `yaml:"events_per_window" json:"events_per_window"`

	// MADThreshold is the number of scaled MADs tolerated. Default: 6.
	MADThreshold float64 `yaml:"mad_threshold" json:"mad_threshold"`

	// ITLimit is the isolation score above which a window is flagged.
	// Default: 0.6.
	ITLimit float64 `yaml:"it_limit" json:"it_limit"`

	// ConsecutiveWindows is the shortest good run kept between bad windows.
	// Default: 5.
	ConsecutiveWindows int `yaml:"consecutive_windows" json:"consecutive_windows"`

	// RemoveZeros drops exact zeros before density estimation.
	RemoveZeros bool `yaml:"remove_zeros" json:"remove_zeros"`

	// PeakRemoval is the fraction of the highest density a peak must exceed.
	// Default: 1/3.
	PeakRemoval float64 `yaml:"peak_removal" json:"peak_removal"`

	// MinClusterCoverage is the percentage of windows that must share the
	// reference peak count. Default: 10.
	MinClusterCoverage float64 `yaml:"min_cluster_coverage" json:"min_cluster_coverage"`

	// ForceIT is the smallest window count the isolation forest runs on.
	// Default: 150.
	ForceIT int `yaml:"force_it" json:"force_it"`

	// Smoothing is the spline smoothing parameter in [0, 1). Default: 0.5.
	Smoothing float64 `yaml:"smoothing" json:"smoothing"`

	// Trees, SampleSize and MaxDepth shape the isolation forest.
	// Defaults: 100, 256, 10.
	Trees      int `yaml:"trees" json:"trees"`
	SampleSize int `yaml:"sample_size" json:"sample_size"`
	MaxDepth   int `yaml:"max_depth" json:"max_depth"`

	// Seed seeds the isolation forest. Default: 1.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns the default configuration for the given channels.
func DefaultConfig(channels ...string) Config {
	return Config{
		Channels:           channels,
		Mode:               ModeAll,
		MinEventsPerWindow: 150,
		MaxWindows:         500,
		EventsPerWindow:    0,
		MADThreshold:       6.0,
		ITLimit:            0.6,
		ConsecutiveWindows: 5,
		RemoveZeros:        false,
		PeakRemoval:        1.0 / 3,
		MinClusterCoverage: 10.0,
		ForceIT:            150,
		Smoothing:          0.5,
		Trees:              100,
		SampleSize:         256,
		MaxDepth:           10,
		Seed:               1,
	}
}

// Validate reports the first invalid field as a KindConfig error.
func (c Config) Validate() error {
	if len(c.Channels) == 0 {
		return configError("no channels specified")
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch == "" {
			return configError("empty channel name")
		}
		if seen[ch] {
			return configError("duplicate channel %q", ch)
		}
		seen[ch] = true
	}

	switch {
	case c.Mode < ModeAll || c.Mode > ModeNone:
		return configError("unknown mode %d", int(c.Mode))
	case c.MinEventsPerWindow < density.MinValues:
		return configError("min_events_per_window must be at least %d, got %d", density.MinValues, c.MinEventsPerWindow)
	case c.MaxWindows < 1:
		return configError("max_windows must be positive, got %d", c.MaxWindows)
	case c.EventsPerWindow < 0 || c.EventsPerWindow == 1:
		return configError("events_per_window must be 0 or at least 2, got %d", c.EventsPerWindow)
	case !(c.MADThreshold > 0):
		return configError("mad_threshold must be positive, got %v", c.MADThreshold)
	case !(c.ITLimit > 0 && c.ITLimit < 1):
		return configError("it_limit must be in (0, 1), got %v", c.ITLimit)
	case c.ConsecutiveWindows < 0:
		return configError("consecutive_windows must not be negative, got %d", c.ConsecutiveWindows)
	case !(c.PeakRemoval >= 0 && c.PeakRemoval < 1):
		return configError("peak_removal must be in [0, 1), got %v", c.PeakRemoval)
	case !(c.MinClusterCoverage > 0 && c.MinClusterCoverage <= 100):
		return configError("min_cluster_coverage must be in (0, 100], got %v", c.MinClusterCoverage)
	case c.ForceIT < 0:
		return configError("force_it must not be negative, got %d", c.ForceIT)
	case !(c.Smoothing >= 0 && c.Smoothing < 1):
		return configError("smoothing must be in [0, 1), got %v", c.Smoothing)
	case c.Trees < 1:
		return configError("trees must be positive, got %d", c.Trees)
	case c.SampleSize < 2:
		return configError("sample_size must be at least 2, got %d", c.SampleSize)
	case c.MaxDepth < 1:
		return configError("max_depth must be positive, got %d", c.MaxDepth)
	}
	return nil
}
