package cytoqc

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// DefaultMaxRange is the upper instrument range assumed when none is given.
const DefaultMaxRange = 262144.0

// marginWarnPercent is the removal share above which margin removal warns.
const marginWarnPercent = 10.0

// ChannelRange is the measurable range of a channel.
type ChannelRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// MarginConfig configures RemoveMargins.
type MarginConfig struct {
	// Channels are the channels checked. Required.
	Channels []string `yaml:"channels" json:"channels"`
	// Ranges overrides the range of individual channels.
	Ranges map[string]ChannelRange `yaml:"ranges" json:"ranges,omitempty"`
	// RemoveMin and RemoveMax restrict the side checked to the listed
	// channels. Nil checks every channel.
	RemoveMin []string `yaml:"remove_min" json:"remove_min,omitempty"`
	RemoveMax []string `yaml:"remove_max" json:"remove_max,omitempty"`
}

// MarginCounts holds the events removed at each end of a channel.
type MarginCounts struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// MarginResult is the outcome of RemoveMargins.
type MarginResult struct {
	GoodEvents        []bool                  `json:"-"`
	Removed           map[string]MarginCounts `json:"removed"`
	PercentageRemoved float64                 `json:"percentage_removed"`
	Warnings          []string                `json:"warnings,omitempty"`
}

// RemoveMargins discards events piled up at the edges of the measurable
// range. Per channel, values at or below max(min(rangeMin, 0), dataMin) and
// values above min(rangeMax, dataMax) are removed.
func RemoveMargins(src EventSource, cfg MarginConfig) (*MarginResult, error) {
	if len(cfg.Channels) == 0 {
		return nil, configError("no channels specified for margin removal")
	}
	n := src.EventCount()
	res := &MarginResult{
		GoodEvents: make([]bool, n),
		Removed:    make(map[string]MarginCounts, len(cfg.Channels)),
	}
	for i := range res.GoodEvents {
		res.GoodEvents[i] = true
	}
	if n == 0 {
		return res, nil
	}

	for _, ch := range cfg.Channels {
		values, err := src.ChannelValues(ch)
		if err != nil {
			return nil, err
		}
		if len(values) != n {
			e := lengthMismatch("channel length", n, len(values))
			e.Channel = ch
			return nil, e
		}
		dataMin, dataMax := floats.Min(values), floats.Max(values)

		rng, ok := cfg.Ranges[ch]
		if !ok {
			rng = ChannelRange{Min: min(dataMin, 0), Max: max(dataMax, DefaultMaxRange)}
		}

		var counts MarginCounts
		if cfg.RemoveMin == nil || slices.Contains(cfg.RemoveMin, ch) {
			threshold := max(min(rng.Min, 0), dataMin)
			for i, v := range values {
				if v <= threshold && res.GoodEvents[i] {
					res.GoodEvents[i] = false
					counts.Min++
				}
			}
		}
		if cfg.RemoveMax == nil || slices.Contains(cfg.RemoveMax, ch) {
			threshold := min(rng.Max, dataMax)
			for i, v := range values {
				if v > threshold && res.GoodEvents[i] {
					res.GoodEvents[i] = false
					counts.Max++
				}
			}
		}
		res.Removed[ch] = counts
	}

	removed := 0
	for _, keep := range res.GoodEvents {
		if !keep {
			removed++
		}
	}
	res.PercentageRemoved = percent(removed, n)
	if res.PercentageRemoved > marginWarnPercent {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%.2f%% of events removed as margin events", res.PercentageRemoved))
	}
	return res, nil
}
