// Package mad flags windows whose smoothed peak trajectory strays too far
// from the trajectory median, measured in scaled median absolute deviations.
package mad

import (
	"fmt"

	"github.com/cytoqc/cytoqc/internal/peaks"
	"github.com/cytoqc/cytoqc/internal/stats"
)

// MinWindows is the smallest number of usable windows a trajectory needs.
const MinWindows = 3

// Config configures the detector.
type Config struct {
	// Threshold is the number of scaled MADs tolerated around the median.
	Threshold float64
	// Spar is the smoothing parameter in [0, 1); 0 disables smoothing.
	Spar float64
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{Threshold: 6, Spar: 0.5}
}

// Result holds the union of flags and the share of windows each channel
// flagged, in percent.
type Result struct {
	Flagged      []bool
	Contribution map[string]float64
}

// Detect examines every retained cluster trajectory of every channel.
// Windows set in excluded are left out of the trajectories. It returns an
// error only when smoothing fails.
func Detect(sets []*peaks.ChannelPeakSet, excluded []bool, nWindows int, cfg Config) (*Result, error) {
	res := &Result{
		Flagged:      make([]bool, nWindows),
		Contribution: make(map[string]float64, len(sets)),
	}

	for _, set := range sets {
		if set == nil {
			continue
		}
		channelFlags := make([]bool, nWindows)
		for _, cluster := range set.Clusters {
			values, present := set.Trajectory(cluster, nWindows)

			var idx []int
			var series []float64
			for w := 0; w < nWindows; w++ {
				if !present[w] || (w < len(excluded) && excluded[w]) {
					continue
				}
				idx = append(idx, w)
				series = append(series, values[w])
			}
			if len(series) < MinWindows {
				continue
			}

			flags, err := outliers(series, cfg)
			if err != nil {
				return nil, fmt.Errorf("mad: channel %s cluster %d: %w", set.Channel, cluster, err)
			}
			for k, bad := range flags {
				if bad {
					channelFlags[idx[k]] = true
				}
			}
		}

		n := 0
		for w, bad := range channelFlags {
			if bad {
				res.Flagged[w] = true
				n++
			}
		}
		if nWindows > 0 {
			res.Contribution[set.Channel] = 100 * float64(n) / float64(nWindows)
		}
	}
	return res, nil
}

func outliers(series []float64, cfg Config) ([]bool, error) {
	smoothed, err := stats.PenalizedSpline(series, cfg.Spar)
	if err != nil {
		return nil, err
	}
	med, scaled, err := stats.MedianScaledMAD(smoothed)
	if err != nil {
		return nil, err
	}

	flags := make([]bool, len(smoothed))
	if scaled == 0 {
		return flags, nil
	}
	lo, hi := med-cfg.Threshold*scaled, med+cfg.Threshold*scaled
	for i, v := range smoothed {
		flags[i] = v < lo || v > hi
	}
	return flags, nil
}
