package cytoqc

import (
	"slices"
	"sort"

	"github.com/cytoqc/cytoqc/internal/stats"
)

// MonotonicConfig configures DetectMonotonic.
type MonotonicConfig struct {
	// Bandwidth of the Gaussian smoother over window indices. Default: 50.
	Bandwidth float64 `yaml:"bandwidth" json:"bandwidth"`
	// Threshold is the share of smoothed points that must sit on the running
	// maximum (or minimum). Default: 0.75.
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// DefaultMonotonicConfig returns the default monotonic configuration.
func DefaultMonotonicConfig() MonotonicConfig {
	return MonotonicConfig{Bandwidth: 50, Threshold: 0.75}
}

// MonotonicResult lists channels whose window medians drift steadily.
type MonotonicResult struct {
	Increasing []string `json:"increasing"`
	Decreasing []string `json:"decreasing"`
	// Both holds every drifting channel when increasing and decreasing
	// channels coexist; otherwise it is empty.
	Both []string `json:"both"`
	// Correlations is the Spearman correlation of window medians with the
	// window index.
	Correlations map[string]float64 `json:"correlations"`
}

// HasIssues reports whether any channel drifts.
func (r *MonotonicResult) HasIssues() bool {
	return len(r.Increasing) > 0 || len(r.Decreasing) > 0
}

// monotonicTolerance is the slack allowed when comparing a smoothed value
// with its running extreme.
const monotonicTolerance = 1e-10

// DetectMonotonic checks channels for monotonic trends across windows. A
// channel is increasing when more than Threshold of its smoothed window
// medians equal their running maximum; decreasing likewise with the running
// minimum. Channels with fewer than three windows are skipped.
func DetectMonotonic(src EventSource, channels []string, windows []Window, cfg MonotonicConfig) (*MonotonicResult, error) {
	if cfg.Bandwidth <= 0 {
		cfg.Bandwidth = 50
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.75
	}
	res := &MonotonicResult{Correlations: make(map[string]float64, len(channels))}

	for _, ch := range channels {
		values, err := src.ChannelValues(ch)
		if err != nil {
			return nil, err
		}
		var medians []float64
		for _, w := range windows {
			if w.End > len(values) || w.Len() == 0 {
				continue
			}
			m, err := stats.Median(values[w.Start:w.End])
			if err != nil {
				continue
			}
			medians = append(medians, m)
		}
		if len(medians) < 3 {
			continue
		}

		idx := make([]float64, len(medians))
		for i := range idx {
			idx[i] = float64(i)
		}
		smoothed, err := stats.KernelSmooth(idx, medians, idx, cfg.Bandwidth)
		if err != nil {
			return nil, newError(KindStats, "monotonic smoothing", err)
		}
		rho, err := stats.Spearman(idx, medians)
		if err != nil {
			return nil, newError(KindStats, "monotonic correlation", err)
		}
		res.Correlations[ch] = rho

		limit := cfg.Threshold * float64(len(smoothed))
		switch {
		case float64(onRunningExtreme(smoothed, true)) > limit:
			res.Increasing = append(res.Increasing, ch)
		case float64(onRunningExtreme(smoothed, false)) > limit:
			res.Decreasing = append(res.Decreasing, ch)
		}
	}

	if len(res.Increasing) > 0 && len(res.Decreasing) > 0 {
		res.Both = append(slices.Clone(res.Increasing), res.Decreasing...)
		sort.Strings(res.Both)
	}
	return res, nil
}

// onRunningExtreme counts the points equal to the running maximum (or
// minimum) of the series.
func onRunningExtreme(series []float64, maximum bool) int {
	count := 0
	extreme := series[0]
	for _, v := range series {
		if maximum {
			extreme = max(extreme, v)
		} else {
			extreme = min(extreme, v)
		}
		d := extreme - v
		if d < 0 {
			d = -d
		}
		if d < monotonicTolerance {
			count++
		}
	}
	return count
}
