package cytoqc

import (
	"github.com/cytoqc/cytoqc/internal/stats"
)

// DoubletConfig configures RemoveDoublets.
type DoubletConfig struct {
	// AreaChannel and HeightChannel default to FSC-A and FSC-H.
	AreaChannel   string `yaml:"area_channel" json:"area_channel"`
	HeightChannel string `yaml:"height_channel" json:"height_channel"`
	// NMAD is the number of raw MADs above the median ratio tolerated.
	// Default: 4.
	NMAD float64 `yaml:"nmad" json:"nmad"`
	// B is added to the height before dividing.
	B float64 `yaml:"b" json:"b"`
}

// DefaultDoubletConfig returns the default doublet configuration.
func DefaultDoubletConfig() DoubletConfig {
	return DoubletConfig{AreaChannel: "FSC-A", HeightChannel: "FSC-H", NMAD: 4}
}

// DoubletResult is the outcome of RemoveDoublets.
type DoubletResult struct {
	GoodEvents        []bool  `json:"-"`
	MedianRatio       float64 `json:"median_ratio"`
	MADRatio          float64 `json:"mad_ratio"`
	Threshold         float64 `json:"threshold"`
	PercentageRemoved float64 `json:"percentage_removed"`
}

// RemoveDoublets discards events whose area to height ratio exceeds the
// median ratio by more than NMAD raw MADs.
func RemoveDoublets(src EventSource, cfg DoubletConfig) (*DoubletResult, error) {
	if cfg.AreaChannel == "" || cfg.HeightChannel == "" {
		return nil, configError("doublet removal needs an area and a height channel")
	}
	area, err := src.ChannelValues(cfg.AreaChannel)
	if err != nil {
		return nil, err
	}
	height, err := src.ChannelValues(cfg.HeightChannel)
	if err != nil {
		return nil, err
	}
	if len(area) != len(height) {
		return nil, lengthMismatch("height channel length", len(area), len(height))
	}
	if len(area) == 0 {
		return nil, insufficientData("no events for doublet removal", 1, 0)
	}

	ratios := make([]float64, len(area))
	for i := range area {
		ratios[i] = area[i] / (1e-10 + height[i] + cfg.B)
	}
	med, mad, err := stats.MedianMAD(ratios)
	if err != nil {
		return nil, newError(KindStats, "doublet ratio statistics", err)
	}

	res := &DoubletResult{
		GoodEvents:  make([]bool, len(ratios)),
		MedianRatio: med,
		MADRatio:    mad,
		Threshold:   med + cfg.NMAD*mad,
	}
	removed := 0
	for i, r := range ratios {
		// With a zero MAD the threshold equals the median; keep those events.
		res.GoodEvents[i] = r < res.Threshold || (mad == 0 && r == res.Threshold)
		if !res.GoodEvents[i] {
			removed++
		}
	}
	res.PercentageRemoved = percent(removed, len(ratios))
	return res, nil
}
