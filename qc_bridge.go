// Bridge: qc_bridge.go
//
// This file bridges the internal QC stages into the public cytoqc package.
// It re-exports types via type aliases so that callers use the top-level
// cytoqc API while implementation stays private.
//
// Pattern: internal/{binning,peaks,iforest} (implementation) → qc_bridge.go (public API)
// Related files: qc.go, report.go

package cytoqc

import (
	"github.com/cytoqc/cytoqc/internal/binning"
	"github.com/cytoqc/cytoqc/internal/peaks"
)

// Windowing types
type Window = binning.Window

// Peak types
type Peak = peaks.Peak
type ChannelPeakSet = peaks.ChannelPeakSet
type FeatureColumn = peaks.Column

// Unassigned is the cluster number of a peak that has not been clustered.
const Unassigned = peaks.Unassigned

// SplitWindows splits n events into windows of size events overlapping by
// half a window.
func SplitWindows(n, size int) []Window {
	return binning.Split(n, size)
}

// EventsPerWindow derives a window size for n events.
func EventsPerWindow(n, minEvents, maxWindows int) int {
	return binning.EventsPerWindow(n, minEvents, maxWindows, binning.DefaultStep)
}
