// Package peaks finds density peaks of one channel in every window and groups
// them into clusters that track the same population across windows.
package peaks

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cytoqc/cytoqc/internal/binning"
	"github.com/cytoqc/cytoqc/internal/density"
	"github.com/cytoqc/cytoqc/internal/stats"
)

// Unassigned is the cluster of a peak that has not been clustered yet.
const Unassigned = 0

// ErrNoPeaks is returned when no peak survives clustering.
var ErrNoPeaks = errors.New("peaks: no peaks detected")

// Peak is a local density maximum of one channel in one window.
type Peak struct {
	Window  int     `json:"window"`
	Value   float64 `json:"value"`
	Cluster int     `json:"cluster"`
}

// ChannelPeakSet holds the clustered peaks of one channel.
type ChannelPeakSet struct {
	Channel string `json:"channel"`
	Peaks   []Peak `json:"peaks"`
	// Clusters lists the retained cluster numbers in ascending order.
	Clusters []int `json:"clusters"`
	// Centers maps a retained cluster to the center used for assignment.
	Centers map[int]float64 `json:"centers"`
}

// Options controls peak detection and clustering.
type Options struct {
	// Adjust scales the density bandwidth.
	Adjust float64
	// GridSize is the number of density evaluation points.
	GridSize int
	// Removal is the fraction of the highest density a peak must exceed.
	Removal float64
	// RemoveZeros drops exact zeros before estimation.
	RemoveZeros bool
	// MinCoverage is the percentage of windows that must share a peak count
	// for it to become the reference count.
	MinCoverage float64
}

// DefaultOptions returns the default detection options.
func DefaultOptions() Options {
	return Options{
		Adjust:      1,
		GridSize:    density.DefaultGridSize,
		Removal:     1.0 / 3,
		MinCoverage: 10,
	}
}

// Detect estimates the density of values in every window and returns the
// peak locations per window. A window whose estimate fails has no peaks.
func Detect(values []float64, windows []binning.Window, opts Options) [][]float64 {
	out := make([][]float64, len(windows))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, w := range windows {
		g.Go(func() error {
			seg := values[w.Start:w.End]
			if opts.RemoveZeros {
				seg = withoutZeros(seg)
			}
			kde, err := density.Estimate(seg, opts.Adjust, opts.GridSize)
			if err != nil {
				return nil
			}
			out[i] = kde.Peaks(opts.Removal)
			return nil
		})
	}
	// Windows whose estimate fails keep a nil slot; no task returns an error.
	_ = g.Wait()
	return out
}

func withoutZeros(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v != 0 {
			out = append(out, v)
		}
	}
	return out
}

// Extract detects and clusters the peaks of one channel.
func Extract(channel string, values []float64, windows []binning.Window, opts Options) (*ChannelPeakSet, error) {
	for _, w := range windows {
		if w.Start < 0 || w.End > len(values) || w.Start > w.End {
			return nil, fmt.Errorf("peaks: window [%d, %d) outside %d values", w.Start, w.End, len(values))
		}
	}
	return Cluster(channel, Detect(values, windows, opts), opts.MinCoverage)
}

// Cluster assigns the peaks of every window to clusters.
//
// The reference peak count is the most frequent non-zero count seen in at
// least minCoverage percent of the windows, ties going to the larger count.
// Cluster i is centred on the median of the i-th peak over the windows with
// the reference count. Each peak joins its nearest center. Clusters present
// in fewer than half of the windows are dropped.
func Cluster(channel string, windowPeaks [][]float64, minCoverage float64) (*ChannelPeakSet, error) {
	nWindows := len(windowPeaks)
	sorted := make([][]float64, nWindows)
	total := 0
	for i, p := range windowPeaks {
		sorted[i] = slices.Clone(p)
		slices.Sort(sorted[i])
		total += len(p)
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: channel %s", ErrNoPeaks, channel)
	}

	centers, err := clusterCenters(sorted, minCoverage)
	if err != nil {
		return nil, err
	}

	assigned := make([]Peak, 0, total)
	windowsWith := make([]map[int]struct{}, len(centers))
	for i := range windowsWith {
		windowsWith[i] = make(map[int]struct{})
	}
	for w, ps := range sorted {
		for _, v := range ps {
			c := nearest(centers, v)
			windowsWith[c][w] = struct{}{}
			assigned = append(assigned, Peak{Window: w, Value: v, Cluster: c + 1})
		}
	}

	minPresent := int(math.Ceil(0.5 * float64(nWindows)))
	set := &ChannelPeakSet{Channel: channel, Centers: make(map[int]float64)}
	for c := range centers {
		if len(windowsWith[c]) >= minPresent {
			set.Clusters = append(set.Clusters, c+1)
			set.Centers[c+1] = centers[c]
		}
	}
	for _, p := range assigned {
		if _, ok := set.Centers[p.Cluster]; ok {
			set.Peaks = append(set.Peaks, p)
		}
	}
	if len(set.Peaks) == 0 {
		return nil, fmt.Errorf("%w: channel %s", ErrNoPeaks, channel)
	}
	return set, nil
}

func clusterCenters(sorted [][]float64, minCoverage float64) ([]float64, error) {
	minWindows := int(math.Ceil(minCoverage / 100 * float64(len(sorted))))

	freq := make(map[int]int)
	for _, ps := range sorted {
		if len(ps) > 0 {
			freq[len(ps)]++
		}
	}
	ref, best := 0, 0
	for count, f := range freq {
		if f < minWindows {
			continue
		}
		if f > best || (f == best && count > ref) {
			ref, best = count, f
		}
	}

	if ref == 0 {
		var all []float64
		for _, ps := range sorted {
			all = append(all, ps...)
		}
		m, err := stats.Median(all)
		if err != nil {
			return nil, err
		}
		return []float64{m}, nil
	}

	centers := make([]float64, ref)
	column := make([]float64, 0, best)
	for i := range centers {
		column = column[:0]
		for _, ps := range sorted {
			if len(ps) == ref {
				column = append(column, ps[i])
			}
		}
		m, err := stats.Median(column)
		if err != nil {
			return nil, err
		}
		centers[i] = m
	}
	return centers, nil
}

func nearest(centers []float64, v float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centers {
		if d := math.Abs(v - c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Trajectory returns, for every window, the median of the window's peaks in
// cluster and whether the window holds any.
func (s *ChannelPeakSet) Trajectory(cluster, nWindows int) ([]float64, []bool) {
	groups := make([][]float64, nWindows)
	for _, p := range s.Peaks {
		if p.Cluster == cluster && p.Window >= 0 && p.Window < nWindows {
			groups[p.Window] = append(groups[p.Window], p.Value)
		}
	}
	values := make([]float64, nWindows)
	present := make([]bool, nWindows)
	for w, g := range groups {
		if len(g) == 0 {
			continue
		}
		values[w], _ = stats.Median(g)
		present[w] = true
	}
	return values, present
}

// BackFilled returns the trajectory of cluster with windows lacking a peak
// set to the median over the populated windows.
func (s *ChannelPeakSet) BackFilled(cluster, nWindows int) []float64 {
	values, present := s.Trajectory(cluster, nWindows)
	populated := make([]float64, 0, nWindows)
	for w, ok := range present {
		if ok {
			populated = append(populated, values[w])
		}
	}
	fill, err := stats.Median(populated)
	if err != nil {
		return values
	}
	for w, ok := range present {
		if !ok {
			values[w] = fill
		}
	}
	return values
}

// Column identifies one feature of the matrix built by FeatureMatrix.
type Column struct {
	Channel string `json:"channel"`
	Cluster int    `json:"cluster"`
}

func (c Column) String() string {
	return fmt.Sprintf("%s_cluster_%d", c.Channel, c.Cluster)
}

// FeatureMatrix builds the window by feature matrix with one column per
// channel and retained cluster, ordered by channel name then cluster.
func FeatureMatrix(sets []*ChannelPeakSet, nWindows int) ([][]float64, []Column) {
	ordered := make([]*ChannelPeakSet, 0, len(sets))
	for _, s := range sets {
		if s != nil {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return strings.Compare(ordered[i].Channel, ordered[j].Channel) < 0
	})

	var cols []Column
	var series [][]float64
	for _, s := range ordered {
		for _, c := range s.Clusters {
			cols = append(cols, Column{Channel: s.Channel, Cluster: c})
			series = append(series, s.BackFilled(c, nWindows))
		}
	}

	matrix := make([][]float64, nWindows)
	for w := range matrix {
		row := make([]float64, len(cols))
		for j := range cols {
			row[j] = series[j][w]
		}
		matrix[w] = row
	}
	return matrix, cols
}
