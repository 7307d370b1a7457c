// Package stats holds the robust summary statistics and smoothers shared by the
// QC stages.
package stats

import (
	"errors"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// MADScale makes the median absolute deviation a consistent estimator of the
// standard deviation under normality.
const MADScale = 1.4826

// ErrEmpty is returned when a statistic is requested for an empty sample.
var ErrEmpty = errors.New("stats: empty sample")

// Median returns the sample median, averaging the two middle values for an
// even-length sample. The input is not modified.
func Median(x []float64) (float64, error) {
	if len(x) == 0 {
		return 0, ErrEmpty
	}
	sorted := slices.Clone(x)
	slices.Sort(sorted)
	return sortedMedian(sorted), nil
}

func sortedMedian(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MedianMAD returns the median and the raw (unscaled) median absolute
// deviation of x.
func MedianMAD(x []float64) (median, mad float64, err error) {
	median, err = Median(x)
	if err != nil {
		return 0, 0, err
	}
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - median)
	}
	mad, _ = Median(dev)
	return median, mad, nil
}

// MedianScaledMAD is MedianMAD with the deviation multiplied by MADScale.
func MedianScaledMAD(x []float64) (median, mad float64, err error) {
	median, mad, err = MedianMAD(x)
	return median, mad * MADScale, err
}

// IQR returns sorted[3n/4] - sorted[n/4], or the range for fewer than four
// values.
func IQR(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sorted := slices.Clone(x)
	slices.Sort(sorted)
	n := len(sorted)
	if n < 4 {
		return sorted[n-1] - sorted[0]
	}
	return sorted[3*n/4] - sorted[n/4]
}

// Ranks returns 1-based ranks of x, giving tied values their average rank.
func Ranks(x []float64) []float64 {
	n := len(x)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case x[a] < x[b]:
			return -1
		case x[a] > x[b]:
			return 1
		}
		return 0
	})

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i + 1
		for j < n && math.Abs(x[idx[j]]-x[idx[i]]) < 1e-10 {
			j++
		}
		avg := float64(i+j+1) / 2 // mean of ranks i+1..j
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}
	return ranks
}

// Spearman returns the Spearman rank correlation of x and y.
func Spearman(x, y []float64) (float64, error) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, errors.New("stats: spearman needs two equal-length samples of at least 2 values")
	}
	r := stat.Correlation(Ranks(x), Ranks(y), nil)
	if math.IsNaN(r) {
		// A constant sample has no rank order.
		return 0, nil
	}
	return r, nil
}

// KernelSmooth evaluates a Nadaraya-Watson smoother with a Gaussian kernel of
// the given bandwidth at each point of at.
func KernelSmooth(x, y, at []float64, bandwidth float64) ([]float64, error) {
	if len(x) != len(y) || len(x) < 2 {
		return nil, errors.New("stats: kernel smoothing needs two equal-length samples of at least 2 values")
	}
	if bandwidth <= 0 {
		return nil, errors.New("stats: kernel bandwidth must be positive")
	}
	out := make([]float64, len(at))
	for i, target := range at {
		var num, den float64
		for j := range x {
			d := (target - x[j]) / bandwidth
			w := math.Exp(-0.5 * d * d)
			num += w * y[j]
			den += w
		}
		if den > 1e-10 {
			out[i] = num / den
		} else {
			out[i] = y[nearest(x, target)]
		}
	}
	return out, nil
}

func nearest(x []float64, target float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, v := range x {
		if d := math.Abs(v - target); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
