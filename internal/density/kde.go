// Package density implements a Gaussian kernel density estimator evaluated on
// a regular grid by FFT convolution, and the peak picking used on its output.
package density

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/cytoqc/cytoqc/internal/stats"
)

// DefaultGridSize is the number of evaluation points.
const DefaultGridSize = 512

// MinValues is the smallest number of finite values accepted by Estimate.
const MinValues = 3

var (
	// ErrTooFewValues is returned when fewer than MinValues finite values remain.
	ErrTooFewValues = errors.New("density: too few finite values")

	// ErrDegenerate is returned when the bandwidth or grid cannot be formed.
	ErrDegenerate = errors.New("density: degenerate input")
)

const invSqrt2Pi = 0.3989422804014327

// KDE is a density estimate sampled on a regular grid.
type KDE struct {
	X         []float64
	Y         []float64
	Bandwidth float64
	N         int
}

// Estimate computes a Gaussian KDE of values with a Silverman bandwidth scaled
// by adjust, evaluated at gridSize points spanning [min-3bw, max+3bw].
func Estimate(values []float64, adjust float64, gridSize int) (*KDE, error) {
	if gridSize < 3 {
		gridSize = DefaultGridSize
	}
	if adjust <= 0 {
		adjust = 1
	}

	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) < MinValues {
		return nil, fmt.Errorf("%w: %d of %d required", ErrTooFewValues, len(clean), MinValues)
	}

	bw := Silverman(clean) * adjust
	lo, hi := floats.Min(clean), floats.Max(clean)
	gridMin, gridMax := lo-3*bw, hi+3*bw
	if !(bw > 0) || math.IsInf(bw, 0) || !(gridMax > gridMin) || math.IsInf(gridMax-gridMin, 0) {
		return nil, fmt.Errorf("%w: bandwidth %v over [%v, %v]", ErrDegenerate, bw, lo, hi)
	}

	x := make([]float64, gridSize)
	floats.Span(x, gridMin, gridMax)
	delta := (gridMax - gridMin) / float64(gridSize-1)

	y := convolve(binLinear(clean, gridMin, delta, gridSize), delta, bw)
	n := float64(len(clean))
	for i := range y {
		y[i] /= n * bw
	}

	return &KDE{X: x, Y: y, Bandwidth: bw, N: len(clean)}, nil
}

// Silverman returns 0.9 * min(sd, IQR/1.34) * n^(-1/5). A zero spread
// estimate falls back to the standard deviation, then |x[0]|, then 1.
func Silverman(x []float64) float64 {
	sd := stat.PopStdDev(x, nil)
	scale := math.Min(sd, stats.IQR(x)/1.34)
	if scale == 0 {
		scale = sd
	}
	if scale == 0 {
		scale = math.Abs(x[0])
	}
	if scale == 0 {
		scale = 1
	}
	return 0.9 * scale * math.Pow(float64(len(x)), -0.2)
}

// binLinear spreads each value over its two neighbouring grid points in
// proportion to proximity.
func binLinear(values []float64, gridMin, delta float64, size int) []float64 {
	counts := make([]float64, size)
	for _, v := range values {
		pos := (v - gridMin) / delta
		i := int(math.Floor(pos))
		frac := pos - float64(i)
		if i >= 0 && i < size {
			counts[i] += 1 - frac
		}
		if i+1 >= 0 && i+1 < size {
			counts[i+1] += frac
		}
	}
	return counts
}

// convolve returns sum_j counts[j] * phi((i-j)*delta/bw) for every grid point
// i, computed with a zero-padded real FFT.
func convolve(counts []float64, delta, bw float64) []float64 {
	m := len(counts)
	size := nextPow2(2 * m)

	signal := make([]float64, size)
	copy(signal, counts)

	kernel := make([]float64, size)
	for j := 0; j < m; j++ {
		u := float64(j) * delta / bw
		k := invSqrt2Pi * math.Exp(-0.5*u*u)
		kernel[j] = k
		if j > 0 {
			kernel[size-j] = k
		}
	}

	fft := fourier.NewFFT(size)
	a := fft.Coefficients(nil, signal)
	b := fft.Coefficients(nil, kernel)
	for i := range a {
		a[i] *= b[i]
	}
	out := fft.Sequence(nil, a)

	y := make([]float64, m)
	for i := range y {
		// The inverse transform is unnormalised.
		v := out[i] / float64(size)
		if v < 0 {
			v = 0
		}
		y[i] = v
	}
	return y
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Peaks returns the grid locations of strict local maxima whose density
// exceeds removal times the global maximum, in ascending order. When no point
// qualifies the location of the global maximum is returned.
func (k *KDE) Peaks(removal float64) []float64 {
	if len(k.Y) == 0 {
		return nil
	}
	maxIdx := floats.MaxIdx(k.Y)
	threshold := removal * k.Y[maxIdx]

	var peaks []float64
	for i := 1; i < len(k.Y)-1; i++ {
		if k.Y[i] > k.Y[i-1] && k.Y[i] > k.Y[i+1] && k.Y[i] > threshold {
			peaks = append(peaks, k.X[i])
		}
	}
	if len(peaks) == 0 {
		peaks = append(peaks, k.X[maxIdx])
	}
	return peaks
}
