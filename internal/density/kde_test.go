package density

import (
	"errors"
	"math"
	"testing"
)

func bimodal() []float64 {
	data := make([]float64, 0, 200)
	for i := 0; i < 100; i++ {
		data = append(data, 0.0, 5.0)
	}
	return data
}

func TestEstimateBimodalPeaks(t *testing.T) {
	kde, err := Estimate(bimodal(), 1, DefaultGridSize)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if len(kde.X) != DefaultGridSize || len(kde.Y) != DefaultGridSize {
		t.Fatalf("unexpected grid size %d/%d", len(kde.X), len(kde.Y))
	}

	peaks := kde.Peaks(0.3)
	if len(peaks) != 2 {
		t.Fatalf("expected 2 peaks, got %d: %v", len(peaks), peaks)
	}
	if math.Abs(peaks[0]) > 0.1 {
		t.Errorf("first peak %v not near 0", peaks[0])
	}
	if math.Abs(peaks[1]-5) > 0.1 {
		t.Errorf("second peak %v not near 5", peaks[1])
	}
}

func TestEstimateIntegratesToOne(t *testing.T) {
	kde, err := Estimate(bimodal(), 1, DefaultGridSize)
	if err != nil {
		t.Fatal(err)
	}
	step := kde.X[1] - kde.X[0]
	var area float64
	for _, y := range kde.Y {
		area += y * step
	}
	if math.Abs(area-1) > 0.02 {
		t.Errorf("density integrates to %v", area)
	}
}

func TestEstimateMatchesDirectSum(t *testing.T) {
	values := []float64{1.2, 2.5, 2.7, 3.1, 4.8, 5.0, 5.2, 7.9}
	kde, err := Estimate(values, 1, DefaultGridSize)
	if err != nil {
		t.Fatal(err)
	}
	// Direct evaluation at a few grid points; linear binning keeps the error
	// well below the density scale.
	for _, i := range []int{100, 256, 400} {
		var direct float64
		for _, v := range values {
			u := (kde.X[i] - v) / kde.Bandwidth
			direct += invSqrt2Pi * math.Exp(-0.5*u*u)
		}
		direct /= float64(len(values)) * kde.Bandwidth
		if math.Abs(direct-kde.Y[i]) > 0.01*maxOf(kde.Y) {
			t.Errorf("grid %d: fft %v vs direct %v", i, kde.Y[i], direct)
		}
	}
}

func TestEstimateTooFewValues(t *testing.T) {
	_, err := Estimate([]float64{1, math.NaN(), math.Inf(1), 2}, 1, DefaultGridSize)
	if !errors.Is(err, ErrTooFewValues) {
		t.Errorf("expected ErrTooFewValues, got %v", err)
	}
}

func TestEstimateConstantInput(t *testing.T) {
	kde, err := Estimate([]float64{3, 3, 3, 3, 3}, 1, DefaultGridSize)
	if err != nil {
		t.Fatalf("constant input should fall back to a usable bandwidth: %v", err)
	}
	peaks := kde.Peaks(1.0 / 3)
	if len(peaks) != 1 || math.Abs(peaks[0]-3) > 0.05 {
		t.Errorf("expected one peak at 3, got %v", peaks)
	}
}

func TestPeaksFallbackToGlobalMax(t *testing.T) {
	kde := &KDE{
		X: []float64{0, 1, 2, 3},
		Y: []float64{0.1, 0.2, 0.3, 0.4},
	}
	peaks := kde.Peaks(0.3)
	if len(peaks) != 1 || peaks[0] != 3 {
		t.Errorf("expected fallback peak at 3, got %v", peaks)
	}
}

func TestPeaksThreshold(t *testing.T) {
	kde := &KDE{
		X: []float64{0, 1, 2, 3, 4, 5, 6},
		Y: []float64{0, 1.0, 0, 0.2, 0, 0.5, 0},
	}
	if got := kde.Peaks(0.3); len(got) != 2 || got[0] != 1 || got[1] != 5 {
		t.Errorf("Peaks(0.3) = %v", got)
	}
	if got := kde.Peaks(0.1); len(got) != 3 {
		t.Errorf("Peaks(0.1) = %v", got)
	}
}

func TestSilverman(t *testing.T) {
	bw := Silverman(bimodal())
	want := 0.9 * 2.5 * math.Pow(200, -0.2)
	if math.Abs(bw-want) > 1e-12 {
		t.Errorf("Silverman = %v, want %v", bw, want)
	}
}

func maxOf(y []float64) float64 {
	m := y[0]
	for _, v := range y {
		if v > m {
			m = v
		}
	}
	return m
}
