package stats

import (
	"math"
	"testing"
)

func TestPenalizedSplineKeepsLines(t *testing.T) {
	y := make([]float64, 30)
	for i := range y {
		y[i] = 3*float64(i) + 1
	}
	z, err := PenalizedSpline(y, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	for i := range y {
		if math.Abs(z[i]-y[i]) > 1e-9 {
			t.Fatalf("line altered at %d: %v vs %v", i, z[i], y[i])
		}
	}
}

func TestPenalizedSplineDampsSpike(t *testing.T) {
	y := make([]float64, 41)
	for i := range y {
		y[i] = 100
	}
	y[20] = 200

	z, err := PenalizedSpline(y, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if z[20] >= 200 || z[20] <= 100 {
		t.Errorf("spike not damped: %v", z[20])
	}
	if z[19] <= 100 || z[21] <= 100 {
		t.Errorf("spike did not spread to neighbours: %v %v", z[19], z[21])
	}

	var sumY, sumZ float64
	for i := range y {
		sumY += y[i]
		sumZ += z[i]
	}
	// The smoother preserves the mean.
	if math.Abs(sumY-sumZ) > 1e-6 {
		t.Errorf("sum changed: %v -> %v", sumY, sumZ)
	}
}

func TestPenalizedSplineNoSmoothing(t *testing.T) {
	y := []float64{1, 5, 2, 8}
	z, err := PenalizedSpline(y, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range y {
		if z[i] != y[i] {
			t.Fatalf("spar=0 changed the series: %v", z)
		}
	}
	z[0] = 42
	if y[0] == 42 {
		t.Error("result aliases input")
	}
}

func TestPenalizedSplineRejectsBadSpar(t *testing.T) {
	if _, err := PenalizedSpline([]float64{1, 2, 3}, 1); err == nil {
		t.Error("expected error for spar=1")
	}
	if _, err := PenalizedSpline([]float64{1, 2, 3}, -0.1); err == nil {
		t.Error("expected error for negative spar")
	}
}

func TestPenalizedSplineShortSeries(t *testing.T) {
	z, err := PenalizedSpline([]float64{4, 6}, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(z) != 2 || z[0] != 4 || z[1] != 6 {
		t.Errorf("short series changed: %v", z)
	}
}
