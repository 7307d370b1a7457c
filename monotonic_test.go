package cytoqc

import (
	"testing"
)

func TestDetectMonotonic(t *testing.T) {
	const n = 2000
	up := make([]float64, n)
	down := make([]float64, n)
	peak := make([]float64, n)
	for i := 0; i < n; i++ {
		up[i] = float64(i)
		down[i] = float64(n - i)
		peak[i] = float64(min(i, n-i))
	}
	ds, _ := NewDataset([]string{"UP", "DOWN", "PEAK"}, [][]float64{up, down, peak})
	windows := SplitWindows(n, 100)

	res, err := DetectMonotonic(ds, []string{"UP", "DOWN", "PEAK"}, windows, DefaultMonotonicConfig())
	if err != nil {
		t.Fatalf("DetectMonotonic: %v", err)
	}
	if len(res.Increasing) != 1 || res.Increasing[0] != "UP" {
		t.Errorf("Increasing = %v", res.Increasing)
	}
	if len(res.Decreasing) != 1 || res.Decreasing[0] != "DOWN" {
		t.Errorf("Decreasing = %v", res.Decreasing)
	}
	if len(res.Both) != 2 || res.Both[0] != "DOWN" || res.Both[1] != "UP" {
		t.Errorf("Both = %v", res.Both)
	}
	if res.Correlations["UP"] < 0.99 || res.Correlations["DOWN"] > -0.99 {
		t.Errorf("Correlations = %v", res.Correlations)
	}
	if !res.HasIssues() {
		t.Error("HasIssues should be true")
	}
}

func TestDetectMonotonicShortSeries(t *testing.T) {
	ds, _ := NewDataset([]string{"A"}, [][]float64{{1, 2, 3, 4}})
	res, err := DetectMonotonic(ds, []string{"A"}, SplitWindows(4, 4), MonotonicConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if res.HasIssues() {
		t.Error("a single window cannot show a trend")
	}
}
