package cytoqc

import (
	"errors"
	"sync"
	"testing"

	"github.com/cytoqc/cytoqc/internal/testutil"
)

// burstDataset holds 10,000 stable events on one channel with a burst of
// 100 saturated events in the middle.
func burstDataset(t *testing.T) *Dataset {
	t.Helper()
	values := testutil.StableChannel(40, 250, 100, 10, 0.1)
	testutil.WithBurst(values, 5000, 5100, 1000)
	ds, err := NewDataset([]string{"FL1-A"}, [][]float64{values})
	if err != nil {
		t.Fatalf("NewDataset: %v", err)
	}
	return ds
}

type recordingObserver struct {
	mu     sync.Mutex
	events []StageEvent
}

func (o *recordingObserver) ObserveStage(ev StageEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) stages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, ev := range o.events {
		out = append(out, ev.Stage)
	}
	return out
}

func TestRun_MADRemovesBurst(t *testing.T) {
	ds := burstDataset(t)
	cfg := DefaultConfig("FL1-A")
	cfg.Mode = ModeMAD

	res, err := Run(ds, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.WindowCount != 39 || res.EventsPerWindow != 500 {
		t.Errorf("windows = %d x %d, want 39 x 500", res.WindowCount, res.EventsPerWindow)
	}
	if len(res.GoodEvents) != ds.EventCount() {
		t.Fatalf("mask length %d, want %d", len(res.GoodEvents), ds.EventCount())
	}
	for i := 5000; i < 5100; i++ {
		if res.GoodEvents[i] {
			t.Fatalf("burst event %d kept", i)
		}
	}
	if res.PercentageRemoved <= 0 || res.PercentageRemoved >= 50 {
		t.Errorf("PercentageRemoved = %v, want within (0, 50)", res.PercentageRemoved)
	}
	if res.ITPercentage != nil {
		t.Error("ITPercentage should be nil in MAD mode")
	}
	if res.MADPercentage == nil || *res.MADPercentage <= 0 {
		t.Errorf("MADPercentage = %v", res.MADPercentage)
	}
	if res.MADContribution["FL1-A"] <= 0 {
		t.Errorf("MAD contribution = %v", res.MADContribution)
	}
	if want := res.PercentageRemoved - *res.MADPercentage; res.ConsecutivePercentage != want {
		t.Errorf("ConsecutivePercentage = %v, want %v", res.ConsecutivePercentage, want)
	}
	if res.KeptEvents() != ds.EventCount()-int(res.PercentageRemoved*100+0.5) {
		t.Errorf("KeptEvents = %d inconsistent with %v%%", res.KeptEvents(), res.PercentageRemoved)
	}
	if res.Peaks["FL1-A"] == nil {
		t.Error("peak set missing from result")
	}
}

func TestRun_SameSeedSameMask(t *testing.T) {
	values := testutil.StableChannel(16, 250, 100, 10, 0.1)
	testutil.WithBurst(values, 2000, 2060, 900)
	second := testutil.StableChannel(16, 250, 50, 5, 0)
	ds, err := NewDataset([]string{"FL1-A", "FL2-A"}, [][]float64{values, second})
	if err != nil {
		t.Fatal(err)
	}

	cfg := NewConfigBuilder("FL1-A", "FL2-A").
		WithEventsPerWindow(200).
		WithForceIT(20).
		WithSeed(11).
		MustBuild()

	a, err := Run(ds, cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := Run(ds, cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if a.ITPercentage == nil {
		t.Fatalf("isolation forest did not run: %v", a.Warnings)
	}
	for i := range a.GoodEvents {
		if a.GoodEvents[i] != b.GoodEvents[i] {
			t.Fatalf("masks differ at event %d", i)
		}
	}
	for i := range a.ITScores {
		if a.ITScores[i] != b.ITScores[i] {
			t.Fatalf("scores differ at window %d", i)
		}
	}
	if len(a.Features) != 2 {
		t.Errorf("features = %v", a.Features)
	}
}

func TestRun_ForestSkippedWithTooFewWindows(t *testing.T) {
	ds := burstDataset(t)
	obs := &recordingObserver{}
	e, err := New(DefaultConfig("FL1-A"), WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Run(ds)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ITPercentage != nil {
		t.Error("ITPercentage should be nil when the forest was skipped")
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a warning for the skipped forest")
	}
	if res.MADPercentage == nil {
		t.Error("MAD should still run")
	}

	want := []string{StagePeaks, StageForest, StageMAD, StageConsecutive, StageRun}
	got := obs.stages()
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d = %s, want %s", i, got[i], want[i])
		}
	}
	if obs.events[1].Err == nil {
		t.Error("forest stage event should carry the skip error")
	}
}

func TestRun_ModeNone(t *testing.T) {
	res, err := Run(burstDataset(t), NewConfigBuilder("FL1-A").WithMode(ModeNone).MustBuild())
	if err != nil {
		t.Fatal(err)
	}
	if res.PercentageRemoved != 0 || res.KeptEvents() != 10000 {
		t.Errorf("ModeNone removed %v%%", res.PercentageRemoved)
	}
	if res.MADPercentage != nil || res.ITPercentage != nil {
		t.Error("no detector should have run")
	}
}

func TestRun_Errors(t *testing.T) {
	ds := burstDataset(t)

	if _, err := Run(ds, DefaultConfig()); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig without channels, got %v", err)
	}

	empty, _ := NewDataset([]string{"FL1-A"}, [][]float64{{}})
	_, err := Run(empty, DefaultConfig("FL1-A"))
	var qcErr *Error
	if !errors.As(err, &qcErr) || qcErr.Kind != KindInsufficientData || qcErr.Required != 1 || qcErr.Actual != 0 {
		t.Errorf("expected InsufficientData{1, 0}, got %v", err)
	}

	_, err = Run(ds, DefaultConfig("FL9-A"))
	if !errors.Is(err, ErrNoPeaksDetected) {
		t.Errorf("expected ErrNoPeaksDetected, got %v", err)
	}
	if !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("expected the cause to match ErrChannelNotFound, got %v", err)
	}
}

func TestRun_MissingChannelSkipped(t *testing.T) {
	cfg := DefaultConfig("FL1-A", "FL9-A")
	cfg.Mode = ModeMAD
	res, err := Run(burstDataset(t), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := res.Peaks["FL9-A"]; ok {
		t.Error("missing channel should not have a peak set")
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v", res.Warnings)
	}
}
