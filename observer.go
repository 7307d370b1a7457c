package cytoqc

import "time"

// Stage names reported to observers.
const (
	StagePeaks       = "peaks"
	StageForest      = "isolation_forest"
	StageMAD         = "mad"
	StageConsecutive = "consecutive"
	StageRun         = "run"
)

// StageEvent describes one completed pipeline stage.
type StageEvent struct {
	RunID    string        `json:"run_id"`
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
	// Flagged is the number of bad windows after the stage.
	Flagged int `json:"flagged"`
	Windows int `json:"windows"`
	// Err is set when the stage failed or was skipped.
	Err error `json:"-"`
}

// Observer receives stage events from a run. Implementations must be safe
// for concurrent use.
type Observer interface {
	ObserveStage(StageEvent)
}

// NopObserver discards every event.
type NopObserver struct{}

// ObserveStage implements Observer.
func (NopObserver) ObserveStage(StageEvent) {}

// Observers fans events out to several observers in order.
type Observers []Observer

// ObserveStage implements Observer.
func (o Observers) ObserveStage(ev StageEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveStage(ev)
		}
	}
}
