package cytoqc

import (
	"time"

	"github.com/google/uuid"
)

// Summary holds the headline numbers of a run.
type Summary struct {
	KeptEvents            int                `json:"kept_events"`
	PercentageRemoved     float64            `json:"percentage_removed"`
	ITPercentage          *float64           `json:"it_percentage"`
	MADPercentage         *float64           `json:"mad_percentage"`
	ConsecutivePercentage float64            `json:"consecutive_percentage"`
	MADContribution       map[string]float64 `json:"mad_contribution,omitempty"`
}

// Report is the persisted record of a QC run. The event mask is bit-packed,
// least significant bit first, with a set bit for a kept event.
type Report struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Source      string    `json:"source,omitempty"`
	Fingerprint uint64    `json:"fingerprint"`
	EventCount  int       `json:"event_count"`
	Channels    []string  `json:"channels"`
	Config      Config    `json:"config"`
	Summary     Summary   `json:"summary"`
	WindowSize  int       `json:"window_size"`
	WindowCount int       `json:"window_count"`
	Mask        []byte    `json:"mask"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// NewReport builds the report of res. The report takes the run ID of res,
// or a fresh one when res carries none.
func NewReport(src EventSource, cfg Config, res *Result) *Report {
	id := res.RunID
	if id == "" {
		id = uuid.NewString()
	}
	return &Report{
		ID:          id,
		CreatedAt:   time.Now().UTC(),
		Fingerprint: fingerprintOf(src),
		EventCount:  len(res.GoodEvents),
		Channels:    cfg.Channels,
		Config:      cfg,
		Summary: Summary{
			KeptEvents:            res.KeptEvents(),
			PercentageRemoved:     res.PercentageRemoved,
			ITPercentage:          res.ITPercentage,
			MADPercentage:         res.MADPercentage,
			ConsecutivePercentage: res.ConsecutivePercentage,
			MADContribution:       res.MADContribution,
		},
		WindowSize:  res.EventsPerWindow,
		WindowCount: res.WindowCount,
		Mask:        packMask(res.GoodEvents),
		Warnings:    res.Warnings,
	}
}

// GoodEvents unpacks the event mask.
func (r *Report) GoodEvents() []bool {
	return unpackMask(r.Mask, r.EventCount)
}

func packMask(mask []bool) []byte {
	out := make([]byte, (len(mask)+7)/8)
	for i, keep := range mask {
		if keep {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

func unpackMask(packed []byte, n int) []bool {
	mask := make([]bool, n)
	for i := range mask {
		if i/8 < len(packed) {
			mask[i] = packed[i/8]&(1<<(i%8)) != 0
		}
	}
	return mask
}
