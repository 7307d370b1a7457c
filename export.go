package cytoqc

import (
	"bufio"
	"io"
	"strconv"

	"github.com/goccy/go-json"
)

// DefaultMaskColumn is the header of exported mask columns.
const DefaultMaskColumn = "PeacoQC"

// Numeric mask values understood by downstream gating tools.
const (
	NumericGood = 2000
	NumericBad  = 6000
)

// WriteMaskCSV writes one row per event: 1 for a kept event, 0 otherwise.
// An empty column uses DefaultMaskColumn.
func WriteMaskCSV(w io.Writer, mask []bool, column string) error {
	return writeMask(w, mask, column, "1", "0")
}

// WriteMaskCSVNumeric writes NumericGood for kept events and NumericBad for
// discarded ones.
func WriteMaskCSVNumeric(w io.Writer, mask []bool, column string) error {
	return writeMask(w, mask, column, strconv.Itoa(NumericGood), strconv.Itoa(NumericBad))
}

func writeMask(w io.Writer, mask []bool, column, good, bad string) error {
	if column == "" {
		column = DefaultMaskColumn
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(column + "\n"); err != nil {
		return err
	}
	for _, keep := range mask {
		v := bad
		if keep {
			v = good
		}
		if _, err := bw.WriteString(v + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Metadata summarises a run for export.
type Metadata struct {
	RunID                 string             `json:"run_id"`
	Events                int                `json:"events"`
	KeptEvents            int                `json:"kept_events"`
	PercentageRemoved     float64            `json:"percentage_removed"`
	ITPercentage          *float64           `json:"it_percentage"`
	MADPercentage         *float64           `json:"mad_percentage"`
	ConsecutivePercentage float64            `json:"consecutive_percentage"`
	WindowCount           int                `json:"window_count"`
	EventsPerWindow       int                `json:"events_per_window"`
	Channels              []string           `json:"channels"`
	MADContribution       map[string]float64 `json:"mad_contribution,omitempty"`
	Warnings              []string           `json:"warnings,omitempty"`
	Config                Config             `json:"config"`
}

// NewMetadata collects the export summary of res.
func NewMetadata(res *Result, cfg Config) Metadata {
	return Metadata{
		RunID:                 res.RunID,
		Events:                len(res.GoodEvents),
		KeptEvents:            res.KeptEvents(),
		PercentageRemoved:     res.PercentageRemoved,
		ITPercentage:          res.ITPercentage,
		MADPercentage:         res.MADPercentage,
		ConsecutivePercentage: res.ConsecutivePercentage,
		WindowCount:           res.WindowCount,
		EventsPerWindow:       res.EventsPerWindow,
		Channels:              cfg.Channels,
		MADContribution:       res.MADContribution,
		Warnings:              res.Warnings,
		Config:                cfg,
	}
}

// WriteMetadataJSON writes the run summary and configuration as indented
// JSON.
func WriteMetadataJSON(w io.Writer, res *Result, cfg Config) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewMetadata(res, cfg))
}
