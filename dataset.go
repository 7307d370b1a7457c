package cytoqc

import (
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// EventSource is the data access contract consumed by a QC run.
type EventSource interface {
	// EventCount returns the number of events.
	EventCount() int
	// ChannelNames returns the channel names in acquisition order.
	ChannelNames() []string
	// ChannelValues returns the values of one channel, one per event.
	// A missing channel yields a KindChannelNotFound error.
	ChannelValues(name string) ([]float64, error)
	// FluorescenceChannelNames returns the channels that are neither
	// scatter nor time channels.
	FluorescenceChannelNames() []string
}

// FluorescenceChannels filters out names containing FSC, SSC or TIME,
// ignoring case.
func FluorescenceChannels(names []string) []string {
	var out []string
	for _, n := range names {
		u := strings.ToUpper(n)
		if strings.Contains(u, "FSC") || strings.Contains(u, "SSC") || strings.Contains(u, "TIME") {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Dataset is an in-memory EventSource holding one column per channel.
type Dataset struct {
	names   []string
	index   map[string]int
	columns [][]float64
	events  int
}

// NewDataset creates a dataset from parallel names and columns. Every
// column must hold the same number of events.
func NewDataset(names []string, columns [][]float64) (*Dataset, error) {
	if len(names) != len(columns) {
		return nil, lengthMismatch("column count", len(names), len(columns))
	}
	d := &Dataset{
		names:   append([]string(nil), names...),
		index:   make(map[string]int, len(names)),
		columns: columns,
	}
	for i, n := range names {
		if _, dup := d.index[n]; dup {
			return nil, configError("duplicate channel %q", n)
		}
		d.index[n] = i
		if i == 0 {
			d.events = len(columns[0])
		} else if len(columns[i]) != d.events {
			e := lengthMismatch("column length", d.events, len(columns[i]))
			e.Channel = n
			return nil, e
		}
	}
	return d, nil
}

// ReadCSV reads a dataset from CSV with a header row of channel names.
func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, configError("csv: missing header row")
		}
		return nil, fmt.Errorf("csv header: %w", err)
	}
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(h)
	}
	columns := make([][]float64, len(names))

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d, column %q: %w", line, names[i], err)
			}
			columns[i] = append(columns[i], v)
		}
	}
	return NewDataset(names, columns)
}

// EventCount returns the number of events.
func (d *Dataset) EventCount() int { return d.events }

// ChannelNames returns a copy of the channel names.
func (d *Dataset) ChannelNames() []string {
	return append([]string(nil), d.names...)
}

// ChannelValues returns the column of name. The slice is shared with the
// dataset and must not be modified.
func (d *Dataset) ChannelValues(name string) ([]float64, error) {
	i, ok := d.index[name]
	if !ok {
		return nil, channelNotFound(name)
	}
	return d.columns[i], nil
}

// FluorescenceChannelNames returns the fluorescence channels.
func (d *Dataset) FluorescenceChannelNames() []string {
	return FluorescenceChannels(d.names)
}

// ApplyMask returns a new dataset holding the events whose mask entry is
// true.
func (d *Dataset) ApplyMask(mask []bool) (*Dataset, error) {
	if len(mask) != d.events {
		return nil, lengthMismatch("mask length", d.events, len(mask))
	}
	kept := 0
	for _, k := range mask {
		if k {
			kept++
		}
	}
	columns := make([][]float64, len(d.columns))
	for c, col := range d.columns {
		out := make([]float64, 0, kept)
		for i, v := range col {
			if mask[i] {
				out = append(out, v)
			}
		}
		columns[c] = out
	}
	return NewDataset(d.names, columns)
}

// Fingerprint hashes the channel names and values. Identical acquisitions
// produce identical fingerprints.
func (d *Dataset) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	for i, name := range d.names {
		_, _ = h.WriteString(name)
		_, _ = h.Write([]byte{0})
		for _, v := range d.columns[i] {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			_, _ = h.Write(buf[:])
		}
	}
	return h.Sum64()
}

// fingerprintOf returns the fingerprint of src when it can provide one.
func fingerprintOf(src EventSource) uint64 {
	if f, ok := src.(interface{ Fingerprint() uint64 }); ok {
		return f.Fingerprint()
	}
	return 0
}
