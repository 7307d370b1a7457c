// Package binning splits an ordered event sequence into half-overlapping windows
// and maps window verdicts back onto events.
package binning

import "math"

// DefaultStep is the granularity derived window sizes are rounded up to.
const DefaultStep = 500

// Window is a half-open [Start, End) range over the event sequence.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of events covered by the window.
func (w Window) Len() int { return w.End - w.Start }

// Contains reports whether event index i falls inside the window.
func (w Window) Contains(i int) bool { return i >= w.Start && i < w.End }

// Overlap returns the number of events shared by consecutive windows of the
// given size.
func Overlap(size int) int {
	return (size + 1) / 2
}

// Split divides n events into windows of the given size that overlap by
// Overlap(size) events. The first window starts at 0 and the last one ends
// exactly at n; when n <= size a single window covers every event.
func Split(n, size int) []Window {
	if n <= 0 || size <= 0 {
		return nil
	}
	if n <= size {
		return []Window{{Start: 0, End: n}}
	}

	step := size - Overlap(size)
	if step < 1 {
		step = 1
	}

	windows := make([]Window, 0, n/step+1)
	for start := 0; start < n; start += step {
		end := start + size
		if end > n {
			end = n
		}
		windows = append(windows, Window{Start: start, End: end})
		if end == n {
			break
		}
	}
	return windows
}

// EventsPerWindow picks a window size that yields roughly maxWindows
// half-overlapping windows, rounded up to a multiple of step and never below
// minEvents.
func EventsPerWindow(n, minEvents, maxWindows, step int) int {
	if maxWindows <= 0 || step <= 0 {
		return minEvents
	}
	maxCells := int(math.Ceil(float64(n) / float64(maxWindows) * 2))
	maxCells = (maxCells/step)*step + step
	if maxCells < minEvents {
		return minEvents
	}
	return maxCells
}

// ExpandMask converts a window-level mask (true = bad) into an event-level keep
// mask of length n. An event is dropped when any bad window covers it.
func ExpandMask(bad []bool, windows []Window, n int) []bool {
	// +1 at the start of each bad window, -1 past its end.
	cover := make([]int, n+1)
	for i, isBad := range bad {
		if !isBad || i >= len(windows) {
			continue
		}
		w := windows[i]
		start, end := clamp(w.Start, n), clamp(w.End, n)
		if start >= end {
			continue
		}
		cover[start]++
		cover[end]--
	}

	keep := make([]bool, n)
	depth := 0
	for i := 0; i < n; i++ {
		depth += cover[i]
		keep[i] = depth == 0
	}
	return keep
}

// CountTrue returns the number of true entries in mask.
func CountTrue(mask []bool) int {
	n := 0
	for _, v := range mask {
		if v {
			n++
		}
	}
	return n
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
