// Package consecutive removes short runs of good windows that are enclosed by
// bad ones.
package consecutive

// DefaultMinRun is the default minimum length of an interior good run.
const DefaultMinRun = 5

// Fill returns a copy of bad in which every maximal run of false values
// shorter than k, and touching neither end of the slice, is set to true.
func Fill(bad []bool, k int) []bool {
	out := make([]bool, len(bad))
	copy(out, bad)

	i := 0
	for i < len(out) {
		if out[i] {
			i++
			continue
		}
		start := i
		for i < len(out) && !out[i] {
			i++
		}
		if start == 0 || i == len(out) {
			continue
		}
		if i-start < k {
			for j := start; j < i; j++ {
				out[j] = true
			}
		}
	}
	return out
}
