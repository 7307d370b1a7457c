// Package testutil provides shared test helpers: temporary paths and
// deterministic synthetic event data.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"
)

// TempDBPath returns a temporary directory and database file path suitable
// for tests. The directory is automatically cleaned up when the test completes.
func TempDBPath(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "test.db")
	return dir, path
}

// MustNotExist asserts that the file does not exist.
func MustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected %s to not exist", path)
	}
}

// permStride shuffles quantiles inside a block. It must be coprime with the
// block size.
const permStride = 97

// NormalBlock returns n values following a normal distribution exactly: the
// (k+0.5)/n quantiles of N(mean, sd), in a fixed scrambled order.
func NormalBlock(n int, mean, sd float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		k := (i * permStride) % n
		out[i] = mean + sd*distuv.UnitNormal.Quantile((float64(k)+0.5)/float64(n))
	}
	return out
}

// StableChannel returns blocks*blockSize values made of consecutive normal
// blocks whose mean drifts by drift per block.
func StableChannel(blocks, blockSize int, mean, sd, drift float64) []float64 {
	out := make([]float64, 0, blocks*blockSize)
	for b := 0; b < blocks; b++ {
		out = append(out, NormalBlock(blockSize, mean+drift*float64(b), sd)...)
	}
	return out
}

// WithBurst sets values[start:end] to v and returns values.
func WithBurst(values []float64, start, end int, v float64) []float64 {
	for i := start; i < end && i < len(values); i++ {
		values[i] = v
	}
	return values
}
