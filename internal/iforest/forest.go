// Package iforest scores the windows of a run with an isolation forest built
// over the window by feature matrix.
package iforest

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// eulerGamma is the Euler-Mascheroni constant used by the path length
// normaliser.
const eulerGamma = 0.5772156649

// ErrNoFeatures is returned for a matrix without columns.
var ErrNoFeatures = errors.New("iforest: feature matrix has no columns")

// InsufficientDataError reports too few windows for a meaningful forest.
type InsufficientDataError struct {
	Required int
	Actual   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("iforest: %d windows available, %d required", e.Actual, e.Required)
}

// Config configures the forest.
type Config struct {
	// Trees is the ensemble size.
	Trees int
	// SampleSize is the number of windows drawn for each tree.
	SampleSize int
	// MaxDepth caps tree growth.
	MaxDepth int
	// MinWindows is the smallest window count the forest runs on.
	MinWindows int
	// Limit is the score above which a window is flagged.
	Limit float64
	// Seed seeds the generator used when Detect is not given one.
	Seed uint64
}

// DefaultConfig returns the default forest configuration.
func DefaultConfig() Config {
	return Config{
		Trees:      100,
		SampleSize: 256,
		MaxDepth:   10,
		MinWindows: 150,
		Limit:      0.6,
		Seed:       1,
	}
}

// node is either a leaf or a split. pathLength returns the contribution of
// one tree to the total path length of row: one plus the edges traversed to
// the reached leaf, plus c(k) for a leaf still holding k > 1 samples.
type node interface {
	pathLength(row []float64, depth int) float64
}

type leaf struct {
	count int
}

func (l *leaf) pathLength(_ []float64, depth int) float64 {
	return float64(depth) + 1 + averagePathLength(l.count)
}

type split struct {
	feature   int
	threshold float64
	left      node
	right     node
}

func (s *split) pathLength(row []float64, depth int) float64 {
	if row[s.feature] < s.threshold {
		return s.left.pathLength(row, depth+1)
	}
	return s.right.pathLength(row, depth+1)
}

// averagePathLength is the expected path length of an unsuccessful search in
// a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	k := float64(n)
	return 2*(math.Log(k-1)+eulerGamma) - 2*(k-1)/k
}

// Forest is a fitted isolation forest.
type Forest struct {
	trees      []node
	sampleSize int
	features   int
}

// Fit grows cfg.Trees trees over the rows of matrix. Tree seeds are drawn in
// order from rng so the forest does not depend on goroutine scheduling.
func Fit(matrix [][]float64, cfg Config, rng *rand.Rand) (*Forest, error) {
	if err := checkMatrix(matrix, 2); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	}
	trees := cfg.Trees
	if trees < 1 {
		trees = 1
	}
	sampleSize := cfg.SampleSize
	if sampleSize < 2 || sampleSize > len(matrix) {
		sampleSize = len(matrix)
	}
	maxDepth := cfg.MaxDepth
	if maxDepth < 1 {
		maxDepth = int(math.Ceil(math.Log2(float64(sampleSize))))
	}

	type seed struct{ a, b uint64 }
	seeds := make([]seed, trees)
	for i := range seeds {
		seeds[i] = seed{rng.Uint64(), rng.Uint64()}
	}

	f := &Forest{
		trees:      make([]node, trees),
		sampleSize: sampleSize,
		features:   len(matrix[0]),
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range f.trees {
		g.Go(func() error {
			r := rand.New(rand.NewPCG(seeds[i].a, seeds[i].b))
			sample := sampleRows(matrix, sampleSize, r)
			f.trees[i] = grow(sample, 0, maxDepth, r)
			return nil
		})
	}
	// Tree growth cannot fail.
	_ = g.Wait()
	return f, nil
}

// sampleRows draws size rows without replacement using a partial
// Fisher-Yates shuffle of the row indices.
func sampleRows(matrix [][]float64, size int, r *rand.Rand) [][]float64 {
	idx := make([]int, len(matrix))
	for i := range idx {
		idx[i] = i
	}
	out := make([][]float64, size)
	for i := 0; i < size; i++ {
		j := i + r.IntN(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
		out[i] = matrix[idx[i]]
	}
	return out
}

func grow(rows [][]float64, depth, maxDepth int, r *rand.Rand) node {
	if len(rows) <= 1 || depth >= maxDepth {
		return &leaf{count: len(rows)}
	}

	nf := len(rows[0])
	lo := make([]float64, nf)
	hi := make([]float64, nf)
	copy(lo, rows[0])
	copy(hi, rows[0])
	for _, row := range rows[1:] {
		for j, v := range row {
			lo[j] = math.Min(lo[j], v)
			hi[j] = math.Max(hi[j], v)
		}
	}
	var candidates []int
	for j := range lo {
		if hi[j] > lo[j] {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return &leaf{count: len(rows)}
	}

	feature := candidates[r.IntN(len(candidates))]
	threshold := lo[feature] + r.Float64()*(hi[feature]-lo[feature])

	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &split{
		feature:   feature,
		threshold: threshold,
		left:      grow(left, depth+1, maxDepth, r),
		right:     grow(right, depth+1, maxDepth, r),
	}
}

// Score returns the anomaly score of row in (0, 1]; higher is more anomalous.
func (f *Forest) Score(row []float64) float64 {
	if len(row) != f.features {
		return math.NaN()
	}
	var total float64
	for _, t := range f.trees {
		total += t.pathLength(row, 0)
	}
	avg := total / float64(len(f.trees))
	c := averagePathLength(f.sampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -avg/c)
}

// Result holds per-window scores and verdicts.
type Result struct {
	Scores  []float64
	Flagged []bool
}

// FlaggedCount returns the number of flagged windows.
func (r *Result) FlaggedCount() int {
	n := 0
	for _, b := range r.Flagged {
		if b {
			n++
		}
	}
	return n
}

// Detect fits a forest on matrix and flags every window scoring above
// cfg.Limit. A nil rng is replaced by one seeded from cfg.Seed.
func Detect(matrix [][]float64, cfg Config, rng *rand.Rand) (*Result, error) {
	if err := checkMatrix(matrix, cfg.MinWindows); err != nil {
		return nil, err
	}
	forest, err := Fit(matrix, cfg, rng)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Scores:  make([]float64, len(matrix)),
		Flagged: make([]bool, len(matrix)),
	}
	for i, row := range matrix {
		s := forest.Score(row)
		res.Scores[i] = s
		res.Flagged[i] = s > cfg.Limit
	}
	return res, nil
}

func checkMatrix(matrix [][]float64, minWindows int) error {
	required := max(minWindows, 2)
	if len(matrix) < required {
		return &InsufficientDataError{Required: required, Actual: len(matrix)}
	}
	cols := len(matrix[0])
	if cols == 0 {
		return ErrNoFeatures
	}
	for i, row := range matrix {
		if len(row) != cols {
			return fmt.Errorf("iforest: row %d has %d columns, want %d", i, len(row), cols)
		}
	}
	return nil
}
