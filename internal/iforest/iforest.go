// Package iforest implements an isolation forest: an ensemble of randomized
// partitioning trees in which a point's anomaly degree is inversely related
// to the average number of splits needed to isolate it. The package has no
// knowledge of the rule classifier; the only contract is the per-row score.
package iforest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Default construction parameters.
const (
	DefaultTrees         = 100
	DefaultSampleSize    = 256
	DefaultContamination = 0.05
	DefaultSeed          = 42
)

// ErrNoData is returned when Fit is given zero rows.
var ErrNoData = errors.New("iforest: cannot fit on empty input")

// Options control forest construction.
type Options struct {
	Trees         int     // ensemble size
	SampleSize    int     // per-tree subsample (capped at the row count)
	Contamination float64 // expected anomaly fraction, calibrates the label threshold
	Seed          int64   // fixed seed makes training deterministic
}

// DefaultOptions returns the standard construction parameters.
func DefaultOptions() Options {
	return Options{
		Trees:         DefaultTrees,
		SampleSize:    DefaultSampleSize,
		Contamination: DefaultContamination,
		Seed:          DefaultSeed,
	}
}

// Node is one split (or leaf) of an isolation tree. Trees are stored as flat
// node arrays so the whole forest serializes to a plain JSON artifact.
type Node struct {
	Feature   int     `json:"f"`          // split feature; -1 marks a leaf
	Threshold float64 `json:"t"`          // split threshold
	Left      int     `json:"l"`          // index of the < branch
	Right     int     `json:"r"`          // index of the >= branch
	Size      int     `json:"n"`          // points isolated under a leaf
}

// Tree is one isolation tree, rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a fitted isolation forest. Offset is the score quantile at the
// contamination fraction of the training set; rows scoring below zero after
// offsetting are labeled anomalous, mirroring the decision-function
// convention where lower means more anomalous.
type Forest struct {
	Trees      []Tree  `json:"trees"`
	SampleSize int     `json:"sample_size"`
	Offset     float64 `json:"offset"`
}

// Fit builds the ensemble from the given feature matrix and calibrates the
// label threshold so that roughly opts.Contamination of the training rows
// fall below it.
func Fit(x [][]float64, opts Options) (*Forest, error) {
	if len(x) == 0 {
		return nil, ErrNoData
	}
	if opts.Trees <= 0 {
		opts.Trees = DefaultTrees
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	if opts.Contamination <= 0 || opts.Contamination >= 1 {
		return nil, fmt.Errorf("iforest: contamination %v out of (0, 1)", opts.Contamination)
	}

	sampleSize := opts.SampleSize
	if sampleSize > len(x) {
		sampleSize = len(x)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize)))) + 1

	rng := rand.New(rand.NewSource(opts.Seed))
	f := &Forest{
		Trees:      make([]Tree, opts.Trees),
		SampleSize: sampleSize,
	}
	for i := range f.Trees {
		sample := subsample(x, sampleSize, rng)
		f.Trees[i] = buildTree(x, sample, maxDepth, rng)
	}

	// Calibrate: the contamination quantile of the raw training scores
	// becomes the zero point of the reported score.
	raw := make([]float64, len(x))
	for i := range x {
		raw[i] = f.rawScore(x[i])
	}
	sort.Float64s(raw)
	q := int(opts.Contamination * float64(len(raw)))
	if q >= len(raw) {
		q = len(raw) - 1
	}
	f.Offset = raw[q]

	return f, nil
}

// Score returns the calibrated anomaly score for one row. Lower is more
// anomalous; negative means the row falls inside the expected anomaly mass.
func (f *Forest) Score(row []float64) float64 {
	return f.rawScore(row) - f.Offset
}

// Anomalous reports whether the row's score falls below the calibrated
// threshold.
func (f *Forest) Anomalous(row []float64) bool {
	return f.Score(row) < 0
}

// rawScore is the negated isolation-forest anomaly measure: -2^(-E[h]/c(n)).
// It lives in [-1, 0); values near -1 isolate in very few splits.
func (f *Forest) rawScore(row []float64) float64 {
	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(row)
	}
	avg := total / float64(len(f.Trees))
	return -math.Pow(2, -avg/averagePathLength(f.SampleSize))
}

// pathLength traverses one tree, adding the subtree-size adjustment at the
// reached leaf.
func (t *Tree) pathLength(row []float64) float64 {
	var depth float64
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return depth + averagePathLength(n.Size)
		}
		depth++
		if row[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// averagePathLength is c(n): the expected path length of an unsuccessful
// search in a binary search tree over n points.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649 // harmonic number approximation
	return 2*h - 2*float64(n-1)/float64(n)
}

// subsample draws sampleSize distinct row indices.
func subsample(x [][]float64, sampleSize int, rng *rand.Rand) []int {
	idx := rng.Perm(len(x))[:sampleSize]
	out := make([]int, sampleSize)
	copy(out, idx)
	return out
}

// buildTree grows one isolation tree over the sampled rows by recursive
// random feature/threshold splits.
func buildTree(x [][]float64, sample []int, maxDepth int, rng *rand.Rand) Tree {
	t := Tree{}
	t.grow(x, sample, 0, maxDepth, rng)
	return t
}

// grow appends the subtree for the given rows and returns its node index.
func (t *Tree) grow(x [][]float64, rows []int, depth, maxDepth int, rng *rand.Rand) int {
	if depth >= maxDepth || len(rows) <= 1 {
		return t.leaf(len(rows))
	}

	feature, lo, hi, ok := pickSplit(x, rows, rng)
	if !ok {
		// All remaining rows identical on every feature.
		return t.leaf(len(rows))
	}
	threshold := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, r := range rows {
		if x[r][feature] < threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	i := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Feature: feature, Threshold: threshold})
	t.Nodes[i].Left = t.grow(x, left, depth+1, maxDepth, rng)
	t.Nodes[i].Right = t.grow(x, right, depth+1, maxDepth, rng)
	return i
}

func (t *Tree) leaf(size int) int {
	t.Nodes = append(t.Nodes, Node{Feature: -1, Size: size})
	return len(t.Nodes) - 1
}

// pickSplit chooses a random feature whose values vary within the rows and
// returns its range. Reports ok=false when no feature varies.
func pickSplit(x [][]float64, rows []int, rng *rand.Rand) (feature int, lo, hi float64, ok bool) {
	width := len(x[rows[0]])
	for _, feature := range rng.Perm(width) {
		lo, hi := x[rows[0]][feature], x[rows[0]][feature]
		for _, r := range rows[1:] {
			v := x[r][feature]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			return feature, lo, hi, true
		}
	}
	return 0, 0, 0, false
}
