package detector

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const eulerGamma = 0.5772156649015329

type isolationNode struct {
	feature     int
	split       float64
	left, right *isolationNode
	size        int // samples reaching a leaf
}

func (n *isolationNode) isLeaf() bool {
	return n.left == nil
}

// isolationForest scores points by how quickly random axis-aligned splits
// isolate them. Short average paths mean outliers.
type isolationForest struct {
	trees      []*isolationNode
	sampleSize int
	features   int
	offset     float64
}

type forestParams struct {
	trees         int
	sampleSize    int
	contamination float64
}

func fitForest(X [][]float64, p forestParams, rng *rand.Rand) *isolationForest {
	n := len(X)
	psi := min(p.sampleSize, n)
	f := &isolationForest{
		trees:      make([]*isolationNode, 0, p.trees),
		sampleSize: psi,
		features:   len(X[0]),
	}
	heightLimit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	for t := 0; t < p.trees; t++ {
		idx := rng.Perm(n)[:psi]
		rows := make([][]float64, psi)
		for i, k := range idx {
			rows[i] = X[k]
		}
		f.trees = append(f.trees, buildTree(rows, 0, heightLimit, rng))
	}

	// Offset places the decision boundary so that roughly a contamination
	// fraction of the training points falls below zero.
	scores := make([]float64, n)
	for i, x := range X {
		scores[i] = f.scoreSample(x)
	}
	sort.Float64s(scores)
	f.offset = stat.Quantile(p.contamination, stat.LinInterp, scores, nil)
	return f
}

func buildTree(rows [][]float64, depth, limit int, rng *rand.Rand) *isolationNode {
	if depth >= limit || len(rows) <= 1 {
		return &isolationNode{size: len(rows)}
	}

	dims := len(rows[0])
	for _, feature := range rng.Perm(dims) {
		lo, hi := rows[0][feature], rows[0][feature]
		for _, r := range rows[1:] {
			lo = math.Min(lo, r[feature])
			hi = math.Max(hi, r[feature])
		}
		if lo == hi {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, r := range rows {
			if r[feature] < split {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}
		return &isolationNode{
			feature: feature,
			split:   split,
			left:    buildTree(left, depth+1, limit, rng),
			right:   buildTree(right, depth+1, limit, rng),
		}
	}
	// every feature is constant on this node
	return &isolationNode{size: len(rows)}
}

func pathLength(x []float64, node *isolationNode, depth int) float64 {
	for !node.isLeaf() {
		if x[node.feature] < node.split {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(node.size)
}

// averagePathLength is the expected path length of an unsuccessful search in
// a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// scoreSample returns the negated anomaly score in [-1, 0); lower is more abnormal.
func (f *isolationForest) scoreSample(x []float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += pathLength(x, tree, 0)
	}
	mean := total / float64(len(f.trees))
	return -math.Pow(2, -mean/averagePathLength(f.sampleSize))
}

// decision returns the shifted score; negative values are outliers.
func (f *isolationForest) decision(x []float64) (float64, error) {
	if len(x) != f.features {
		return 0, fmt.Errorf("%w: got %d features, forest fitted on %d", ErrFeatureMismatch, len(x), f.features)
	}
	return f.scoreSample(x) - f.offset, nil
}
