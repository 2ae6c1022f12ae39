package outliers

import (
	"math"
	"math/rand"

	"climate-analytics/internal/numeric"
)

const eulerGamma = 0.5772156649

// IsolationForest scores one dimensional series by how quickly random
// axis splits isolate each value. Scores are in (0,1]; the Contamination
// share of highest scores is flagged.
type IsolationForest struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// NewIsolationForest builds a forest from options, applying defaults
func NewIsolationForest(opt Options) IsolationForest {
	def := DefaultOptions()
	f := IsolationForest{Trees: opt.Trees, SampleSize: opt.SampleSize, Contamination: opt.Contamination, Seed: opt.Seed}
	if f.Trees <= 0 {
		f.Trees = def.Trees
	}
	if f.SampleSize <= 0 {
		f.SampleSize = def.SampleSize
	}
	if f.Contamination <= 0 || f.Contamination >= 0.5 {
		f.Contamination = def.Contamination
	}
	return f
}

func (IsolationForest) Name() string { return MethodIsolationForest }

type iNode struct {
	split       float64
	left, right *iNode
	size        int
}

func (f IsolationForest) Detect(values []float64) Detection {
	n := len(values)
	out := Detection{Method: MethodIsolationForest, Flags: make([]bool, n), Scores: make([]float64, n)}
	if n < 2 {
		return out
	}

	rng := rand.New(rand.NewSource(f.Seed))
	psi := f.SampleSize
	if psi > n {
		psi = n
	}
	limit := int(math.Ceil(math.Log2(float64(psi))))

	trees := make([]*iNode, f.Trees)
	sample := make([]float64, psi)
	for t := range trees {
		for i, j := range rng.Perm(n)[:psi] {
			sample[i] = values[j]
		}
		trees[t] = buildTree(rng, append([]float64(nil), sample...), 0, limit)
	}

	norm := averagePath(psi)
	for i, v := range values {
		total := 0.0
		for _, t := range trees {
			total += pathLength(t, v, 0)
		}
		mean := total / float64(len(trees))
		if norm > 0 {
			out.Scores[i] = math.Pow(2, -mean/norm)
		}
	}

	threshold := numeric.Quantile(numeric.Sorted(out.Scores), 1-f.Contamination)
	for i, s := range out.Scores {
		out.Flags[i] = s > threshold
	}
	return out
}

func buildTree(rng *rand.Rand, data []float64, depth, limit int) *iNode {
	if depth >= limit || len(data) <= 1 {
		return &iNode{size: len(data)}
	}
	lo, hi := numeric.MinMax(data)
	if lo == hi {
		return &iNode{size: len(data)}
	}
	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range data {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	return &iNode{
		split: split,
		left:  buildTree(rng, left, depth+1, limit),
		right: buildTree(rng, right, depth+1, limit),
	}
}

func pathLength(node *iNode, v float64, depth int) float64 {
	if node.left == nil {
		return float64(depth) + averagePath(node.size)
	}
	if v < node.split {
		return pathLength(node.left, v, depth+1)
	}
	return pathLength(node.right, v, depth+1)
}

// averagePath is the expected path length of an unsuccessful search in a
// binary search tree of n nodes
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + eulerGamma
	return 2*h - 2*float64(n-1)/float64(n)
}
