package models

import (
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/covariant-dev/bayopt/internal/bo"
)

// RandomForest is a bootstrap ensemble of regression trees. Predictive
// variance comes from the spread of the per-tree predictions, which is what
// the acquisition functions need from a surrogate.
type RandomForest struct {
	nTrees   int
	maxDepth int
	minLeaf  int
	rng      *rand.Rand
	logger   *zap.Logger

	trees []*regTree
}

// NewRandomForest creates a random forest surrogate.
func NewRandomForest(nTrees int, rng *rand.Rand, logger *zap.Logger) *RandomForest {
	if logger == nil {
		logger = zap.NewNop()
	}
	if nTrees < 1 {
		nTrees = 30
	}
	return &RandomForest{
		nTrees:   nTrees,
		maxDepth: 8,
		minLeaf:  3,
		rng:      rng,
		logger:   logger.Named("rf"),
	}
}

// Fit trains the ensemble on bootstrap resamples of the observation set.
func (rf *RandomForest) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "RandomForest.Fit"
	n, d := X.Dims()
	if n < minObservations {
		return bo.NewErrorf(bo.KindModelFit, "need at least %d observations, got %d", minObservations, n).WithOperation(op).WithComponent("rf")
	}
	if n != y.Len() {
		return bo.NewErrorf(bo.KindModelFit, "dimension mismatch: X has %d samples, y has %d", n, y.Len()).WithOperation(op).WithComponent("rf")
	}

	trees := make([]*regTree, 0, rf.nTrees)
	for t := 0; t < rf.nTrees; t++ {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = rf.rng.Intn(n)
		}
		tree := rf.grow(X, y, rows, d, 0)
		trees = append(trees, tree)
	}
	rf.trees = trees
	return nil
}

// Predict returns the across-tree mean and variance at each row of X.
func (rf *RandomForest) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "RandomForest.Predict"
	if len(rf.trees) == 0 {
		return nil, nil, bo.NewError(bo.KindModelFit, "model not fitted").WithOperation(op).WithComponent("rf")
	}
	nTest, _ := X.Dims()
	mean := mat.NewVecDense(nTest, nil)
	variance := mat.NewVecDense(nTest, nil)
	preds := make([]float64, len(rf.trees))
	for i := 0; i < nTest; i++ {
		x := X.RawRowView(i)
		var sum float64
		for t, tree := range rf.trees {
			preds[t] = tree.predict(x)
			sum += preds[t]
		}
		mu := sum / float64(len(rf.trees))
		var sq float64
		for _, p := range preds {
			sq += (p - mu) * (p - mu)
		}
		mean.SetVec(i, mu)
		// Small floor keeps acquisitions from dividing by a zero spread on
		// unanimous ensembles.
		variance.SetVec(i, sq/float64(len(rf.trees))+1e-10)
	}
	return mean, variance, nil
}

// regTree is a binary regression tree node.
type regTree struct {
	feature   int
	threshold float64
	left      *regTree
	right     *regTree
	value     float64
	leaf      bool
}

func (rf *RandomForest) grow(X *mat.Dense, y *mat.VecDense, rows []int, d, depth int) *regTree {
	if depth >= rf.maxDepth || len(rows) <= rf.minLeaf {
		return &regTree{leaf: true, value: meanOf(y, rows)}
	}

	feature, threshold, ok := rf.bestSplit(X, y, rows, d)
	if !ok {
		return &regTree{leaf: true, value: meanOf(y, rows)}
	}

	var left, right []int
	for _, r := range rows {
		if X.At(r, feature) <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &regTree{leaf: true, value: meanOf(y, rows)}
	}
	return &regTree{
		feature:   feature,
		threshold: threshold,
		left:      rf.grow(X, y, left, d, depth+1),
		right:     rf.grow(X, y, right, d, depth+1),
	}
}

// bestSplit scans a random subset of features for the threshold with the
// largest variance reduction.
func (rf *RandomForest) bestSplit(X *mat.Dense, y *mat.VecDense, rows []int, d int) (int, float64, bool) {
	nFeatures := int(math.Ceil(math.Sqrt(float64(d))))
	perm := rf.rng.Perm(d)[:nFeatures]

	bestScore := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0
	vals := make([]float64, 0, len(rows))

	for _, f := range perm {
		vals = vals[:0]
		for _, r := range rows {
			vals = append(vals, X.At(r, f))
		}
		sort.Float64s(vals)

		for i := 1; i < len(vals); i++ {
			if vals[i] == vals[i-1] {
				continue
			}
			threshold := (vals[i] + vals[i-1]) / 2
			score := splitScore(X, y, rows, f, threshold)
			if score < bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = threshold
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// splitScore is the weighted within-partition sum of squares.
func splitScore(X *mat.Dense, y *mat.VecDense, rows []int, feature int, threshold float64) float64 {
	var nl, nr float64
	var sl, sr float64
	for _, r := range rows {
		if X.At(r, feature) <= threshold {
			nl++
			sl += y.AtVec(r)
		} else {
			nr++
			sr += y.AtVec(r)
		}
	}
	if nl == 0 || nr == 0 {
		return math.Inf(1)
	}
	ml, mr := sl/nl, sr/nr
	var score float64
	for _, r := range rows {
		v := y.AtVec(r)
		if X.At(r, feature) <= threshold {
			score += (v - ml) * (v - ml)
		} else {
			score += (v - mr) * (v - mr)
		}
	}
	return score
}

func (t *regTree) predict(x []float64) float64 {
	for !t.leaf {
		if x[t.feature] <= t.threshold {
			t = t.left
		} else {
			t = t.right
		}
	}
	return t.value
}

func meanOf(y *mat.VecDense, rows []int) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rows {
		sum += y.AtVec(r)
	}
	return sum / float64(len(rows))
}

var _ bo.Model = (*RandomForest)(nil)
