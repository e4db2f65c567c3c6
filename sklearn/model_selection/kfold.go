// Package model_selection partitions labelled rows for training and
// evaluation and runs cross-validated hyperparameter search.
package model_selection

import (
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// Splitter produces cross-validation folds from a label vector.
type Splitter interface {
	Split(y []float64) ([]Fold, error)
	GetNSplits() int
}

// Fold is one train/validation assignment. Both index lists are ascending.
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold implements k-fold cross-validation splitter
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewKFold creates a new k-fold splitter. nSplits below 2 defaults to 5.
func NewKFold(nSplits int, shuffle bool, randomSeed uint64) *KFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &KFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: randomSeed}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int { return kf.NSplits }

// Split assigns consecutive blocks of (optionally shuffled) rows to folds.
// The first n%k folds get one extra row.
func (kf *KFold) Split(y []float64) ([]Fold, error) {
	n := len(y)
	if n < kf.NSplits {
		return nil, errors.NewInsufficientDataError("KFold.Split", "", n, kf.NSplits)
	}
	indices := identity(n)
	if kf.Shuffle {
		r := rand.New(rand.NewPCG(kf.RandomSeed, kf.RandomSeed))
		r.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	}

	foldOf := make([]int, n)
	start := 0
	for f := 0; f < kf.NSplits; f++ {
		size := n / kf.NSplits
		if f < n%kf.NSplits {
			size++
		}
		for _, idx := range indices[start : start+size] {
			foldOf[idx] = f
		}
		start += size
	}
	return foldsFromAssignment(foldOf, kf.NSplits), nil
}

// StratifiedKFold keeps each class's share roughly equal across folds.
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewStratifiedKFold creates a new stratified k-fold splitter. nSplits below 2 defaults to 5.
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed uint64) *StratifiedKFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &StratifiedKFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: randomSeed}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int { return skf.NSplits }

// Split deals each class's rows over the folds in order, classes ascending,
// so the assignment depends only on y and the seed. A class with fewer
// members than folds is an InsufficientDataError.
func (skf *StratifiedKFold) Split(y []float64) ([]Fold, error) {
	classes, byClass := groupByClass(y)
	for _, c := range classes {
		if len(byClass[c]) < skf.NSplits {
			return nil, errors.NewInsufficientDataError("StratifiedKFold.Split",
				strconv.FormatFloat(c, 'g', -1, 64), len(byClass[c]), skf.NSplits)
		}
	}

	var r *rand.Rand
	if skf.Shuffle {
		r = rand.New(rand.NewPCG(skf.RandomSeed, skf.RandomSeed))
	}

	foldOf := make([]int, len(y))
	for _, c := range classes {
		members := byClass[c]
		if r != nil {
			r.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		}
		start := 0
		for f := 0; f < skf.NSplits; f++ {
			size := len(members) / skf.NSplits
			if f < len(members)%skf.NSplits {
				size++
			}
			for _, idx := range members[start : start+size] {
				foldOf[idx] = f
			}
			start += size
		}
	}
	return foldsFromAssignment(foldOf, skf.NSplits), nil
}

func foldsFromAssignment(foldOf []int, k int) []Fold {
	folds := make([]Fold, k)
	for idx, f := range foldOf {
		folds[f].TestIndices = append(folds[f].TestIndices, idx)
		for g := 0; g < k; g++ {
			if g != f {
				folds[g].TrainIndices = append(folds[g].TrainIndices, idx)
			}
		}
	}
	return folds
}

// groupByClass returns the distinct labels ascending and the row indices of each.
func groupByClass(y []float64) ([]float64, map[float64][]int) {
	byClass := make(map[float64][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]float64, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Float64s(classes)
	return classes, byClass
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
