package model_selection

import (
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
	"github.com/YuminosukeSato/loanrisk/pkg/log"
)

// Split is a partition of row positions into train and test subsets.
type Split struct {
	Train []int
	Test  []int
}

// TrainTestSplit performs one stratified shuffle split of the rows labelled
// by y. The test subset receives ceil(testSize*n) rows, and each class's test
// quota is its proportional share with remainders handed out largest first
// (ties to the smaller label). Identical y and seed give an identical split.
//
// Every class needs at least two members and must land in both subsets;
// otherwise an InsufficientDataError is returned.
func TrainTestSplit(y []float64, testSize float64, seed uint64) (Split, error) {
	if !(testSize > 0 && testSize < 1) {
		return Split{}, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	n := len(y)
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest

	classes, byClass := groupByClass(y)
	if nTest < len(classes) || nTrain < len(classes) {
		return Split{}, errors.NewInsufficientDataError("TrainTestSplit", "", n, 2*len(classes))
	}
	for _, c := range classes {
		if len(byClass[c]) < 2 {
			return Split{}, errors.NewInsufficientDataError("TrainTestSplit", formatLabel(c), len(byClass[c]), 2)
		}
	}

	quotas := allocate(classes, byClass, nTest, n)
	for i, c := range classes {
		if quotas[i] == 0 || quotas[i] == len(byClass[c]) {
			return Split{}, errors.NewInsufficientDataError("TrainTestSplit", formatLabel(c), len(byClass[c]),
				int(math.Ceil(1/math.Min(testSize, 1-testSize))))
		}
	}

	r := rand.New(rand.NewPCG(seed, seed))
	split := Split{Train: make([]int, 0, nTrain), Test: make([]int, 0, nTest)}
	for i, c := range classes {
		members := append([]int(nil), byClass[c]...)
		r.Shuffle(len(members), func(a, b int) { members[a], members[b] = members[b], members[a] })
		split.Test = append(split.Test, members[:quotas[i]]...)
		split.Train = append(split.Train, members[quotas[i]:]...)
	}
	r.Shuffle(len(split.Train), func(a, b int) { split.Train[a], split.Train[b] = split.Train[b], split.Train[a] })
	r.Shuffle(len(split.Test), func(a, b int) { split.Test[a], split.Test[b] = split.Test[b], split.Test[a] })

	log.GetLoggerWithName("model_selection.TrainTestSplit").Debug("Stratified split",
		log.SamplesKey, n,
		"train", len(split.Train),
		"test", len(split.Test),
		log.ClassesKey, len(classes),
		log.RandomSeedKey, seed,
	)
	return split, nil
}

// allocate distributes total test rows over classes proportionally.
func allocate(classes []float64, byClass map[float64][]int, total, n int) []int {
	quotas := make([]int, len(classes))
	type remainder struct {
		class int
		frac  float64
	}
	rems := make([]remainder, len(classes))
	assigned := 0
	for i, c := range classes {
		exact := float64(total) * float64(len(byClass[c])) / float64(n)
		quotas[i] = int(math.Floor(exact))
		assigned += quotas[i]
		rems[i] = remainder{class: i, frac: exact - float64(quotas[i])}
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac > rems[b].frac })
	for k := 0; assigned < total; k++ {
		i := rems[k%len(rems)].class
		if quotas[i] < len(byClass[classes[i]]) {
			quotas[i]++
			assigned++
		}
	}
	return quotas
}

func formatLabel(c float64) string {
	return strconv.FormatFloat(c, 'g', -1, 64)
}
