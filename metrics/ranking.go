package metrics

import (
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// PRCurve は適合率-再現率曲線です。点は再現率の昇順に並び、先頭は (recall=0, precision=1) です。
// Thresholds[i] は点 i+1 を与える閾値 (score >= threshold を陽性とみなす) で、降順です。
type PRCurve struct {
	Precision  []float64
	Recall     []float64
	Thresholds []float64
}

// PrecisionRecallCurve は全ての異なるスコアを閾値として適合率と再現率を計算します。
// 陽性サンプルが存在しない場合は再現率が定義できないためエラーを返します。
func PrecisionRecallCurve(yTrue, yScore []float64) (*PRCurve, error) {
	if err := checkBinary("PrecisionRecallCurve", yTrue, yScore); err != nil {
		return nil, err
	}
	nPos := 0
	for _, v := range yTrue {
		if v == 1 {
			nPos++
		}
	}
	if nPos == 0 {
		return nil, errors.NewValueError("PrecisionRecallCurve", "no positive samples in y_true")
	}

	order := make([]int, len(yScore))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return yScore[order[a]] > yScore[order[b]] })

	curve := &PRCurve{
		Precision: []float64{1},
		Recall:    []float64{0},
	}
	tp, fp := 0, 0
	for k, idx := range order {
		if yTrue[idx] == 1 {
			tp++
		} else {
			fp++
		}
		// 同じスコアは一つの閾値にまとめる
		if k+1 < len(order) && yScore[order[k+1]] == yScore[idx] {
			continue
		}
		curve.Precision = append(curve.Precision, float64(tp)/float64(tp+fp))
		curve.Recall = append(curve.Recall, float64(tp)/float64(nPos))
		curve.Thresholds = append(curve.Thresholds, yScore[idx])
	}
	return curve, nil
}

// AUC は再現率を横軸とした台形積分で曲線下面積を返します。
func (c *PRCurve) AUC() float64 {
	return integrate.Trapezoidal(c.Recall, c.Precision)
}

// AveragePrecision は Σ(R_k - R_{k-1})·P_k を返します。
func (c *PRCurve) AveragePrecision() float64 {
	var ap float64
	for k := 1; k < len(c.Recall); k++ {
		ap += (c.Recall[k] - c.Recall[k-1]) * c.Precision[k]
	}
	return ap
}

// PRAUC は適合率-再現率曲線の面積 auc(recall, precision) を計算します。
func PRAUC(yTrue, yScore []float64) (float64, error) {
	curve, err := PrecisionRecallCurve(yTrue, yScore)
	if err != nil {
		return 0, err
	}
	return curve.AUC(), nil
}

// AveragePrecision は平均適合率を計算します。陽性が一つもない場合は警告を出して0を返します。
func AveragePrecision(yTrue, yScore *mat.VecDense) (float64, error) {
	labels, scores, err := vectorPair("AveragePrecision", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	return AveragePrecisionScore(labels, scores)
}

// AveragePrecisionScore はスライス版のAveragePrecisionです。
func AveragePrecisionScore(yTrue, yScore []float64) (float64, error) {
	if err := checkBinary("AveragePrecision", yTrue, yScore); err != nil {
		return 0, err
	}
	hasPositive := false
	for _, v := range yTrue {
		if v == 1 {
			hasPositive = true
			break
		}
	}
	if !hasPositive {
		errors.Warn(errors.NewUndefinedMetricWarning("average precision", "no positive samples in y_true", 0))
		return 0, nil
	}
	curve, err := PrecisionRecallCurve(yTrue, yScore)
	if err != nil {
		return 0, err
	}
	return curve.AveragePrecision(), nil
}
