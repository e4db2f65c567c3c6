package metrics

import (
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// logLossEpsilon はlog(0)を避けるための確率クリップ幅です。
const logLossEpsilon = 1e-15

// AUC はROC曲線下面積を計算します。yTrueは0/1のラベル、yScoreは陽性クラスのスコアです。
// 片方のクラスしか含まない場合は定義できないため、警告を出して0.5を返します。
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	labels, scores, err := vectorPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	return ROCAUC(labels, scores)
}

// AUCMatrix は行列入力の先頭列同士でAUCを計算します。
func AUCMatrix(yTrue, yScore mat.Matrix) (float64, error) {
	labels, scores, err := firstColumns("AUCMatrix", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	return ROCAUC(labels, scores)
}

// ROCAUC はスライス版のAUCです。入力は変更しません。
func ROCAUC(yTrue, yScore []float64) (float64, error) {
	if err := checkBinary("ROCAUC", yTrue, yScore); err != nil {
		return 0, err
	}
	fpr, tpr, err := ROCCurve(yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if fpr == nil {
		return 0.5, nil
	}
	return integrate.Trapezoidal(fpr, tpr), nil
}

// ROCCurve は全ての閾値に対する偽陽性率と真陽性率を、偽陽性率の昇順で返します。
// 片方のクラスしか存在しない場合は nil, nil を返し UndefinedMetricWarning を出します。
func ROCCurve(yTrue, yScore []float64) (fpr, tpr []float64, err error) {
	if err := checkBinary("ROCCurve", yTrue, yScore); err != nil {
		return nil, nil, err
	}
	scores := append([]float64(nil), yScore...)
	classes := make([]bool, len(yTrue))
	nPos := 0
	for i, v := range yTrue {
		classes[i] = v == 1
		if classes[i] {
			nPos++
		}
	}
	if nPos == 0 || nPos == len(yTrue) {
		errors.Warn(errors.NewUndefinedMetricWarning("ROC AUC", "only one class present in y_true", 0.5))
		return nil, nil, nil
	}
	for _, s := range scores {
		if math.IsNaN(s) {
			return nil, nil, errors.NewValueError("ROCCurve", "scores contain NaN")
		}
	}

	stat.SortWeightedLabeled(scores, classes, nil)
	tpr, fpr, _ = stat.ROC(nil, scores, classes, nil)
	return fpr, tpr, nil
}

// BinaryLogLoss は二値分類の対数損失を計算します。確率は[eps, 1-eps]にクリップされます。
func BinaryLogLoss(yTrue, yProba *mat.VecDense) (float64, error) {
	labels, proba, err := vectorPair("BinaryLogLoss", yTrue, yProba)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", labels, proba); err != nil {
		return 0, err
	}
	var sum float64
	for i, y := range labels {
		p := math.Min(math.Max(proba[i], logLossEpsilon), 1-logLossEpsilon)
		sum -= y*math.Log(p) + (1-y)*math.Log(1-p)
	}
	return sum / float64(len(labels)), nil
}

// Accuracy は予測ラベルの正解率を計算します。
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	labels, pred, err := vectorPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := range labels {
		if labels[i] == pred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), nil
}

// ClassificationError は 1 - Accuracy です。
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// Threshold は確率を閾値で0/1ラベルに変換します。p > threshold が陽性です。
func Threshold(proba []float64, threshold float64) []float64 {
	out := make([]float64, len(proba))
	for i, p := range proba {
		if p > threshold {
			out[i] = 1
		}
	}
	return out
}

func vectorPair(op string, a, b *mat.VecDense) ([]float64, []float64, error) {
	if a == nil || b == nil || a.Len() == 0 || b.Len() == 0 {
		return nil, nil, errors.NewValueError(op, "empty vector")
	}
	if a.Len() != b.Len() {
		return nil, nil, errors.NewDimensionError(op, a.Len(), b.Len(), 0)
	}
	return mat.Col(nil, 0, a), mat.Col(nil, 0, b), nil
}

func firstColumns(op string, a, b mat.Matrix) ([]float64, []float64, error) {
	if a == nil || b == nil {
		return nil, nil, errors.NewValueError(op, "nil matrix")
	}
	if isEmpty(a) || isEmpty(b) {
		return nil, nil, errors.NewValueError(op, "empty matrix")
	}
	ra, _ := a.Dims()
	rb, _ := b.Dims()
	if ra != rb {
		return nil, nil, errors.NewDimensionError(op, ra, rb, 0)
	}
	return mat.Col(nil, 0, a), mat.Col(nil, 0, b), nil
}

func isEmpty(m mat.Matrix) bool {
	if d, ok := m.(*mat.Dense); ok {
		return d.IsEmpty()
	}
	r, c := m.Dims()
	return r == 0 || c == 0
}

// checkBinary は長さの一致と、ラベルが0か1のみであることを検証します。
func checkBinary(op string, yTrue, yScore []float64) error {
	if len(yTrue) == 0 {
		return errors.NewValueError(op, "empty input")
	}
	if len(yTrue) != len(yScore) {
		return errors.NewDimensionError(op, len(yTrue), len(yScore), 0)
	}
	for _, v := range yTrue {
		if v != 0 && v != 1 {
			return errors.NewValueError(op, "labels must be 0 or 1")
		}
	}
	return nil
}
