package metrics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	a, b, err := vectorPair("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return meanSquared(a, b), nil
}

// MSEMatrix は行列形式の入力に対してMSEを計算する。列ベクトル(n×1)のみ受け付ける。
func MSEMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError("MSEMatrix", "nil matrix")
	}
	if _, c := yTrue.Dims(); c != 1 && !isEmpty(yTrue) {
		return 0, errors.NewValueError("MSEMatrix", "must be a column vector (n×1 matrix)")
	}
	a, b, err := firstColumns("MSEMatrix", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return meanSquared(a, b), nil
}

// BrierScore は陽性クラス確率と0/1ラベルの二乗誤差の平均。確率予測の較正度合いを表す。
func BrierScore(yTrue, proba []float64) (float64, error) {
	if err := checkBinary("BrierScore", yTrue, proba); err != nil {
		return 0, err
	}
	for _, p := range proba {
		if p < 0 || p > 1 {
			return 0, errors.NewValueError("BrierScore", "probabilities must lie in [0, 1]")
		}
	}
	return meanSquared(yTrue, proba), nil
}

func meanSquared(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum / float64(len(a))
}
