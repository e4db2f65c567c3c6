package metrics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestConfusionMatrix(t *testing.T) {
	yTrue := []float64{0, 0, 0, 1, 1, 1, 1}
	yPred := []float64{0, 1, 0, 1, 1, 0, 1}

	cm, err := ConfusionMatrix(yTrue, yPred)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mat.NewDense(2, 2, []float64{2, 1, 1, 3}), cm))

	_, err = ConfusionMatrix([]float64{0, 1}, []float64{0, 0.7})
	assert.Error(t, err)
}

func TestClassificationReport(t *testing.T) {
	yTrue := []float64{0, 0, 0, 1, 1, 1, 1}
	yPred := []float64{0, 1, 0, 1, 1, 0, 1}

	r, err := ClassificationReportFor(yTrue, yPred, []string{"repaid", "default"})
	require.NoError(t, err)
	require.Len(t, r.Classes, 2)

	repaid, def := r.Classes[0], r.Classes[1]
	assert.InDelta(t, 2.0/3, repaid.Precision, 1e-12)
	assert.InDelta(t, 2.0/3, repaid.Recall, 1e-12)
	assert.Equal(t, 3, repaid.Support)
	assert.InDelta(t, 0.75, def.Precision, 1e-12)
	assert.InDelta(t, 0.75, def.Recall, 1e-12)
	assert.InDelta(t, 0.75, def.F1, 1e-12)
	assert.Equal(t, 4, def.Support)

	assert.InDelta(t, 5.0/7, r.Accuracy, 1e-12)
	assert.InDelta(t, (2.0/3+0.75)/2, r.MacroAvg.F1, 1e-12)
	assert.InDelta(t, (3*(2.0/3)+4*0.75)/7, r.WeightedAvg.F1, 1e-12)

	text := r.String()
	lines := strings.Split(text, "\n")
	assert.Equal(t, "              precision    recall  f1-score   support", lines[0])
	assert.Contains(t, text, "     default       0.75      0.75      0.75         4")
	assert.Contains(t, text, "    accuracy                           0.71         7")
	assert.Contains(t, text, "weighted avg")
}

func TestClassificationReportZeroDivision(t *testing.T) {
	r, err := ClassificationReportFor([]float64{0, 0, 1}, []float64{0, 0, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Classes[1].Precision)
	assert.Equal(t, 0.0, r.Classes[1].F1)
	assert.Equal(t, "1", r.Classes[1].Label)
}

func TestEvaluate(t *testing.T) {
	yTrue := []float64{0, 0, 1, 1, 0, 1, 0, 1}
	proba := []float64{0.1, 0.4, 0.35, 0.8, 0.2, 0.9, 0.6, 0.7}
	orig := append([]float64(nil), proba...)

	ev, err := Evaluate(yTrue, proba, 0.5)
	require.NoError(t, err)
	assert.Equal(t, orig, proba)

	auc, err := ROCAUC(yTrue, proba)
	require.NoError(t, err)
	assert.Equal(t, auc, ev.ROCAUC)
	assert.Equal(t, 8, ev.N)
	assert.InDelta(t, 0.75, ev.Accuracy, 1e-12)
	assert.Greater(t, ev.PRAUC, 0.5)
	assert.Greater(t, ev.AveragePrecision, 0.5)
	assert.Greater(t, ev.LogLoss, 0.0)
	assert.Greater(t, ev.Brier, 0.0)
	assert.Equal(t, 3.0, ev.Confusion.At(1, 1))
	assert.Contains(t, ev.Summary(), "roc_auc=")
}

func TestBrierScore(t *testing.T) {
	got, err := BrierScore([]float64{0, 1}, []float64{0.2, 0.6})
	require.NoError(t, err)
	assert.InDelta(t, (0.04+0.16)/2, got, 1e-12)

	_, err = BrierScore([]float64{0, 1}, []float64{0.2, 1.5})
	assert.Error(t, err)
}

func TestMSEMatrix(t *testing.T) {
	got, err := MSEMatrix(mat.NewDense(2, 1, []float64{1, 2}), mat.NewDense(2, 1, []float64{1, 4}))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 1e-12)

	_, err = MSEMatrix(mat.NewDense(2, 2, nil), mat.NewDense(2, 2, nil))
	assert.Error(t, err)

	m, err := MSE(vec([]float64{0, 0}), vec([]float64{1, 1}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, m)
}
