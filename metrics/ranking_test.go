package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAveragePrecision(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []float64
		yScore  []float64
		want    float64
		wantErr bool
	}{
		{name: "Perfect ranking", yTrue: []float64{1, 1, 1, 0, 0}, yScore: []float64{5, 4, 3, 2, 1}, want: 1.0},
		// (1/3 + 2/4 + 3/5) / 3
		{name: "Worst ranking", yTrue: []float64{1, 1, 1, 0, 0}, yScore: []float64{1, 2, 3, 4, 5}, want: 0.47778},
		// (1/1 + 2/3 + 3/5) / 3
		{name: "Interleaved", yTrue: []float64{1, 0, 1, 0, 1}, yScore: []float64{0.9, 0.8, 0.7, 0.6, 0.5}, want: 0.75556},
		{name: "Single positive", yTrue: []float64{0, 0, 1, 0, 0}, yScore: []float64{0.1, 0.2, 0.3, 0.4, 0.5}, want: 1.0 / 3},
		{name: "No positives", yTrue: []float64{0, 0, 0, 0}, yScore: []float64{1, 2, 3, 4}, want: 0},
		{name: "All positives", yTrue: []float64{1, 1, 1}, yScore: []float64{3, 2, 1}, want: 1.0},
		{name: "Non-binary labels", yTrue: []float64{0, 0.5, 1}, yScore: []float64{1, 2, 3}, wantErr: true},
		{name: "Dimension mismatch", yTrue: []float64{0, 1}, yScore: []float64{0.5}, wantErr: true},
		{name: "Empty vectors", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AveragePrecision(vec(tt.yTrue), vec(tt.yScore))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-4)
		})
	}
}

func TestPrecisionRecallCurve(t *testing.T) {
	yTrue := []float64{0, 0, 1, 1}
	yScore := []float64{0.1, 0.4, 0.35, 0.8}

	curve, err := PrecisionRecallCurve(yTrue, yScore)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0.5, 0.5, 1, 1}, curve.Recall)
	assert.InDeltaSlice(t, []float64{1, 1, 0.5, 2.0 / 3, 0.5}, curve.Precision, 1e-12)
	assert.Equal(t, []float64{0.8, 0.4, 0.35, 0.1}, curve.Thresholds)

	// 0.5*1 + 0 + 0.5*(2/3) = 0.8333
	assert.InDelta(t, 0.5+1.0/3, curve.AveragePrecision(), 1e-12)

	auc, err := PRAUC(yTrue, yScore)
	require.NoError(t, err)
	assert.InDelta(t, curve.AUC(), auc, 1e-12)
	assert.Greater(t, auc, 0.0)
	assert.LessOrEqual(t, auc, 1.0)
}

func TestPrecisionRecallCurveMergesTiedScores(t *testing.T) {
	curve, err := PrecisionRecallCurve([]float64{1, 0, 1}, []float64{0.7, 0.7, 0.2})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.2}, curve.Thresholds)
	assert.Equal(t, []float64{0, 0.5, 1}, curve.Recall)
	assert.InDeltaSlice(t, []float64{1, 0.5, 2.0 / 3}, curve.Precision, 1e-12)
}

func TestPrecisionRecallCurveNeedsPositives(t *testing.T) {
	_, err := PrecisionRecallCurve([]float64{0, 0}, []float64{0.2, 0.3})
	assert.Error(t, err)
}
