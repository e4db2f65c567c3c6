package metrics

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/loanrisk/pkg/errors"
)

// DefaultClassNames は0/1ラベルの表示名です。
var DefaultClassNames = []string{"0", "1"}

// ConfusionMatrix は二値分類の2×2混同行列を返します。行が正解、列が予測です。
//
//	[[TN, FP],
//	 [FN, TP]]
func ConfusionMatrix(yTrue, yPred []float64) (*mat.Dense, error) {
	if err := checkBinary("ConfusionMatrix", yTrue, yPred); err != nil {
		return nil, err
	}
	cm := mat.NewDense(2, 2, nil)
	for i, t := range yTrue {
		p := yPred[i]
		if p != 0 && p != 1 {
			return nil, errors.NewValueError("ConfusionMatrix", "predictions must be 0 or 1")
		}
		cm.Set(int(t), int(p), cm.At(int(t), int(p))+1)
	}
	return cm, nil
}

// ClassMetrics はクラス一つ分(または平均)の適合率・再現率・F1・サポートです。
type ClassMetrics struct {
	Label     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// ClassificationReport はクラス別の指標と全体の正解率、マクロ平均、重み付き平均をまとめたものです。
type ClassificationReport struct {
	Classes     []ClassMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
	Total       int
}

// ClassificationReportFor は0/1の正解ラベルと予測ラベルからレポートを作成します。
// 分母が0になる指標は0とし、UndefinedMetricWarning を出します。
func ClassificationReportFor(yTrue, yPred []float64, names []string) (*ClassificationReport, error) {
	cm, err := ConfusionMatrix(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = DefaultClassNames
	}
	if len(names) != 2 {
		return nil, errors.NewValueError("ClassificationReport", "exactly two class names are required")
	}

	r := &ClassificationReport{Total: len(yTrue)}
	correct := cm.At(0, 0) + cm.At(1, 1)
	r.Accuracy = correct / float64(len(yTrue))

	for c := 0; c < 2; c++ {
		tp := cm.At(c, c)
		predicted := cm.At(0, c) + cm.At(1, c)
		actual := cm.At(c, 0) + cm.At(c, 1)

		m := ClassMetrics{Label: names[c], Support: int(actual)}
		m.Precision = ratio(tp, predicted, "precision", names[c], "no predicted samples")
		m.Recall = ratio(tp, actual, "recall", names[c], "no true samples")
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes = append(r.Classes, m)
	}

	r.MacroAvg = ClassMetrics{Label: "macro avg", Support: r.Total}
	r.WeightedAvg = ClassMetrics{Label: "weighted avg", Support: r.Total}
	for _, m := range r.Classes {
		r.MacroAvg.Precision += m.Precision / 2
		r.MacroAvg.Recall += m.Recall / 2
		r.MacroAvg.F1 += m.F1 / 2
		w := float64(m.Support) / float64(r.Total)
		r.WeightedAvg.Precision += m.Precision * w
		r.WeightedAvg.Recall += m.Recall * w
		r.WeightedAvg.F1 += m.F1 * w
	}
	return r, nil
}

func ratio(num, den float64, metric, label, condition string) float64 {
	if den == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(metric+" of class "+label, condition, 0))
		return 0
	}
	return num / den
}

// String はscikit-learnのclassification_reportと同じ書式でレポートを整形します。
func (r *ClassificationReport) String() string {
	width := len("weighted avg")
	for _, m := range r.Classes {
		if len(m.Label) > width {
			width = len(m.Label)
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%*s  %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, m := range r.Classes {
		writeReportRow(&sb, width, m)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%*s  %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Total)
	writeReportRow(&sb, width, r.MacroAvg)
	writeReportRow(&sb, width, r.WeightedAvg)
	return sb.String()
}

func writeReportRow(sb *strings.Builder, width int, m ClassMetrics) {
	fmt.Fprintf(sb, "%*s  %9.2f %9.2f %9.2f %9d\n", width, m.Label, m.Precision, m.Recall, m.F1, m.Support)
}

// Evaluation はホールドアウトデータに対する評価結果一式です。
type Evaluation struct {
	N                int
	Threshold        float64
	ROCAUC           float64
	PRAUC            float64
	AveragePrecision float64
	LogLoss          float64
	Brier            float64
	Accuracy         float64
	FPR              []float64
	TPR              []float64
	PR               *PRCurve
	Confusion        *mat.Dense
	Report           *ClassificationReport
}

// Evaluate は陽性クラス確率から全ての評価指標を計算します。p > threshold を陽性と判定します。
// 入力スライスは変更しません。
func Evaluate(yTrue, proba []float64, threshold float64) (*Evaluation, error) {
	if err := checkBinary("Evaluate", yTrue, proba); err != nil {
		return nil, err
	}
	ev := &Evaluation{N: len(yTrue), Threshold: threshold}

	var err error
	if ev.ROCAUC, err = ROCAUC(yTrue, proba); err != nil {
		return nil, errors.Wrap(err, "evaluate: roc auc")
	}
	if ev.FPR, ev.TPR, err = ROCCurve(yTrue, proba); err != nil {
		return nil, errors.Wrap(err, "evaluate: roc curve")
	}
	if ev.PR, err = PrecisionRecallCurve(yTrue, proba); err != nil {
		return nil, errors.Wrap(err, "evaluate: precision-recall curve")
	}
	ev.PRAUC = ev.PR.AUC()
	ev.AveragePrecision = ev.PR.AveragePrecision()

	n := len(yTrue)
	if ev.LogLoss, err = BinaryLogLoss(mat.NewVecDense(n, append([]float64(nil), yTrue...)), mat.NewVecDense(n, append([]float64(nil), proba...))); err != nil {
		return nil, errors.Wrap(err, "evaluate: log loss")
	}
	if ev.Brier, err = BrierScore(yTrue, proba); err != nil {
		return nil, errors.Wrap(err, "evaluate: brier score")
	}

	pred := Threshold(proba, threshold)
	if ev.Confusion, err = ConfusionMatrix(yTrue, pred); err != nil {
		return nil, errors.Wrap(err, "evaluate: confusion matrix")
	}
	if ev.Report, err = ClassificationReportFor(yTrue, pred, nil); err != nil {
		return nil, errors.Wrap(err, "evaluate: classification report")
	}
	ev.Accuracy = ev.Report.Accuracy
	return ev, nil
}

// Summary は主要な指標を一行で返します。
func (e *Evaluation) Summary() string {
	return fmt.Sprintf("roc_auc=%.4f pr_auc=%.4f average_precision=%.4f log_loss=%.4f brier=%.4f accuracy=%.4f",
		e.ROCAUC, e.PRAUC, e.AveragePrecision, e.LogLoss, e.Brier, e.Accuracy)
}
