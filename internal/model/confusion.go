package model

import (
	"fmt"

	"github.com/Veraticus/lookalike/internal/common"
)

// ConfusionMatrix counts (true, predicted) pairs. Rows are true classes and
// columns are predicted classes, both in ClassIndex order.
type ConfusionMatrix struct {
	Classes ClassIndex
	Counts  [][]int
}

// NewConfusionMatrix returns an all-zero matrix sized for classes.
func NewConfusionMatrix(classes ClassIndex) *ConfusionMatrix {
	n := classes.Len()
	counts := make([][]int, n)
	for i := range counts {
		counts[i] = make([]int, n)
	}
	return &ConfusionMatrix{Classes: classes, Counts: counts}
}

// Add records one prediction.
func (m *ConfusionMatrix) Add(truth, predicted int) error {
	n := len(m.Counts)
	if truth < 0 || truth >= n || predicted < 0 || predicted >= n {
		return fmt.Errorf("%w: class pair (%d, %d) outside %d classes", common.ErrInput, truth, predicted, n)
	}
	m.Counts[truth][predicted]++
	return nil
}

// RowSum is the number of samples whose true class is i.
func (m *ConfusionMatrix) RowSum(i int) int {
	sum := 0
	for _, c := range m.Counts[i] {
		sum += c
	}
	return sum
}

// ColSum is the number of samples predicted as class j.
func (m *ConfusionMatrix) ColSum(j int) int {
	sum := 0
	for i := range m.Counts {
		sum += m.Counts[i][j]
	}
	return sum
}

// Total is the number of recorded predictions.
func (m *ConfusionMatrix) Total() int {
	total := 0
	for i := range m.Counts {
		total += m.RowSum(i)
	}
	return total
}

// Correct is the trace of the matrix.
func (m *ConfusionMatrix) Correct() int {
	correct := 0
	for i := range m.Counts {
		correct += m.Counts[i][i]
	}
	return correct
}

// ClassMetrics holds the per-class scores of a classification report.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationReport summarizes a confusion matrix.
type ClassificationReport struct {
	Classes  []ClassMetrics `json:"classes"`
	Accuracy float64        `json:"accuracy"`
	MacroAvg ClassMetrics   `json:"macro_avg"`
	// WeightedAvg weights each class by its support.
	WeightedAvg ClassMetrics `json:"weighted_avg"`
	Total       int          `json:"total"`
}

// Report derives precision, recall and F1 for every class. Any ratio with a
// zero denominator is reported as 0.
func (m *ConfusionMatrix) Report() *ClassificationReport {
	names := m.Classes.Names()
	total := m.Total()

	report := &ClassificationReport{
		Classes:  make([]ClassMetrics, len(names)),
		Accuracy: ratio(m.Correct(), total),
		Total:    total,
		MacroAvg: ClassMetrics{Label: "macro avg", Support: total},
		WeightedAvg: ClassMetrics{
			Label:   "weighted avg",
			Support: total,
		},
	}

	for i, name := range names {
		tp := m.Counts[i][i]
		support := m.RowSum(i)
		precision := ratio(tp, m.ColSum(i))
		recall := ratio(tp, support)
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}

		report.Classes[i] = ClassMetrics{
			Label:     name,
			Precision: precision,
			Recall:    recall,
			F1:        f1,
			Support:   support,
		}

		report.MacroAvg.Precision += precision
		report.MacroAvg.Recall += recall
		report.MacroAvg.F1 += f1

		if total > 0 {
			w := float64(support) / float64(total)
			report.WeightedAvg.Precision += w * precision
			report.WeightedAvg.Recall += w * recall
			report.WeightedAvg.F1 += w * f1
		}
	}

	if n := float64(len(names)); n > 0 {
		report.MacroAvg.Precision /= n
		report.MacroAvg.Recall /= n
		report.MacroAvg.F1 /= n
	}

	return report
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
