package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ConfusionMatrix counts predictions per class. Rows index the true class
// and columns the predicted class.
type ConfusionMatrix struct {
	NumClasses int
	Counts     [][]int
	Total      int
}

// NewConfusionMatrix returns an empty k x k matrix.
func NewConfusionMatrix(k int) *ConfusionMatrix {
	counts := make([][]int, k)
	for i := range counts {
		counts[i] = make([]int, k)
	}
	return &ConfusionMatrix{NumClasses: k, Counts: counts}
}

// Confusion builds a matrix from aligned true and predicted class indices.
func Confusion(truth, pred []int, k int) (*ConfusionMatrix, error) {
	if len(truth) != len(pred) {
		return nil, fmt.Errorf("metrics: %d labels but %d predictions", len(truth), len(pred))
	}
	cm := NewConfusionMatrix(k)
	for i := range truth {
		if err := cm.Add(truth[i], pred[i]); err != nil {
			return nil, err
		}
	}
	return cm, nil
}

// Add records one prediction.
func (cm *ConfusionMatrix) Add(truth, pred int) error {
	if truth < 0 || truth >= cm.NumClasses || pred < 0 || pred >= cm.NumClasses {
		return fmt.Errorf("metrics: class pair (%d, %d) outside [0, %d)", truth, pred, cm.NumClasses)
	}
	cm.Counts[truth][pred]++
	cm.Total++
	return nil
}

// Accuracy is the trace over the total.
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.Total == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Counts[i][i]
	}
	return float64(correct) / float64(cm.Total)
}

// Normalized divides each row by its sum. Rows with no samples stay zero.
func (cm *ConfusionMatrix) Normalized() [][]float64 {
	out := make([][]float64, cm.NumClasses)
	for i, row := range cm.Counts {
		out[i] = make([]float64, cm.NumClasses)
		for j, c := range row {
			out[i][j] = float64(c)
		}
		if s := floats.Sum(out[i]); s > 0 {
			floats.Scale(1/s, out[i])
		}
	}
	return out
}

// Values returns the raw counts as floats, or the row-normalized matrix.
func (cm *ConfusionMatrix) Values(normalize bool) [][]float64 {
	if normalize {
		return cm.Normalized()
	}
	out := make([][]float64, cm.NumClasses)
	for i, row := range cm.Counts {
		out[i] = make([]float64, cm.NumClasses)
		for j, c := range row {
			out[i][j] = float64(c)
		}
	}
	return out
}

// Scores holds per-class or averaged classification quality.
type Scores struct {
	Precision float64
	Recall    float64
	F1        float64
}

func (s Scores) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", s.Precision, s.Recall, s.F1)
}

// ClassScores returns precision, recall and F1 for class c. Ratios with a
// zero denominator are 0.
func (cm *ConfusionMatrix) ClassScores(c int) Scores {
	tp := cm.Counts[c][c]
	predicted, actual := 0, 0
	for i := 0; i < cm.NumClasses; i++ {
		predicted += cm.Counts[i][c]
		actual += cm.Counts[c][i]
	}
	var s Scores
	if predicted > 0 {
		s.Precision = float64(tp) / float64(predicted)
	}
	if actual > 0 {
		s.Recall = float64(tp) / float64(actual)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

// MacroScores is the unweighted mean of the per-class scores over classes
// that occur in the truth or the predictions. Catalog classes absent from
// both are left out.
func (cm *ConfusionMatrix) MacroScores() Scores {
	var sum Scores
	present := 0
	for c := 0; c < cm.NumClasses; c++ {
		if !cm.occurs(c) {
			continue
		}
		s := cm.ClassScores(c)
		sum.Precision += s.Precision
		sum.Recall += s.Recall
		sum.F1 += s.F1
		present++
	}
	if present == 0 {
		return Scores{}
	}
	k := float64(present)
	return Scores{Precision: sum.Precision / k, Recall: sum.Recall / k, F1: sum.F1 / k}
}

// occurs reports whether class c has a non-empty row or column.
func (cm *ConfusionMatrix) occurs(c int) bool {
	for i := 0; i < cm.NumClasses; i++ {
		if cm.Counts[c][i] > 0 || cm.Counts[i][c] > 0 {
			return true
		}
	}
	return false
}
