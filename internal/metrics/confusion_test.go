package metrics

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestConfusionCounts(t *testing.T) {
	truth := []int{0, 0, 1, 1, 2, 2, 2}
	pred := []int{0, 1, 1, 1, 2, 0, 2}
	cm, err := Confusion(truth, pred, 3)
	if err != nil {
		t.Fatalf("Confusion: %v", err)
	}
	if len(cm.Counts) != 3 || len(cm.Counts[0]) != 3 {
		t.Fatalf("expected 3x3 matrix, got %v", cm.Counts)
	}
	sum := 0
	for _, row := range cm.Counts {
		for _, c := range row {
			sum += c
		}
	}
	if sum != len(truth) || cm.Total != len(truth) {
		t.Fatalf("entries sum to %d, total %d, want %d", sum, cm.Total, len(truth))
	}
	if cm.Counts[2][0] != 1 || cm.Counts[0][1] != 1 {
		t.Fatalf("unexpected counts %v", cm.Counts)
	}
	if !near(cm.Accuracy(), 5.0/7) {
		t.Fatalf("accuracy %.4f", cm.Accuracy())
	}
}

func TestMacroScores(t *testing.T) {
	cm, _ := Confusion([]int{0, 0, 1, 1, 2, 2, 2}, []int{0, 1, 1, 1, 2, 0, 2}, 3)
	// class 0: p=1/2 r=1/2; class 1: p=2/3 r=1; class 2: p=1 r=2/3
	m := cm.MacroScores()
	if !near(m.Precision, (0.5+2.0/3+1)/3) || !near(m.Recall, (0.5+1+2.0/3)/3) {
		t.Fatalf("macro precision/recall %+v", m)
	}
	f1 := (0.5 + 0.8 + 0.8) / 3
	if !near(m.F1, f1) {
		t.Fatalf("macro F1 %.6f want %.6f", m.F1, f1)
	}
}

func TestUndefinedRatiosAreZero(t *testing.T) {
	// class 2 never appears and is never predicted
	cm, _ := Confusion([]int{0, 1}, []int{0, 0}, 3)
	s := cm.ClassScores(2)
	if s != (Scores{}) {
		t.Fatalf("expected zero scores, got %+v", s)
	}
	if s1 := cm.ClassScores(1); s1.Precision != 0 || s1.Recall != 0 {
		t.Fatalf("class 1 scores %+v", s1)
	}
	// class 0: p=1/2 r=1 f1=2/3; class 1: all zero; class 2 is left out
	m := cm.MacroScores()
	if !near(m.Precision, 0.25) || !near(m.Recall, 0.5) || !near(m.F1, 1.0/3) {
		t.Fatalf("macro over occurring classes %+v", m)
	}

	perfect, _ := Confusion([]int{0, 0, 1, 1}, []int{0, 0, 1, 1}, 10)
	if got := perfect.MacroScores(); got != (Scores{Precision: 1, Recall: 1, F1: 1}) {
		t.Fatalf("unused catalog classes lowered the average: %+v", got)
	}
	if got := NewConfusionMatrix(4).MacroScores(); got != (Scores{}) {
		t.Fatalf("empty matrix scores %+v", got)
	}
}

func TestNormalizedRows(t *testing.T) {
	cm, _ := Confusion([]int{0, 0, 0, 0, 1}, []int{0, 0, 0, 1, 1}, 3)
	n := cm.Normalized()
	if !near(n[0][0], 0.75) || !near(n[0][1], 0.25) || !near(n[1][1], 1) {
		t.Fatalf("unexpected normalized matrix %v", n)
	}
	for _, v := range n[2] {
		if v != 0 {
			t.Fatalf("empty row should stay zero: %v", n[2])
		}
	}
	if raw := cm.Values(false); raw[0][0] != 3 {
		t.Fatalf("raw values %v", raw)
	}
}

func TestConfusionRejectsBadInput(t *testing.T) {
	if _, err := Confusion([]int{0}, []int{0, 1}, 2); err == nil {
		t.Fatal("expected length mismatch error")
	}
	if _, err := Confusion([]int{0, 3}, []int{0, 1}, 2); err == nil {
		t.Fatal("expected out-of-range error")
	}
}
