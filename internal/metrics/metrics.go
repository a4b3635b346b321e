// Package metrics computes classification metrics over encoded class indices.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ClassReport holds the per-class scores of a classification report.
type ClassReport struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Accuracy returns the fraction of exact matches.
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}

// Classes returns the sorted union of the classes present in both slices.
func Classes(yTrue, yPred []int) []int {
	seen := make(map[int]struct{})
	for _, c := range yTrue {
		seen[c] = struct{}{}
	}
	for _, c := range yPred {
		seen[c] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// ConfusionMatrix counts (true, predicted) pairs. Rows and columns follow
// the order of classes.
func ConfusionMatrix(yTrue, yPred, classes []int) [][]int {
	pos := make(map[int]int, len(classes))
	for i, c := range classes {
		pos[c] = i
	}
	m := make([][]int, len(classes))
	for i := range m {
		m[i] = make([]int, len(classes))
	}
	for i := range yTrue {
		r, okR := pos[yTrue[i]]
		c, okC := pos[yPred[i]]
		if okR && okC {
			m[r][c]++
		}
	}
	return m
}

// PerClass computes precision, recall and F1 for every class. Zero
// denominators yield 0.
func PerClass(yTrue, yPred, classes []int) []ClassReport {
	cm := ConfusionMatrix(yTrue, yPred, classes)
	out := make([]ClassReport, len(classes))
	for i := range classes {
		tp := cm[i][i]
		var predicted, actual int
		for j := range classes {
			predicted += cm[j][i]
			actual += cm[i][j]
		}
		r := ClassReport{
			Precision: safeDiv(float64(tp), float64(predicted)),
			Recall:    safeDiv(float64(tp), float64(actual)),
			Support:   actual,
		}
		r.F1 = safeDiv(2*r.Precision*r.Recall, r.Precision+r.Recall)
		out[i] = r
	}
	return out
}

// Weighted averages per-class scores weighted by support.
func Weighted(per []ClassReport) ClassReport {
	var avg ClassReport
	for _, r := range per {
		w := float64(r.Support)
		avg.Precision += r.Precision * w
		avg.Recall += r.Recall * w
		avg.F1 += r.F1 * w
		avg.Support += r.Support
	}
	total := float64(avg.Support)
	avg.Precision = safeDiv(avg.Precision, total)
	avg.Recall = safeDiv(avg.Recall, total)
	avg.F1 = safeDiv(avg.F1, total)
	return avg
}

// Macro averages per-class scores with equal weight.
func Macro(per []ClassReport) ClassReport {
	var avg ClassReport
	for _, r := range per {
		avg.Precision += r.Precision
		avg.Recall += r.Recall
		avg.F1 += r.F1
		avg.Support += r.Support
	}
	n := float64(len(per))
	avg.Precision = safeDiv(avg.Precision, n)
	avg.Recall = safeDiv(avg.Recall, n)
	avg.F1 = safeDiv(avg.F1, n)
	return avg
}

// ROCAUCOvR returns the macro-averaged one-vs-rest ROC-AUC. proba[i][c] is
// the probability of class c for sample i. Every column must correspond to a
// class present in yTrue, and every class needs positive and negative samples.
func ROCAUCOvR(yTrue []int, proba [][]float64) (auc float64, err error) {
	if len(yTrue) == 0 || len(yTrue) != len(proba) {
		return 0, fmt.Errorf("roc auc: %d labels for %d score rows", len(yTrue), len(proba))
	}
	k := len(proba[0])
	present := make(map[int]int)
	for _, c := range yTrue {
		present[c]++
	}
	if len(present) != k {
		return 0, fmt.Errorf("roc auc: %d classes in labels but %d score columns", len(present), k)
	}

	defer func() {
		if r := recover(); r != nil {
			auc, err = 0, fmt.Errorf("roc auc: %v", r)
		}
	}()

	var sum float64
	for c := range k {
		if present[c] == 0 || present[c] == len(yTrue) {
			return 0, fmt.Errorf("roc auc: class %d has no positive or no negative samples", c)
		}
		scores := make([]float64, len(proba))
		for i, row := range proba {
			if len(row) != k {
				return 0, fmt.Errorf("roc auc: row %d has %d scores, want %d", i, len(row), k)
			}
			scores[i] = row[c]
		}
		inds := make([]int, len(scores))
		floats.Argsort(scores, inds)
		positive := make([]bool, len(inds))
		for i, idx := range inds {
			positive[i] = yTrue[idx] == c
		}
		tpr, fpr, _ := stat.ROC(nil, scores, positive, nil)
		sum += integrate.Trapezoidal(fpr, tpr)
	}

	auc = sum / float64(k)
	if math.IsNaN(auc) || math.IsInf(auc, 0) {
		return 0, errors.New("roc auc: not a finite number")
	}
	return auc, nil
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
