package metrics

import (
	"encoding/json"
	"strconv"
)

// ClassificationReport is the per-class breakdown plus the summary rows.
// It serializes as a flat object keyed by class name, with "accuracy",
// "macro avg" and "weighted avg" alongside.
type ClassificationReport struct {
	Classes     map[string]ClassReport
	Accuracy    float64
	MacroAvg    ClassReport
	WeightedAvg ClassReport
}

func (r ClassificationReport) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Classes)+3)
	for name, c := range r.Classes {
		m[name] = c
	}
	m["accuracy"] = r.Accuracy
	m["macro avg"] = r.MacroAvg
	m["weighted avg"] = r.WeightedAvg
	return json.Marshal(m)
}

// Report is the evaluation summary of the stored test split.
type Report struct {
	Accuracy             float64              `json:"accuracy"`
	Precision            float64              `json:"precision"`
	Recall               float64              `json:"recall"`
	F1                   float64              `json:"f1_score"`
	ConfusionMatrix      [][]int              `json:"confusion_matrix"`
	ClassificationReport ClassificationReport `json:"classification_report"`
	ROCAUC               *float64             `json:"roc_auc"`
	UniqueClasses        int                  `json:"unique_classes"`
	TrainSamples         int                  `json:"train_samples"`
	TestSamples          int                  `json:"test_samples"`
}

// NewReport scores predictions against ground truth. names maps a class index
// to its display name; indices without a name are shown as numbers. proba may
// be nil, in which case ROCAUC stays nil. The ROC error, if any, is returned
// alongside the report so callers can log it.
func NewReport(yTrue, yPred []int, proba [][]float64, names []string) (*Report, error) {
	classes := Classes(yTrue, yPred)
	per := PerClass(yTrue, yPred, classes)
	weighted := Weighted(per)

	rep := &Report{
		Accuracy:        Accuracy(yTrue, yPred),
		Precision:       weighted.Precision,
		Recall:          weighted.Recall,
		F1:              weighted.F1,
		ConfusionMatrix: ConfusionMatrix(yTrue, yPred, classes),
		ClassificationReport: ClassificationReport{
			Classes:     make(map[string]ClassReport, len(classes)),
			MacroAvg:    Macro(per),
			WeightedAvg: weighted,
		},
	}
	rep.ClassificationReport.Accuracy = rep.Accuracy
	for i, c := range classes {
		name := strconv.Itoa(c)
		if c >= 0 && c < len(names) {
			name = names[c]
		}
		rep.ClassificationReport.Classes[name] = per[i]
	}

	if proba == nil {
		return rep, nil
	}
	auc, err := ROCAUCOvR(yTrue, proba)
	if err != nil {
		return rep, err
	}
	rep.ROCAUC = &auc
	return rep, nil
}
