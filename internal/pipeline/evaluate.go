package pipeline

import (
	"context"

	"github.com/andresmejia3/rollcall/internal/metrics"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// Evaluate scores the stored classifier on the held-out test split.
func (s *Service) Evaluate(ctx context.Context) (*metrics.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, internal("loading model snapshot", err)
	}
	if len(snap.Test) == 0 {
		return nil, newError(KindInsufficientData, "No test data available for evaluation.")
	}
	if snap.DistinctTestLabels() < 2 {
		return nil, newError(KindInsufficientClasses, "Not enough classes to evaluate.")
	}
	if !snap.Trained() {
		return nil, newError(KindNoTrainedModel, "No trained model found.")
	}

	yTrue, err := snap.Encoder.Transform(snap.TestLabels())
	if err != nil {
		return nil, internal("encoding test labels", err)
	}

	yPred := make([]int, len(snap.Test))
	proba := make([][]float64, len(snap.Test))
	for i, smp := range snap.Test {
		p, err := snap.Classifier.PredictProba(smp.Embedding)
		if err != nil {
			return nil, internal("predicting test sample", err)
		}
		proba[i] = p
		yPred[i] = floats.MaxIdx(p)
	}

	rep, err := metrics.NewReport(yTrue, yPred, proba, snap.Encoder.Classes)
	if err != nil {
		s.log.WithError(err).Info("roc auc unavailable")
	}
	rep.UniqueClasses = snap.DistinctTestLabels()
	rep.TrainSamples = len(snap.Train)
	rep.TestSamples = len(snap.Test)

	s.log.WithFields(logrus.Fields{
		"accuracy": rep.Accuracy,
		"test":     rep.TestSamples,
		"classes":  rep.UniqueClasses,
	}).Info("evaluation complete")
	return rep, nil
}
