package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/vision"
	"github.com/sirupsen/logrus"
)

// RegisterRequest is one enrollment batch.
type RegisterRequest struct {
	Student types.Student
	Photos  []image.Image
}

// RegisterResult summarizes a successful enrollment.
type RegisterResult struct {
	Label      string `json:"label"`
	Added      int    `json:"added"`
	TrainCount int    `json:"train_count"`
	TestCount  int    `json:"test_count"`
	Trained    bool   `json:"trained"`
	Classes    int    `json:"classes"`
	Message    string `json:"message"`
}

// Register extracts one face embedding per photo and merges them into the
// dataset. The whole batch is rejected if any photo shows more than one face,
// if fewer than MinEmbeddings faces were found, or if at most half of the
// photos had a face. On success the classifier is retrained once the training
// set spans two or more students.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	req.Student.Name = strings.TrimSpace(req.Student.Name)
	req.Student.ID = strings.TrimSpace(req.Student.ID)
	if req.Student.Name == "" || req.Student.ID == "" || len(req.Photos) < s.opts.MinPhotos {
		return nil, newError(KindInsufficientData, "Insufficient data")
	}
	if strings.Contains(req.Student.ID, types.LabelSeparator) {
		return nil, newError(KindInsufficientData, "student id must not contain %q", types.LabelSeparator)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, internal("loading model snapshot", err)
	}

	label := req.Student.Label()
	batch := s.batchID()
	log := s.log.WithFields(logrus.Fields{"label": label, "batch": batch})
	log.WithField("photos", len(req.Photos)).Info("enrollment started")

	var embeddings [][]float64
	photosWithFace := 0

	for idx, photo := range req.Photos {
		if err := ctx.Err(); err != nil {
			return nil, internal("enrollment cancelled", err)
		}
		plog := log.WithField("photo", idx+1)
		if photo == nil {
			plog.Warn("photo could not be decoded, skipping")
			continue
		}

		faces, err := s.engine.DetectFaces(ctx, photo)
		if err != nil {
			return nil, internal(fmt.Sprintf("detecting faces in photo %d", idx+1), err)
		}
		for _, f := range faces {
			plog.WithFields(logrus.Fields{"box": f.Box, "confidence": f.Confidence}).Debug("face detected")
		}

		kept := vision.Confident(faces, s.opts.DetectionThreshold)
		if len(kept) == 0 {
			plog.Info("no face detected, skipping")
			continue
		}
		if len(kept) > 1 {
			return nil, newError(KindAmbiguousPhoto,
				"More than one face found in photo %d. Please ensure only one face is submitted.", idx+1)
		}
		photosWithFace++

		crop, err := utils.Crop(photo, kept[0].Box.Rect())
		if errors.Is(err, utils.ErrEmptyCrop) {
			plog.Warn("face region is empty, skipping")
			continue
		}
		if err != nil {
			return nil, internal(fmt.Sprintf("cropping photo %d", idx+1), err)
		}

		if s.opts.AuditDir != "" {
			path := filepath.Join(s.opts.AuditDir, label, fmt.Sprintf("face_%s_%d.jpg", batch, idx))
			if err := utils.SaveJPEG(path, crop); err != nil {
				plog.WithError(err).Warn("failed to save face crop")
			} else {
				plog.WithField("path", path).Debug("face crop saved")
			}
		}

		vec, err := s.engine.Represent(ctx, crop)
		if err != nil {
			return nil, internal(fmt.Sprintf("extracting embedding for photo %d", idx+1), err)
		}
		embeddings = append(embeddings, vec)
	}

	if len(embeddings) < s.opts.MinEmbeddings {
		return nil, newError(KindInsufficientFaces,
			"Only %d faces detected. At least %d faces are required.", len(embeddings), s.opts.MinEmbeddings)
	}
	if photosWithFace*2 <= len(req.Photos) {
		return nil, newError(KindInsufficientCoverage, "No faces detected in at least 50%% of the input images.")
	}

	train, test := split(label, embeddings, s.opts.TestRatio, s.opts.Seed)
	if err := snap.Append(train, test); err != nil {
		return nil, internal("merging embeddings", err)
	}
	if err := s.store.Save(ctx, snap); err != nil {
		return nil, internal("saving model snapshot", err)
	}

	res := &RegisterResult{
		Label:      label,
		Added:      len(embeddings),
		TrainCount: len(train),
		TestCount:  len(test),
		Classes:    snap.DistinctTrainLabels(),
	}

	if res.Classes >= 2 {
		log.WithFields(logrus.Fields{"samples": len(snap.Train), "classes": res.Classes}).Info("training classifier")
		if err := retrain(snap); err != nil {
			return nil, internal("training classifier", err)
		}
		if err := s.store.Save(ctx, snap); err != nil {
			return nil, internal("saving trained model", err)
		}
		res.Trained = true
	} else {
		log.Info("not enough students to train yet, waiting for at least 2")
	}

	res.Message = fmt.Sprintf("Student %s (%s) added with %d faces. %d for training, %d for testing.",
		req.Student.Name, req.Student.ID, res.Added, res.TrainCount, res.TestCount)
	log.WithFields(logrus.Fields{"train": res.TrainCount, "test": res.TestCount, "trained": res.Trained}).Info("enrollment complete")
	return res, nil
}

// split shuffles the batch with a fixed seed and moves ceil(ratio*n) samples
// to the test side. Every batch is split independently.
func split(label string, embeddings [][]float64, ratio float64, seed int64) (train, test []store.Sample) {
	n := len(embeddings)
	// The epsilon keeps 0.2*15 from rounding up to 4.
	nTest := int(math.Ceil(ratio*float64(n) - 1e-9))
	if n >= 2 && nTest < 1 {
		nTest = 1
	}
	if nTest >= n {
		nTest = n - 1
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	for i, j := range perm {
		smp := store.Sample{Label: label, Embedding: embeddings[j]}
		if i < nTest {
			test = append(test, smp)
		} else {
			train = append(train, smp)
		}
	}
	return train, test
}

// retrain refits the encoder over every training label and trains a fresh
// classifier on the full training set.
func retrain(snap *store.Snapshot) error {
	y := snap.Encoder.FitTransform(snap.TrainLabels())
	X := make([][]float64, len(snap.Train))
	for i, smp := range snap.Train {
		X[i] = smp.Embedding
	}
	return snap.Classifier.Fit(X, y)
}
