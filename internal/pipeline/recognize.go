package pipeline

import (
	"context"
	"errors"
	"image"
	"math"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/vision"
	"github.com/sirupsen/logrus"
)

// DefaultEmotion is reported when the emotion model returns no label.
const DefaultEmotion = "neutral"

// Identification is one recognized face.
type Identification struct {
	Name       string    `json:"name"`
	StudentID  string    `json:"student_id"`
	Confidence float64   `json:"confidence"` // percent, two decimals
	Emotion    string    `json:"emotion"`
	Box        types.Box `json:"box"`
}

// Identify recognizes every confident face in photo. Faces that fail
// embedding, prediction or emotion analysis are left out of the result;
// they never fail the whole call.
func (s *Service) Identify(ctx context.Context, photo image.Image) ([]Identification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, internal("loading model snapshot", err)
	}
	if !snap.Trained() {
		return nil, newError(KindNoTrainedModel, "No trained model found.")
	}

	faces, err := s.engine.DetectFaces(ctx, photo)
	if err != nil {
		s.log.WithError(err).Warn("face detection failed")
		return nil, &Error{Kind: KindNoFaces, Message: "No faces detected.", Err: err}
	}
	for _, f := range faces {
		s.log.WithFields(logrus.Fields{"box": f.Box, "confidence": f.Confidence}).Debug("face detected")
	}
	kept := vision.Confident(faces, s.opts.DetectionThreshold)
	if len(kept) == 0 {
		return nil, newError(KindNoFaces, "No faces detected.")
	}

	var results []Identification
	for i, face := range kept {
		flog := s.log.WithFields(logrus.Fields{"face": i, "box": face.Box})

		crop, err := utils.Crop(photo, face.Box.Rect())
		if err != nil {
			if !errors.Is(err, utils.ErrEmptyCrop) {
				flog.WithError(err).Warn("cropping face failed")
			}
			continue
		}

		vec, err := s.engine.Represent(ctx, crop)
		if err != nil {
			flog.WithError(err).Warn("embedding failed, skipping face")
			continue
		}

		best, p, err := snap.Classifier.Predict(vec)
		if err != nil {
			flog.WithError(err).Warn("prediction failed, skipping face")
			continue
		}
		confidence := math.Round(p*100*100) / 100

		label, err := snap.Encoder.Decode(best)
		if err != nil {
			flog.WithError(err).Warn("decoding class failed, skipping face")
			continue
		}
		student, err := types.ParseLabel(label)
		if err != nil {
			flog.WithError(err).Warn("malformed label, skipping face")
			continue
		}

		flog = flog.WithFields(logrus.Fields{"label": label, "confidence": confidence})
		if confidence <= s.opts.ConfidenceThreshold {
			flog.Info("face below confidence threshold")
			continue
		}

		emotion, err := s.engine.Analyze(ctx, crop)
		if err != nil {
			flog.WithError(err).Warn("emotion analysis failed, skipping face")
			continue
		}
		dominant := emotion.Dominant
		if dominant == "" {
			dominant = DefaultEmotion
		}

		flog.WithField("emotion", dominant).Info("face identified")
		results = append(results, Identification{
			Name:       student.Name,
			StudentID:  student.ID,
			Confidence: confidence,
			Emotion:    dominant,
			Box:        face.Box,
		})
	}

	if len(results) == 0 {
		return nil, newError(KindUnknownFace, "Unknown face.")
	}
	return results, nil
}
