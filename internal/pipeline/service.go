// Package pipeline implements enrollment, recognition and evaluation over a
// single evolving dataset and classifier.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/vision"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options holds the thresholds of the pipelines.
type Options struct {
	DetectionThreshold  float64 // detector confidence, [0,1], strict >
	ConfidenceThreshold float64 // classifier confidence in percent, strict >
	MinPhotos           int
	MinEmbeddings       int
	TestRatio           float64
	Seed                int64
	AuditDir            string // where enrollment crops are kept; empty disables
}

// DefaultOptions returns the thresholds the service ships with.
func DefaultOptions() Options {
	return Options{
		DetectionThreshold:  0.5,
		ConfidenceThreshold: 50,
		MinPhotos:           5,
		MinEmbeddings:       5,
		TestRatio:           0.2,
		Seed:                42,
		AuditDir:            "dataset/train",
	}
}

// Service serializes access to the snapshot: Register holds the write lock
// for the whole load, mutate, save cycle; reads share the lock.
type Service struct {
	store  store.Store
	engine vision.Engine
	opts   Options
	log    logrus.FieldLogger

	mu      sync.RWMutex
	batchID func() string
}

// NewService wires a store and an engine. A nil logger uses the logrus
// standard logger.
func NewService(st store.Store, engine vision.Engine, opts Options, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store:   st,
		engine:  engine,
		opts:    opts,
		log:     log,
		batchID: func() string { return uuid.NewString() },
	}
}

// Students lists every enrolled student with sample counts.
func (s *Service) Students(ctx context.Context) ([]store.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, internal("loading model snapshot", err)
	}
	return snap.Enrollments(), nil
}

// Reset deletes the snapshot and the audit crops.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Reset(ctx); err != nil {
		return internal("resetting model snapshot", err)
	}
	if s.opts.AuditDir != "" {
		if err := os.RemoveAll(s.opts.AuditDir); err != nil {
			return internal(fmt.Sprintf("removing %s", s.opts.AuditDir), err)
		}
	}
	s.log.Info("model snapshot reset")
	return nil
}
