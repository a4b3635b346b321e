package web

import (
	"encoding/json"
	"errors"
	"image"
	"net/http"

	"github.com/andresmejia3/rollcall/internal/pipeline"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds a request body; an enrollment carries several photos.
const maxBodyBytes = 64 << 20

const (
	errInvalidRequestBody = "invalid request body"
	errInsufficientData   = "Insufficient data"
	errImageNotProvided   = "Image not provided"
	errDecodeImage        = "Failed to decode image"
)

// Handler serves the pipeline endpoints.
type Handler struct {
	svc       Pipeline
	minPhotos int
}

func NewHandler(svc Pipeline, minPhotos int) *Handler {
	return &Handler{svc: svc, minPhotos: minPhotos}
}

type registerRequest struct {
	Name   string   `json:"name"`
	ID     string   `json:"id"`
	Images []string `json:"images"`
}

type registerResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Label      string `json:"label"`
	Added      int    `json:"added"`
	TrainCount int    `json:"train_count"`
	TestCount  int    `json:"test_count"`
	Trained    bool   `json:"trained"`
}

type inferRequest struct {
	Image string `json:"image"`
}

type errorResponse struct {
	Status  string        `json:"status"`
	Kind    pipeline.Kind `json:"kind"`
	Message string        `json:"message"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends a request validation error.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondPipelineError reports a pipeline failure. Domain errors are a normal
// outcome and keep status 200; only internal failures are 500.
func respondPipelineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := pipeline.KindOf(err)
	status := http.StatusOK
	message := err.Error()
	if kind == pipeline.KindInternal {
		status = http.StatusInternalServerError
		logrus.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		var perr *pipeline.Error
		if errors.As(err, &perr) && perr.Message != "" {
			message = perr.Message
		}
	}
	respondJSON(w, status, errorResponse{Status: "error", Kind: kind, Message: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// Register handles POST /register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.ID == "" || len(req.Images) < h.minPhotos {
		respondError(w, http.StatusBadRequest, errInsufficientData)
		return
	}

	photos := make([]image.Image, len(req.Images))
	for i, s := range req.Images {
		img, err := utils.DecodeDataURL(s)
		if err != nil {
			logrus.WithError(err).WithField("photo", i+1).Warn("failed to decode enrollment photo")
			respondError(w, http.StatusBadRequest, errDecodeImage)
			return
		}
		photos[i] = img
	}

	res, err := h.svc.Register(r.Context(), pipeline.RegisterRequest{
		Student: types.Student{Name: req.Name, ID: req.ID},
		Photos:  photos,
	})
	if err != nil {
		respondPipelineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, registerResponse{
		Status:     "success",
		Message:    res.Message,
		Label:      res.Label,
		Added:      res.Added,
		TrainCount: res.TrainCount,
		TestCount:  res.TestCount,
		Trained:    res.Trained,
	})
}

// Infer handles POST /infer.
func (h *Handler) Infer(w http.ResponseWriter, r *http.Request) {
	var req inferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Image == "" {
		respondError(w, http.StatusBadRequest, errImageNotProvided)
		return
	}
	img, err := utils.DecodeDataURL(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, errDecodeImage)
		return
	}

	results, err := h.svc.Identify(r.Context(), img)
	if err != nil {
		respondPipelineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// Evals handles GET /evals.
func (h *Handler) Evals(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Evaluate(r.Context())
	if err != nil {
		respondPipelineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"metrics": rep,
	})
}

// Students handles GET /students.
func (h *Handler) Students(w http.ResponseWriter, r *http.Request) {
	students, err := h.svc.Students(r.Context())
	if err != nil {
		respondPipelineError(w, r, err)
		return
	}
	if students == nil {
		students = []store.Enrollment{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"students": students})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
