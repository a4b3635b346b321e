package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/metrics"
	"github.com/andresmejia3/rollcall/internal/pipeline"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
)

// fakePipeline records calls and returns canned results.
type fakePipeline struct {
	registerReq pipeline.RegisterRequest
	registerErr error
	identifyErr error
	evaluateErr error
	identified  []pipeline.Identification
	report      *metrics.Report
	students    []store.Enrollment
}

func (f *fakePipeline) Register(ctx context.Context, req pipeline.RegisterRequest) (*pipeline.RegisterResult, error) {
	f.registerReq = req
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &pipeline.RegisterResult{
		Label:      req.Student.Label(),
		Added:      5,
		TrainCount: 4,
		TestCount:  1,
		Message:    "Student Ana (001) added with 5 faces. 4 for training, 1 for testing.",
	}, nil
}

func (f *fakePipeline) Identify(ctx context.Context, photo image.Image) ([]pipeline.Identification, error) {
	return f.identified, f.identifyErr
}

func (f *fakePipeline) Evaluate(ctx context.Context) (*metrics.Report, error) {
	return f.report, f.evaluateErr
}

func (f *fakePipeline) Students(ctx context.Context) ([]store.Enrollment, error) {
	return f.students, nil
}

func testServer(fp *fakePipeline) *Server {
	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 5001, AllowedOrigins: []string{"http://localhost:3000"}}, fp, 5)
}

func dataURL(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRegisterHandler(t *testing.T) {
	fp := &fakePipeline{}
	s := testServer(fp)
	img := dataURL(t)

	rec := do(t, s, http.MethodPost, "/register", map[string]any{
		"name": "Ana", "id": "001", "images": []string{img, img, img, img, img},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	if body["status"] != "success" || body["label"] != "Ana_001" {
		t.Errorf("body = %v", body)
	}
	// JSON numbers decode as float64.
	if body["added"] != float64(5) || body["train_count"] != float64(4) || body["test_count"] != float64(1) {
		t.Errorf("counts = added %v, train %v, test %v", body["added"], body["train_count"], body["test_count"])
	}
	if fp.registerReq.Student != (types.Student{Name: "Ana", ID: "001"}) || len(fp.registerReq.Photos) != 5 {
		t.Errorf("pipeline received %+v", fp.registerReq)
	}
}

func TestRegisterHandlerBadRequests(t *testing.T) {
	img := dataURL(t)
	tests := []struct {
		name string
		body any
		want string
	}{
		{"Too few images", map[string]any{"name": "Ana", "id": "001", "images": []string{img, img, img, img}}, errInsufficientData},
		{"Missing name", map[string]any{"id": "001", "images": []string{img, img, img, img, img}}, errInsufficientData},
		{"Missing id", map[string]any{"name": "Ana", "images": []string{img, img, img, img, img}}, errInsufficientData},
		{"Undecodable image", map[string]any{"name": "Ana", "id": "001", "images": []string{img, img, img, img, "data:image/png;base64,AAAA"}}, errDecodeImage},
		{"Not JSON", "just a string", errInvalidRequestBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, testServer(&fakePipeline{}), http.MethodPost, "/register", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decode(t, rec)["error"]; got != tt.want {
				t.Errorf("error = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestPipelineErrorStatus(t *testing.T) {
	img := dataURL(t)
	reg := map[string]any{"name": "Ana", "id": "001", "images": []string{img, img, img, img, img}}

	ambiguous := &pipeline.Error{Kind: pipeline.KindAmbiguousPhoto, Message: "More than one face found in photo 2. Please ensure only one face is submitted."}
	rec := do(t, testServer(&fakePipeline{registerErr: ambiguous}), http.MethodPost, "/register", reg)
	if rec.Code != http.StatusOK {
		t.Errorf("domain error status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "error" || body["kind"] != string(pipeline.KindAmbiguousPhoto) || body["message"] != ambiguous.Message {
		t.Errorf("body = %v", body)
	}

	internal := &pipeline.Error{Kind: pipeline.KindInternal, Message: "saving model snapshot", Err: errors.New("disk full")}
	rec = do(t, testServer(&fakePipeline{registerErr: internal}), http.MethodPost, "/register", reg)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("internal error status = %d, want 500", rec.Code)
	}
	if msg := decode(t, rec)["message"]; msg != "saving model snapshot" {
		t.Errorf("internal details leaked: %v", msg)
	}
}

func TestInferHandler(t *testing.T) {
	fp := &fakePipeline{identified: []pipeline.Identification{
		{Name: "Mary_Jane", StudentID: "7", Confidence: 91.5, Emotion: "happy"},
	}}
	s := testServer(fp)

	rec := do(t, s, http.MethodPost, "/infer", map[string]string{"image": dataURL(t)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["name"] != "Mary_Jane" || got[0]["student_id"] != "7" || got[0]["emotion"] != "happy" {
		t.Errorf("body = %v", got)
	}

	rec = do(t, s, http.MethodPost, "/infer", map[string]string{})
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != errImageNotProvided {
		t.Errorf("missing image: %d %s", rec.Code, rec.Body)
	}
	rec = do(t, s, http.MethodPost, "/infer", map[string]string{"image": "data:image/png;base64,AAAA"})
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != errDecodeImage {
		t.Errorf("bad image: %d %s", rec.Code, rec.Body)
	}

	fp.identifyErr = &pipeline.Error{Kind: pipeline.KindUnknownFace, Message: "Unknown face."}
	rec = do(t, s, http.MethodPost, "/infer", map[string]string{"image": dataURL(t)})
	body := decode(t, rec)
	if rec.Code != http.StatusOK || body["kind"] != "unknown-face" || body["message"] != "Unknown face." {
		t.Errorf("unknown face: %d %v", rec.Code, body)
	}
}

func TestEvalsHandler(t *testing.T) {
	auc := 0.75
	fp := &fakePipeline{report: &metrics.Report{Accuracy: 0.5, ROCAUC: &auc, TestSamples: 2}}
	rec := do(t, testServer(fp), http.MethodGet, "/evals", nil)
	body := decode(t, rec)
	m, ok := body["metrics"].(map[string]any)
	if body["status"] != "success" || !ok {
		t.Fatalf("body = %v", body)
	}
	if m["accuracy"] != 0.5 || m["roc_auc"] != 0.75 {
		t.Errorf("metrics = %v", m)
	}

	fp.evaluateErr = &pipeline.Error{Kind: pipeline.KindInsufficientClasses, Message: "Not enough classes to evaluate."}
	body = decode(t, do(t, testServer(fp), http.MethodGet, "/evals", nil))
	if body["kind"] != "insufficient-classes" {
		t.Errorf("body = %v", body)
	}
}

func TestStudentsAndHealth(t *testing.T) {
	fp := &fakePipeline{}
	s := testServer(fp)

	rec := do(t, s, http.MethodGet, "/students", nil)
	if !strings.Contains(rec.Body.String(), `"students":[]`) {
		t.Errorf("empty roster should be an empty array, got %s", rec.Body)
	}

	fp.students = []store.Enrollment{{Student: types.Student{Name: "Ana", ID: "001"}, Label: "Ana_001", TrainCount: 4, TestCount: 1}}
	rec = do(t, s, http.MethodGet, "/students", nil)
	if !strings.Contains(rec.Body.String(), `"label":"Ana_001"`) {
		t.Errorf("roster = %s", rec.Body)
	}

	rec = do(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "ok" {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}
}

func TestCORS(t *testing.T) {
	s := testServer(&fakePipeline{})

	req := httptest.NewRequest(http.MethodOptions, "/infer", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin got %q", got)
	}

	open := CORS([]string{"*"})(http.HandlerFunc(HealthCheck))
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("wildcard allow origin = %q", got)
	}
}
