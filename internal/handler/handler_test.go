package handler_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ecobin/internal/config"
	"ecobin/internal/dto"
	"ecobin/internal/logger"
	"ecobin/internal/model"
	"ecobin/internal/routes"
	"ecobin/internal/service"
)

type memoryRepo struct {
	mu         sync.Mutex
	detections []model.Detection
}

func (r *memoryRepo) Insert(det *model.Detection) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	det.ID = int64(len(r.detections) + 1)
	r.detections = append(r.detections, *det)
	return det.ID, nil
}

func (r *memoryRepo) List(filter *model.DetectionFilter) ([]model.Detection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Detection
	for _, d := range r.detections {
		if filter.ObjectType == "" || d.ObjectType == filter.ObjectType {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memoryRepo) Count(filter *model.DetectionFilter) (int, error) {
	list, _ := r.List(filter)
	return len(list), nil
}

func (r *memoryRepo) ObjectTypes() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, d := range r.detections {
		if !seen[d.ObjectType] {
			seen[d.ObjectType] = true
			out = append(out, d.ObjectType)
		}
	}
	return out, nil
}

func (r *memoryRepo) DeleteBefore(t time.Time) (int64, error) { return 0, nil }

type testEnv struct {
	handler http.Handler
	manager *service.Manager
	logger  *logger.Logger
	repo    *memoryRepo
	cfg     *config.Config
}

func setup(t *testing.T, serverBackend string) *testEnv {
	t.Helper()

	classifier := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"className":"Glass","probability":0.86}`))
	}))
	t.Cleanup(classifier.Close)

	log, err := logger.New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(log.Close)

	cfg := &config.Config{
		ClassifyURL:            classifier.URL,
		ServerBackend:          serverBackend,
		Threshold:              config.DefaultThreshold,
		HistoryLimit:           config.DefaultHistoryLimit,
		ThumbnailDirectory:     t.TempDir(),
		ThumbnailBufferLimit:   10,
		ThumbnailFlushInterval: 30,
		ThumbnailSize:          32,
		MaxUploadBytes:         1 << 20,
		MaxStillDimension:      128,
		FrameFreshness:         time.Minute,
		Loops: []config.LoopConfig{
			{Name: "front", Source: "camera:front", Backend: config.BackendRemote, Interval: time.Hour},
		},
	}

	repo := &memoryRepo{}
	m, err := service.NewManager(cfg, log, service.Dependencies{DetectionRepo: repo})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(m.Close)

	return &testEnv{handler: routes.SetupRoutes(m, log), manager: m, logger: log, repo: repo, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 300, 200))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartImage(t *testing.T, field string, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, "bottle.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	w.Close()
	return buf.Bytes(), w.FormDataContentType()
}

// ========================================
// Loop API Tests
// ========================================

func TestLoops_ListAndGet(t *testing.T) {
	env := setup(t, "")

	rec := env.do(t, http.MethodGet, "/api/loops", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var snaps []dto.LoopSnapshot
	json.Unmarshal(rec.Body.Bytes(), &snaps)
	if len(snaps) != 1 || snaps[0].Name != "front" || snaps[0].State != "idle" {
		t.Errorf("Unexpected snapshots %s", rec.Body.String())
	}

	if rec := env.do(t, http.MethodGet, "/api/loops/front", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/loops/missing", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestLoops_ActivateDeactivate(t *testing.T) {
	env := setup(t, "")

	rec := env.do(t, http.MethodPost, "/api/loops/front/activate", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var snap dto.LoopSnapshot
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if !snap.Active || snap.State != "sampling" {
		t.Errorf("Expected active sampling loop, got %+v", snap)
	}

	rec = env.do(t, http.MethodPost, "/api/loops/front/deactivate", nil, "")
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if rec.Code != http.StatusOK || snap.Active {
		t.Errorf("Expected inactive loop, got %d %+v", rec.Code, snap)
	}

	if rec := env.do(t, http.MethodGet, "/api/loops/front/activate", nil, ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", rec.Code)
	}
}

func TestLoops_UploadAndClear(t *testing.T) {
	env := setup(t, "")

	body, contentType := multipartImage(t, "image", pngBytes(t))
	rec := env.do(t, http.MethodPost, "/api/loops/front/upload", body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result["label"] != "Glass" || result["percent"] != "86.00" {
		t.Errorf("Unexpected result %s", rec.Body.String())
	}

	loop, _ := env.manager.Loop("front")
	if loop.Current() == nil {
		t.Fatal("Expected upload to set the current result")
	}

	if rec := env.do(t, http.MethodDelete, "/api/loops/front/result", nil, ""); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	if loop.Current() != nil {
		t.Error("Expected result to be cleared")
	}
	if len(loop.History()) != 1 {
		t.Error("Expected history to survive clearing")
	}
}

func TestLoops_UploadRejectsBadInput(t *testing.T) {
	env := setup(t, "")

	body, contentType := multipartImage(t, "file", pngBytes(t))
	if rec := env.do(t, http.MethodPost, "/api/loops/front/upload", body, contentType); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing image field, got %d", rec.Code)
	}

	body, contentType = multipartImage(t, "image", []byte("not an image"))
	if rec := env.do(t, http.MethodPost, "/api/loops/front/upload", body, contentType); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for undecodable image, got %d", rec.Code)
	}
}

// ========================================
// Public Endpoint Tests
// ========================================

func TestClassify_UsesServerBackend(t *testing.T) {
	env := setup(t, config.BackendRemote)

	sample := dto.Sample{Data: pngBytes(t), ContentType: "image/png"}
	body, _ := json.Marshal(dto.ClassifyRequest{Image: sample.DataURL()})

	rec := env.do(t, http.MethodPost, "/public/classify", body, "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp dto.ClassifyResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Result != "Glass" || resp.ClassName != "Glass" || resp.Probability == nil || *resp.Probability != 0.86 {
		t.Errorf("Unexpected response %s", rec.Body.String())
	}
}

func TestClassify_Errors(t *testing.T) {
	env := setup(t, "")
	body, _ := json.Marshal(dto.ClassifyRequest{Image: "data:image/png;base64,AAAA"})
	if rec := env.do(t, http.MethodPost, "/public/classify", body, "application/json"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a server backend, got %d", rec.Code)
	}

	env = setup(t, config.BackendRemote)
	if rec := env.do(t, http.MethodPost, "/public/classify", []byte("{"), "application/json"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid JSON, got %d", rec.Code)
	}
	body, _ = json.Marshal(dto.ClassifyRequest{Image: "data:image/png;base64,@@@"})
	if rec := env.do(t, http.MethodPost, "/public/classify", body, "application/json"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid data URL, got %d", rec.Code)
	}
}

func TestDetections_RecordAndList(t *testing.T) {
	env := setup(t, "")

	body := []byte(`{"objectType":"Plastic","confidence":0.82,"timestamp":"2024-05-01T10:00:00Z"}`)
	rec := env.do(t, http.MethodPost, "/public/detections", body, "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.repo.detections) != 1 || env.repo.detections[0].Source != "public" {
		t.Fatalf("Unexpected stored detections %+v", env.repo.detections)
	}

	for _, bad := range []string{`{"confidence":0.5}`, `{"objectType":"Metal","confidence":1.5}`, `nope`} {
		if rec := env.do(t, http.MethodPost, "/public/detections", []byte(bad), "application/json"); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for %s, got %d", bad, rec.Code)
		}
	}

	rec = env.do(t, http.MethodGet, "/api/detections?objectType=Plastic&limit=10", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var page dto.DetectionPage
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || page.TotalPages != 1 || page.Limit != 10 || len(page.Detections) != 1 {
		t.Errorf("Unexpected page %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/detections/objects", nil, "")
	if !strings.Contains(rec.Body.String(), "Plastic") {
		t.Errorf("Expected Plastic in object types, got %s", rec.Body.String())
	}
}

// ========================================
// Log and Thumbnail Tests
// ========================================

func TestLogs(t *testing.T) {
	env := setup(t, "")
	env.logger.Info("hello from test")

	rec := env.do(t, http.MethodGet, "/logs/info", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "hello from test") {
		t.Errorf("Expected info log content, got %d %q", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/logs/verbose", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown level, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/logs/error/clear", nil, ""); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
}

func TestThumbnails(t *testing.T) {
	env := setup(t, "")
	path := filepath.Join(env.cfg.ThumbnailDirectory, "thumb.jpg")
	if err := os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0644); err != nil {
		t.Fatal(err)
	}

	if rec := env.do(t, http.MethodGet, "/thumbnails/thumb.jpg", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/thumbnails/missing.jpg", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/thumbnails/.hidden", nil, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}
