package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"ecobin/internal/dto"
)

type stubModel struct {
	candidates []dto.Candidate
	delay      time.Duration
	closed     bool
}

func (m *stubModel) Predict(sample dto.Sample) ([]dto.Candidate, error) {
	time.Sleep(m.delay)
	return m.candidates, nil
}

func (m *stubModel) Close() error {
	m.closed = true
	return nil
}

func TestLocal_NotReadyUntilLoaded(t *testing.T) {
	model := &stubModel{candidates: []dto.Candidate{{ClassName: "Glass", Probability: 0.8}}}
	var gotModel, gotMeta string
	local := NewLocal(func(ctx context.Context, modelURL, metadataURL string) (Model, error) {
		gotModel, gotMeta = modelURL, metadataURL
		return model, nil
	})

	if local.Ready() {
		t.Error("Expected backend not ready before Load")
	}
	if _, err := local.Classify(context.Background(), testSample); !errors.Is(err, ErrBackendNotReady) {
		t.Errorf("Expected ErrBackendNotReady, got %v", err)
	}

	if err := local.Load(context.Background(), "model.onnx", "metadata.json"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if gotModel != "model.onnx" || gotMeta != "metadata.json" {
		t.Errorf("Loader got %q %q", gotModel, gotMeta)
	}
	if !local.Ready() {
		t.Fatal("Expected backend ready after Load")
	}

	candidates, err := local.Classify(context.Background(), testSample)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if candidates[0].ClassName != "Glass" {
		t.Errorf("Expected Glass, got %s", candidates[0].ClassName)
	}

	local.Close()
	if !model.closed || local.Ready() {
		t.Error("Expected Close to release the model")
	}
}

func TestLocal_LoadFailure(t *testing.T) {
	loadErr := errors.New("no such file")
	local := NewLocal(func(ctx context.Context, modelURL, metadataURL string) (Model, error) {
		return nil, loadErr
	})

	if err := local.Load(context.Background(), "m", "d"); !errors.Is(err, loadErr) {
		t.Fatalf("Expected load error, got %v", err)
	}
	if local.Ready() {
		t.Error("Expected backend to stay not ready")
	}
	if !errors.Is(local.LoadErr(), loadErr) {
		t.Errorf("Expected LoadErr to report the failure, got %v", local.LoadErr())
	}
}

func TestLocal_ClassifyRespectsContext(t *testing.T) {
	local := NewLocal(func(ctx context.Context, modelURL, metadataURL string) (Model, error) {
		return &stubModel{delay: 200 * time.Millisecond}, nil
	})
	local.Load(context.Background(), "m", "d")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := local.Classify(ctx, testSample); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}
