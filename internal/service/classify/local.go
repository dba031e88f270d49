package classify

import (
	"context"
	"fmt"
	"sync"

	"ecobin/internal/dto"
)

// Model is an in-process classifier such as a loaded DNN.
type Model interface {
	Predict(sample dto.Sample) ([]dto.Candidate, error)
	Close() error
}

// ModelLoader builds a Model from a model descriptor and its label metadata.
type ModelLoader func(ctx context.Context, modelURL, metadataURL string) (Model, error)

// Local runs an in-process model. It is not ready until Load has finished.
type Local struct {
	loader ModelLoader

	mu      sync.RWMutex
	model   Model
	loadErr error
	loading bool

	predictMu sync.Mutex
}

func NewLocal(loader ModelLoader) *Local {
	return &Local{loader: loader}
}

func (l *Local) Name() string { return "local" }

func (l *Local) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.model != nil
}

// Load blocks until the model is loaded. Run it in a goroutine to keep
// start-up non-blocking; Classify reports ErrBackendNotReady meanwhile.
func (l *Local) Load(ctx context.Context, modelURL, metadataURL string) error {
	l.mu.Lock()
	if l.model != nil || l.loading {
		l.mu.Unlock()
		return nil
	}
	l.loading = true
	l.mu.Unlock()

	model, err := l.loader(ctx, modelURL, metadataURL)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loading = false
	if err != nil {
		l.loadErr = err
		return fmt.Errorf("failed to load model: %w", err)
	}
	l.model = model
	l.loadErr = nil
	return nil
}

// LoadErr returns the last load failure, if any.
func (l *Local) LoadErr() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadErr
}

func (l *Local) Classify(ctx context.Context, sample dto.Sample) ([]dto.Candidate, error) {
	l.mu.RLock()
	model := l.model
	l.mu.RUnlock()

	if model == nil {
		return nil, ErrBackendNotReady
	}

	type outcome struct {
		candidates []dto.Candidate
		err        error
	}
	done := make(chan outcome, 1)

	go func() {
		l.predictMu.Lock()
		defer l.predictMu.Unlock()
		candidates, err := model.Predict(sample)
		done <- outcome{candidates, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("prediction failed: %w", out.err)
		}
		return out.candidates, nil
	}
}

// Close releases the loaded model.
func (l *Local) Close() error {
	l.mu.Lock()
	model := l.model
	l.model = nil
	l.mu.Unlock()

	if model == nil {
		return nil
	}
	l.predictMu.Lock()
	defer l.predictMu.Unlock()
	return model.Close()
}
