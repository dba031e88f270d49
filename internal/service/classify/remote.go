package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ecobin/internal/dto"
)

const maxResponseBytes = 1 << 20

// Remote posts samples as data URLs to an HTTP classification endpoint.
type Remote struct {
	url    string
	client *http.Client
}

// NewRemote creates a remote backend. A nil client gets a default with a
// 30s ceiling; per-call deadlines come from the context.
func NewRemote(url string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Remote{url: url, client: client}
}

func (r *Remote) Name() string { return "remote" }

// Ready is always true: there is nothing to load.
func (r *Remote) Ready() bool { return true }

func (r *Remote) Classify(ctx context.Context, sample dto.Sample) ([]dto.Candidate, error) {
	if sample.Empty() {
		return nil, fmt.Errorf("empty sample")
	}

	body, err := json.Marshal(dto.ClassifyRequest{Image: sample.DataURL()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read classify response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("classify endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	return ParseResponse(raw)
}

// ParseResponse accepts either {result, boundingBox, confidence?},
// {className, probability} or {predictions: [...]}. A bare result with no
// confidence is display only: it scores 0 and never passes a threshold.
func ParseResponse(raw []byte) ([]dto.Candidate, error) {
	var payload dto.ClassifyResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	switch {
	case len(payload.Predictions) > 0:
		return payload.Predictions, nil
	case payload.ClassName != "":
		if payload.Probability == nil {
			return nil, fmt.Errorf("%w: className without probability", ErrMalformedResponse)
		}
		return []dto.Candidate{{
			ClassName:   payload.ClassName,
			Probability: *payload.Probability,
			BoundingBox: payload.BoundingBox,
		}}, nil
	case payload.Result != "":
		confidence := 0.0
		if payload.Confidence != nil {
			confidence = *payload.Confidence
		}
		return []dto.Candidate{{
			ClassName:   payload.Result,
			Probability: confidence,
			BoundingBox: payload.BoundingBox,
		}}, nil
	}

	return nil, fmt.Errorf("%w: no label in response", ErrMalformedResponse)
}
