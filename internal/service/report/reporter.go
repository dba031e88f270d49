// Package report forwards confident detections to an upstream logging endpoint.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"ecobin/internal/dto"
	"ecobin/internal/logger"
)

// Reporter posts detections fire-and-forget. Failures are logged, never
// returned to the loop.
type Reporter struct {
	url       string
	threshold float64
	client    *http.Client
	logger    *logger.Logger
	wg        sync.WaitGroup
}

// NewReporter creates a reporter posting to url. Detections at or below
// threshold are never sent.
func NewReporter(url string, threshold float64, client *http.Client, logger *logger.Logger) *Reporter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Reporter{url: url, threshold: threshold, client: client, logger: logger}
}

// HandleDetection is subscribed to detection events.
func (r *Reporter) HandleDetection(event dto.LoopEvent) {
	if event.Entry == nil {
		return
	}
	r.Report(dto.DetectionReport{
		ObjectType: event.Entry.Label,
		Confidence: event.Entry.Confidence,
		Timestamp:  event.Entry.Timestamp,
	})
}

// Report sends one detection in the background.
func (r *Reporter) Report(report dto.DetectionReport) {
	if report.Confidence <= r.threshold {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.send(context.Background(), report); err != nil {
			r.logger.Warning("Failed to report detection %s: %v", report.ObjectType, err)
		}
	}()
}

// Wait blocks until every pending report finished.
func (r *Reporter) Wait() {
	r.wg.Wait()
}

func (r *Reporter) send(ctx context.Context, report dto.DetectionReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode detection: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("detections endpoint returned %d", resp.StatusCode)
	}
	return nil
}
