// Package detector runs capture-classify loops: a timer samples an input
// source, a backend classifies the sample, and the loop keeps the current
// result and a bounded history of confident detections.
package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ecobin/internal/config"
	"ecobin/internal/dto"
	"ecobin/internal/logger"
	"ecobin/internal/service/capture"
	"ecobin/internal/service/classify"
)

// Event bus topics.
const (
	TopicResult    = "detector:result"
	TopicDetection = "detector:detection"
)

// Event types carried in dto.LoopEvent.Type.
const (
	EventResult    = "result"
	EventDetection = "detection"
)

// Loop states as reported in snapshots.
const (
	StateIdle        = "idle"
	StateSampling    = "sampling"
	StateClassifying = "classifying"
)

var (
	// ErrInFlight is returned when a submission is already outstanding.
	ErrInFlight = errors.New("classification already in flight")
	// ErrStale is returned when a response arrived after the loop moved on.
	ErrStale = errors.New("stale classification response discarded")
	// ErrClassificationFailed wraps backend, transport and decoding failures.
	ErrClassificationFailed = errors.New("classification failed")
	// ErrClosed is returned by a loop after Close.
	ErrClosed = errors.New("loop closed")
)

// Publisher is satisfied by EventBus.Bus.
type Publisher interface {
	Publish(topic string, args ...interface{})
}

// Options configure a Loop. Zero Timeout means the tick interval, a nil
// Threshold means config.DefaultThreshold.
type Options struct {
	Name         string
	Interval     time.Duration
	Timeout      time.Duration
	Threshold    *float64
	HistoryLimit int

	Publisher Publisher
	Logger    *logger.Logger

	// ThumbnailName, when set, names the thumbnail stored for a detection.
	ThumbnailName func(loop, entryID string, at time.Time) string
	Now           func() time.Time
}

type submission struct {
	generation    uint64
	requireActive bool
}

// Loop owns one source, one backend, the current result and the history.
//
// At most one classification is outstanding at any time. Every activation,
// deactivation and submission bumps the generation; a response whose
// generation is no longer current is discarded without touching state.
type Loop struct {
	name      string
	source    capture.Source
	backend   classify.Backend
	interval  time.Duration
	timeout   time.Duration
	threshold float64
	publisher Publisher
	logger    *logger.Logger
	thumbName func(loop, entryID string, at time.Time) string
	now       func() time.Time

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	// toggleMu serializes Activate, Deactivate and Close.
	toggleMu sync.Mutex
	// pubMu is held from a change of the current result until its event is
	// published, so subscribers see results in the order they were applied.
	// Lock order: toggleMu, pubMu, mu.
	pubMu sync.Mutex

	mu          sync.Mutex
	active      bool
	closed      bool
	generation  uint64
	inFlight    bool
	inFlightGen uint64
	current     *dto.ClassificationResult
	history     *History
	stopTicker  context.CancelFunc
}

// New creates an idle loop.
func New(source capture.Source, backend classify.Backend, opts Options) (*Loop, error) {
	if source == nil || backend == nil {
		return nil, fmt.Errorf("loop %s: source and backend are required", opts.Name)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("loop %s: interval must be positive", opts.Name)
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("loop %s: logger is required", opts.Name)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = opts.Interval
	}
	threshold := config.DefaultThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = config.DefaultHistoryLimit
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Loop{
		name:       opts.Name,
		source:     source,
		backend:    backend,
		interval:   opts.Interval,
		timeout:    timeout,
		threshold:  threshold,
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		thumbName:  opts.ThumbnailName,
		now:        now,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		history:    NewHistory(historyLimit),
	}, nil
}

func (l *Loop) Name() string { return l.name }

// Activate switches the source on, clears the current result and starts the
// timer. Activating an active loop is a no-op.
func (l *Loop) Activate() error {
	l.toggleMu.Lock()
	defer l.toggleMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.active {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := l.source.Activate(); err != nil {
		return fmt.Errorf("failed to activate source %s: %w", l.source.Name(), err)
	}

	tickerCtx, stop := context.WithCancel(l.baseCtx)

	l.pubMu.Lock()
	l.mu.Lock()
	l.active = true
	l.generation++
	l.current = nil
	l.stopTicker = stop
	l.mu.Unlock()
	l.publishResult(nil)
	l.pubMu.Unlock()

	l.wg.Add(1)
	go l.run(tickerCtx)

	l.logger.Info("Loop %s activated (source %s, backend %s, every %v)", l.name, l.source.Name(), l.backend.Name(), l.interval)
	return nil
}

// Deactivate stops the timer, switches the source off and clears the current
// result. An in-flight request is not aborted but its answer is discarded.
// History is kept.
func (l *Loop) Deactivate() error {
	l.toggleMu.Lock()
	defer l.toggleMu.Unlock()
	return l.deactivate()
}

func (l *Loop) deactivate() error {
	l.pubMu.Lock()
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		l.pubMu.Unlock()
		return nil
	}
	l.active = false
	l.generation++
	l.current = nil
	stop := l.stopTicker
	l.stopTicker = nil
	l.mu.Unlock()
	l.publishResult(nil)
	l.pubMu.Unlock()

	stop()

	err := l.source.Deactivate()
	if err != nil {
		l.logger.Warning("Loop %s: failed to deactivate source %s: %v", l.name, l.source.Name(), err)
	}

	l.logger.Info("Loop %s deactivated", l.name)
	return err
}

// Close tears the loop down: the timer is cancelled, in-flight requests are
// aborted and the ticker goroutine is awaited.
func (l *Loop) Close() error {
	l.toggleMu.Lock()
	defer l.toggleMu.Unlock()

	err := l.deactivate()

	l.mu.Lock()
	l.closed = true
	l.generation++
	l.mu.Unlock()

	l.cancelBase()
	l.wg.Wait()
	return err
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// a deactivation racing with the tick wins
			if ctx.Err() != nil {
				return
			}
			l.logTick(l.Tick(l.baseCtx))
		}
	}
}

func (l *Loop) logTick(err error) {
	switch {
	case err == nil:
	case errors.Is(err, capture.ErrSourceInactive),
		errors.Is(err, capture.ErrNoFrame),
		errors.Is(err, classify.ErrBackendNotReady),
		errors.Is(err, ErrInFlight),
		errors.Is(err, ErrStale),
		errors.Is(err, ErrClosed):
		l.logger.Debug("Loop %s: tick skipped: %v", l.name, err)
	case errors.Is(err, ErrClassificationFailed):
		// logged where it happened
	default:
		l.logger.Warning("Loop %s: tick failed: %v", l.name, err)
	}
}

// Tick runs one capture-classify step. It returns nil when a result was
// applied; every other outcome is reported as an error the caller may
// ignore, since none of them change state.
func (l *Loop) Tick(ctx context.Context) error {
	l.mu.Lock()
	active, busy := l.active, l.inFlight
	l.mu.Unlock()

	if !active {
		return capture.ErrSourceInactive
	}
	if busy {
		return ErrInFlight
	}

	sample, err := l.source.Sample()
	if err != nil {
		return err
	}
	if sample.Empty() {
		return capture.ErrNoFrame
	}

	if !l.backend.Ready() {
		return classify.ErrBackendNotReady
	}

	at := l.now()
	sub, err := l.claim(true)
	if err != nil {
		return err
	}

	_, err = l.complete(ctx, sub, sample, at)
	return err
}

// Submit classifies a single still image through the same guard as the
// timer. The source does not need to be active. A pending timer submission
// is superseded by this one.
func (l *Loop) Submit(ctx context.Context, sample dto.Sample) (*dto.ClassificationResult, error) {
	if sample.Empty() {
		return nil, fmt.Errorf("empty sample")
	}
	if !l.backend.Ready() {
		return nil, classify.ErrBackendNotReady
	}

	sub, err := l.claim(false)
	if err != nil {
		return nil, err
	}
	return l.complete(ctx, sub, sample, l.now())
}

func (l *Loop) claim(requireActive bool) (submission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return submission{}, ErrClosed
	}
	if requireActive && !l.active {
		return submission{}, capture.ErrSourceInactive
	}
	if l.inFlight {
		return submission{}, ErrInFlight
	}

	l.generation++
	l.inFlight = true
	l.inFlightGen = l.generation
	return submission{generation: l.generation, requireActive: requireActive}, nil
}

func (l *Loop) complete(ctx context.Context, sub submission, sample dto.Sample, at time.Time) (*dto.ClassificationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	candidates, err := l.backend.Classify(callCtx, sample)
	cancel()

	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	l.inFlight = false

	if sub.generation != l.generation || (sub.requireActive && !l.active) || l.closed {
		l.mu.Unlock()
		l.logger.Debug("Loop %s: discarding stale response (generation %d)", l.name, sub.generation)
		return nil, ErrStale
	}

	if err == nil && len(candidates) == 0 {
		err = classify.ErrMalformedResponse
	}
	if err != nil {
		l.mu.Unlock()
		l.logger.Error("Loop %s: classification failed: %v", l.name, err)
		return nil, fmt.Errorf("%w: %w", ErrClassificationFailed, err)
	}

	best, _ := classify.SelectBest(candidates)
	result := &dto.ClassificationResult{
		Label:       best.ClassName,
		Confidence:  best.Probability,
		BoundingBox: best.BoundingBox,
		At:          at,
	}
	l.current = result

	var entry *dto.HistoryEntry
	if best.Probability > l.threshold {
		e := dto.HistoryEntry{
			ID:         uuid.NewString(),
			Label:      best.ClassName,
			Confidence: best.Probability,
			Timestamp:  at,
		}
		if l.thumbName != nil {
			e.Thumbnail = l.thumbName(l.name, e.ID, at)
		}
		l.history.Push(e)
		entry = &e
	}
	l.mu.Unlock()

	l.publishResult(result)
	if entry != nil {
		l.logger.Info("Loop %s: detected %s (%.2f%%)", l.name, entry.Label, entry.Confidence*100)
		l.publish(TopicDetection, dto.LoopEvent{
			Type:   EventDetection,
			Loop:   l.name,
			Result: copyResult(result),
			Entry:  entry,
			Sample: &sample,
		})
	}

	return copyResult(result), nil
}

// ClearResult drops the current result. History is untouched.
func (l *Loop) ClearResult() {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	l.current = nil
	l.mu.Unlock()
	l.publishResult(nil)
}

// Current returns a copy of the current result, or nil.
func (l *Loop) Current() *dto.ClassificationResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyResult(l.current)
}

// History returns the detection history, newest first.
func (l *Loop) History() []dto.HistoryEntry {
	return l.history.Entries()
}

// Active reports whether the source is switched on.
func (l *Loop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// State reports idle, sampling or classifying.
func (l *Loop) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

func (l *Loop) stateLocked() string {
	switch {
	case l.inFlight && l.inFlightGen == l.generation:
		return StateClassifying
	case l.active:
		return StateSampling
	default:
		return StateIdle
	}
}

// Snapshot returns the externally visible state.
func (l *Loop) Snapshot() dto.LoopSnapshot {
	l.mu.Lock()
	snap := dto.LoopSnapshot{
		Name:       l.name,
		Backend:    l.backend.Name(),
		Source:     l.source.Name(),
		State:      l.stateLocked(),
		Active:     l.active,
		IntervalMS: l.interval.Milliseconds(),
		Current:    copyResult(l.current),
	}
	l.mu.Unlock()

	snap.Ready = l.backend.Ready()
	snap.History = l.history.Entries()
	return snap
}

func (l *Loop) publishResult(result *dto.ClassificationResult) {
	l.publish(TopicResult, dto.LoopEvent{Type: EventResult, Loop: l.name, Result: copyResult(result)})
}

func (l *Loop) publish(topic string, event dto.LoopEvent) {
	if l.publisher == nil {
		return
	}
	l.publisher.Publish(topic, event)
}

func copyResult(r *dto.ClassificationResult) *dto.ClassificationResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.BoundingBox != nil {
		box := *r.BoundingBox
		c.BoundingBox = &box
	}
	return &c
}
