package detector

import (
	"context"
	"sync"
	"testing"
	"time"

	"ecobin/internal/dto"
	"ecobin/internal/logger"
	"ecobin/internal/service/capture"
)

type fakeSource struct {
	mu     sync.Mutex
	active bool
	sample dto.Sample
	err    error
}

func newFakeSource() *fakeSource {
	return &fakeSource{sample: dto.Sample{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, ContentType: "image/jpeg"}}
}

func (s *fakeSource) Name() string { return "fake:0" }

func (s *fakeSource) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	return nil
}

func (s *fakeSource) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return nil
}

func (s *fakeSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *fakeSource) Sample() (dto.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return dto.Sample{}, capture.ErrSourceInactive
	}
	if s.err != nil {
		return dto.Sample{}, s.err
	}
	return s.sample, nil
}

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// fakeBackend answers with a fixed candidate list. When block is set, each
// call announces itself on started and waits for release or ctx.
type fakeBackend struct {
	mu         sync.Mutex
	ready      bool
	candidates []dto.Candidate
	err        error
	calls      int

	block   bool
	started chan struct{}
	release chan struct{}
}

func newFakeBackend(candidates ...dto.Candidate) *fakeBackend {
	return &fakeBackend{
		ready:      true,
		candidates: candidates,
		started:    make(chan struct{}, 16),
		release:    make(chan struct{}),
	}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *fakeBackend) Classify(ctx context.Context, sample dto.Sample) ([]dto.Candidate, error) {
	b.mu.Lock()
	b.calls++
	block := b.block
	candidates, err := b.candidates, b.err
	b.mu.Unlock()

	if block {
		b.started <- struct{}{}
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return candidates, err
}

func (b *fakeBackend) set(candidates []dto.Candidate, err error) {
	b.mu.Lock()
	b.candidates, b.err = candidates, err
	b.mu.Unlock()
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type publishedEvent struct {
	topic string
	event dto.LoopEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(topic string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, event: args[0].(dto.LoopEvent)})
}

func (p *recordingPublisher) byTopic(topic string) []dto.LoopEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []dto.LoopEvent
	for _, e := range p.events {
		if e.topic == topic {
			out = append(out, e.event)
		}
	}
	return out
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(t.TempDir(), false)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(log.Close)
	return log
}

// newTestLoop builds a loop whose timer never fires on its own, so tests
// drive it through Tick.
func newTestLoop(t *testing.T, source *fakeSource, backend *fakeBackend, opts Options) (*Loop, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	if opts.Name == "" {
		opts.Name = "test"
	}
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	opts.Publisher = pub
	opts.Logger = newTestLogger(t)

	loop, err := New(source, backend, opts)
	if err != nil {
		t.Fatalf("Failed to create loop: %v", err)
	}
	t.Cleanup(func() { loop.Close() })
	return loop, pub
}

func waitStarted(t *testing.T, b *fakeBackend) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(2 * time.Second):
		t.Fatal("backend was never called")
	}
}

// gatedPublisher holds the first non-nil result event until release is
// closed, signalling on entered when it starts waiting.
type gatedPublisher struct {
	recordingPublisher
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *gatedPublisher) Publish(topic string, args ...interface{}) {
	if event := args[0].(dto.LoopEvent); topic == TopicResult && event.Result != nil {
		p.once.Do(func() {
			close(p.entered)
			<-p.release
		})
	}
	p.recordingPublisher.Publish(topic, args...)
}
