package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"golang.org/x/sync/errgroup"

	"ecobin/internal/config"
	"ecobin/internal/dto"
	"ecobin/internal/logger"
	"ecobin/internal/model"
	"ecobin/internal/repository"
	"ecobin/internal/service/capture"
	"ecobin/internal/service/classify"
	"ecobin/internal/service/detector"
	"ecobin/internal/service/report"
	"ecobin/internal/service/storage"
	"ecobin/internal/service/websocket"
)

// ErrUnknownLoop is returned for a loop name that is not configured.
var ErrUnknownLoop = errors.New("unknown loop")

// Dependencies are the pieces the manager cannot build on its own.
// OpenWebcam and ModelLoader are only needed when a loop uses them.
type Dependencies struct {
	OpenWebcam    func(device string) (capture.Source, error)
	ModelLoader   classify.ModelLoader
	DetectionRepo repository.DetectionRepository
	HTTPClient    *http.Client
}

// Manager owns every loop, the shared backends and the event fan-out.
type Manager struct {
	cfg    *config.Config
	logger *logger.Logger
	deps   Dependencies
	bus    evbus.Bus

	loops  map[string]*detector.Loop
	order  []string
	pushed map[string][]*capture.Pushed

	remote *classify.Remote
	local  *classify.Local
	ollama *classify.Ollama
	server classify.Backend

	websocketService *websocket.HubService
	bufferService    *storage.BufferService
	reporter         *report.Reporter

	closeOnce sync.Once
}

// NewManager builds the loops from cfg.Loops and subscribes the viewers,
// the detection log, the thumbnail buffer and the reporter to loop events.
func NewManager(cfg *config.Config, logger *logger.Logger, deps Dependencies) (*Manager, error) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}

	m := &Manager{
		cfg:              cfg,
		logger:           logger,
		deps:             deps,
		bus:              evbus.New(),
		loops:            make(map[string]*detector.Loop),
		pushed:           make(map[string][]*capture.Pushed),
		websocketService: websocket.NewHubService(logger),
		bufferService:    storage.NewBufferService(cfg, logger),
	}
	if cfg.DetectionsURL != "" {
		m.reporter = report.NewReporter(cfg.DetectionsURL, cfg.Threshold, &http.Client{Timeout: 10 * time.Second}, logger)
	}

	for _, lc := range cfg.Loops {
		if err := m.addLoop(lc); err != nil {
			m.closeLoops()
			return nil, err
		}
	}

	if cfg.ServerBackend != "" {
		backend, err := m.backend(cfg.ServerBackend)
		if err != nil {
			m.closeLoops()
			return nil, fmt.Errorf("server backend: %w", err)
		}
		m.server = backend
	}

	if err := m.subscribe(); err != nil {
		m.closeLoops()
		return nil, err
	}

	m.logger.Info("Manager started with %d loop(s)", len(m.order))
	return m, nil
}

func (m *Manager) addLoop(lc config.LoopConfig) error {
	if err := lc.Validate(); err != nil {
		return err
	}
	if _, exists := m.loops[lc.Name]; exists {
		return fmt.Errorf("duplicate loop %q", lc.Name)
	}

	source, err := m.source(lc.Source)
	if err != nil {
		return fmt.Errorf("loop %s: %w", lc.Name, err)
	}
	backend, err := m.backend(lc.Backend)
	if err != nil {
		return fmt.Errorf("loop %s: %w", lc.Name, err)
	}

	threshold := m.cfg.Threshold
	loop, err := detector.New(source, backend, detector.Options{
		Name:          lc.Name,
		Interval:      lc.Interval,
		Timeout:       lc.RequestTimeout(),
		Threshold:     &threshold,
		HistoryLimit:  m.cfg.HistoryLimit,
		Publisher:     m.bus,
		Logger:        m.logger,
		ThumbnailName: storage.Name,
	})
	if err != nil {
		return err
	}

	m.loops[lc.Name] = loop
	m.order = append(m.order, lc.Name)
	return nil
}

func (m *Manager) source(def string) (capture.Source, error) {
	kind, arg, err := config.ParseSource(def)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "camera":
		p := capture.NewPushed(arg, m.cfg.FrameFreshness)
		m.pushed[arg] = append(m.pushed[arg], p)
		return p, nil
	default:
		if m.deps.OpenWebcam == nil {
			return nil, fmt.Errorf("webcam sources are not available")
		}
		return m.deps.OpenWebcam(arg)
	}
}

// backend returns the shared instance for kind, creating it on first use.
func (m *Manager) backend(kind string) (classify.Backend, error) {
	switch kind {
	case config.BackendRemote:
		if m.remote == nil {
			m.remote = classify.NewRemote(m.cfg.ClassifyURL, m.deps.HTTPClient)
		}
		return m.remote, nil

	case config.BackendLocal:
		if m.local == nil {
			if m.deps.ModelLoader == nil {
				return nil, fmt.Errorf("local backend has no model loader")
			}
			m.local = classify.NewLocal(m.deps.ModelLoader)
		}
		return m.local, nil

	case config.BackendOllama:
		if m.ollama == nil {
			if m.cfg.OllamaURL == "" {
				return nil, fmt.Errorf("ollama backend requires OLLAMA_URL")
			}
			o, err := classify.NewOllama(m.cfg.OllamaURL, m.cfg.OllamaModel, m.cfg.OllamaLabels, m.deps.HTTPClient)
			if err != nil {
				return nil, err
			}
			m.ollama = o
		}
		return m.ollama, nil
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}

func (m *Manager) subscribe() error {
	subs := []struct {
		topic string
		fn    interface{}
	}{
		{detector.TopicResult, m.websocketService.HandleEvent},
		{detector.TopicDetection, m.websocketService.HandleEvent},
		{detector.TopicDetection, m.bufferService.HandleDetection},
		{detector.TopicDetection, m.recordDetection},
	}
	if m.reporter != nil {
		subs = append(subs, struct {
			topic string
			fn    interface{}
		}{detector.TopicDetection, m.reporter.HandleDetection})
	}

	for _, s := range subs {
		if err := m.bus.SubscribeAsync(s.topic, s.fn, true); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", s.topic, err)
		}
	}
	return nil
}

// recordDetection stores a detection event in the detection log.
func (m *Manager) recordDetection(event dto.LoopEvent) {
	if m.deps.DetectionRepo == nil || event.Entry == nil {
		return
	}

	det := &model.Detection{
		Source:     "loop:" + event.Loop,
		ObjectType: event.Entry.Label,
		Confidence: event.Entry.Confidence,
		Thumbnail:  event.Entry.Thumbnail,
		Timestamp:  event.Entry.Timestamp,
	}
	if event.Result != nil && event.Result.BoundingBox != nil {
		box := event.Result.BoundingBox
		det.X, det.Y, det.Width, det.Height = box.X, box.Y, box.Width, box.Height
	}

	if _, err := m.deps.DetectionRepo.Insert(det); err != nil {
		m.logger.Error("Failed to record detection for loop %s: %v", event.Loop, err)
	}
}

// PrepareBackends loads the local model and warms up Ollama concurrently.
// A failure leaves that backend not ready; loops keep skipping ticks.
func (m *Manager) PrepareBackends(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if m.local != nil {
		g.Go(func() error {
			m.logger.Info("Loading model %s", m.cfg.ModelPath)
			if err := m.local.Load(ctx, m.cfg.ModelPath, m.cfg.MetadataPath); err != nil {
				m.logger.Error("Local backend unavailable: %v", err)
				return nil
			}
			m.logger.Info("Model loaded")
			return nil
		})
	}
	if m.ollama != nil {
		g.Go(func() error {
			if err := m.ollama.Warmup(ctx); err != nil {
				m.logger.Error("Ollama backend unavailable: %v", err)
				return nil
			}
			m.logger.Info("Ollama model %s ready", m.cfg.OllamaModel)
			return nil
		})
	}
	return g.Wait()
}

// ActivateAutostart switches on every loop configured with autostart.
func (m *Manager) ActivateAutostart() {
	for _, lc := range m.cfg.Loops {
		if !lc.Autostart {
			continue
		}
		if err := m.loops[lc.Name].Activate(); err != nil {
			m.logger.Error("Failed to autostart loop %s: %v", lc.Name, err)
		}
	}
}

// Loop returns the named loop.
func (m *Manager) Loop(name string) (*detector.Loop, error) {
	loop, ok := m.loops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLoop, name)
	}
	return loop, nil
}

// Loops returns every loop in configuration order.
func (m *Manager) Loops() []*detector.Loop {
	out := make([]*detector.Loop, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.loops[name])
	}
	return out
}

// Cameras lists camera names that loops listen to.
func (m *Manager) Cameras() []string {
	out := make([]string, 0, len(m.pushed))
	for name := range m.pushed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HandleCameraFrame routes a pushed frame to every source bound to camera.
// It reports whether any active source accepted the frame.
func (m *Manager) HandleCameraFrame(camera string, frame []byte) bool {
	accepted := false
	for _, p := range m.pushed[camera] {
		if p.Push(frame) {
			accepted = true
		}
	}
	return accepted
}

// ServerBackend answers POST /public/classify. It may be nil.
func (m *Manager) ServerBackend() classify.Backend {
	return m.server
}

func (m *Manager) Config() *config.Config {
	return m.cfg
}

func (m *Manager) DetectionRepository() repository.DetectionRepository {
	return m.deps.DetectionRepo
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.websocketService
}

func (m *Manager) GetBufferService() *storage.BufferService {
	return m.bufferService
}

// Close stops every loop, drains pending event handlers, flushes buffered
// thumbnails and releases the local model.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.closeLoops()
		m.bus.WaitAsync()
		m.bufferService.Flush()
		if m.reporter != nil {
			m.reporter.Wait()
		}
		if m.local != nil {
			if err := m.local.Close(); err != nil {
				m.logger.Warning("Failed to release model: %v", err)
			}
		}
		m.logger.Info("All loops stopped")
	})
}

func (m *Manager) closeLoops() {
	for _, name := range m.order {
		if err := m.loops[name].Close(); err != nil {
			m.logger.Warning("Loop %s closed with error: %v", name, err)
		}
	}
}
