package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"ecobin/internal/config"
	"ecobin/internal/dto"
	"ecobin/internal/logger"
	"ecobin/internal/service/capture"
)

const timestampLayout = "2006-01-02_15-04-05.000"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

type bufferedThumbnail struct {
	Filename string
	Loop     string
	Data     []byte
}

// BufferService keeps detection thumbnails in memory and periodically
// flushes them to disk. Each loop may hold at most limit thumbnails between
// flushes; extra detections keep their name but get no file.
type BufferService struct {
	dir         string
	limit       int
	size        int
	interval    time.Duration
	images      []bufferedThumbnail
	bufferCount map[string]int
	mu          sync.Mutex
	logger      *logger.Logger
}

// NewBufferService creates a thumbnail buffer from the configuration.
func NewBufferService(cfg *config.Config, logger *logger.Logger) *BufferService {
	interval := time.Duration(cfg.ThumbnailFlushInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	size := cfg.ThumbnailSize
	if size <= 0 {
		size = 160
	}
	return &BufferService{
		dir:         cfg.ThumbnailDirectory,
		limit:       cfg.ThumbnailBufferLimit,
		size:        size,
		interval:    interval,
		bufferCount: make(map[string]int),
		logger:      logger,
	}
}

// Dir is the directory thumbnails are flushed to.
func (s *BufferService) Dir() string { return s.dir }

// Name builds the thumbnail filename for a history entry. It is known before
// the file exists so the entry can reference it immediately.
func Name(loop, entryID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.jpg", at.UTC().Format(timestampLayout), unsafeName.ReplaceAllString(loop, "-"), entryID)
}

// HandleDetection thumbnails the detection sample and buffers it under the
// entry's thumbnail name.
func (s *BufferService) HandleDetection(event dto.LoopEvent) {
	if event.Entry == nil || event.Entry.Thumbnail == "" || event.Sample == nil {
		return
	}

	thumb, err := capture.Thumbnail(event.Sample.Data, s.size)
	if err != nil {
		s.logger.Warning("Failed to thumbnail detection %s: %v", event.Entry.ID, err)
		return
	}
	s.Add(event.Loop, event.Entry.Thumbnail, thumb)
}

// Add buffers one thumbnail unless the loop already reached its limit.
func (s *BufferService) Add(loop, filename string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit > 0 && s.bufferCount[loop] >= s.limit {
		s.logger.Debug("Thumbnail buffer full for loop %s, dropping %s", loop, filename)
		return false
	}

	s.images = append(s.images, bufferedThumbnail{Filename: filename, Loop: loop, Data: data})
	s.bufferCount[loop]++
	return true
}

// Pending reports how many thumbnails wait for the next flush.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// Run flushes on a ticker until ctx is cancelled, then flushes once more.
func (s *BufferService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return nil
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Flush writes buffered thumbnails to disk and resets per-loop counters.
func (s *BufferService) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.images) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		s.logger.Error("Error creating thumbnail directory: %v", err)
		return 0
	}

	saved := 0
	for _, image := range s.images {
		path := filepath.Join(s.dir, image.Filename)
		if err := os.WriteFile(path, image.Data, 0644); err != nil {
			s.logger.Error("Error saving thumbnail %s: %v", image.Filename, err)
			continue
		}
		saved++
	}

	s.logger.Info("Flushed %d thumbnails to disk", saved)
	s.images = s.images[:0]
	s.bufferCount = make(map[string]int)
	return saved
}
