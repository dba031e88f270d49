package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultThreshold is the confidence above which a result enters history.
	DefaultThreshold = 0.7
	// DefaultHistoryLimit bounds the per-loop detection history.
	DefaultHistoryLimit = 10
)

// Backend kinds accepted in loop definitions.
const (
	BackendRemote = "remote"
	BackendLocal  = "local"
	BackendOllama = "ollama"
)

// LoopConfig describes one capture-classify loop.
type LoopConfig struct {
	Name      string        `yaml:"name"`
	Source    string        `yaml:"source"`  // "webcam:<device>" or "camera:<name>"
	Backend   string        `yaml:"backend"` // remote, local or ollama
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"` // zero means same as Interval
	Autostart bool          `yaml:"autostart"`
}

type Config struct {
	Port         int
	CamerasPort  int               // UDP port for JPEG camera frames, 0 disables
	CameraNames  map[string]string // camera IP -> camera name
	DatabasePath string
	LogDirectory string

	ClassifyURL   string // remote backend endpoint
	DetectionsURL string // upstream detection log, empty disables reporting

	ModelPath    string
	MetadataPath string

	OllamaURL    string
	OllamaModel  string
	OllamaLabels []string

	ServerBackend string // backend answering POST /public/classify

	Threshold    float64
	HistoryLimit int

	ThumbnailDirectory     string
	ThumbnailBufferLimit   int
	ThumbnailFlushInterval int // seconds
	ThumbnailSize          int

	MaxUploadBytes    int64
	MaxStillDimension int
	FrameFreshness    time.Duration

	DetectionRetention time.Duration // zero keeps detections forever

	Loops []LoopConfig
}

// Load reads an optional .env file, then the environment, then the optional
// YAML loop definitions referenced by LOOPS_FILE.
func Load() (*Config, error) {
	// a missing .env is fine, the process environment still applies
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnvAsInt("PORT", 8080),
		CamerasPort:            getEnvAsInt("CAMERAS_PORT", 0),
		CameraNames:            getEnvAsMap("CAMERA_NAMES"),
		DatabasePath:           getEnv("DB_PATH", filepath.Join(".", "data", "detections.db")),
		LogDirectory:           getEnv("LOG_DIR", filepath.Join(".", "logs")),
		ClassifyURL:            getEnv("CLASSIFY_URL", "http://localhost:8080/public/classify"),
		DetectionsURL:          getEnv("DETECTIONS_URL", ""),
		ModelPath:              getEnv("MODEL_PATH", filepath.Join(".", "model", "model.onnx")),
		MetadataPath:           getEnv("METADATA_PATH", filepath.Join(".", "model", "metadata.json")),
		OllamaURL:              getEnv("OLLAMA_URL", ""),
		OllamaModel:            getEnv("OLLAMA_MODEL", "llava"),
		OllamaLabels:           getEnvAsList("OLLAMA_LABELS", []string{"Plastic", "Metal", "Organic", "Glass", "Paper"}),
		ServerBackend:          getEnv("SERVER_BACKEND", BackendLocal),
		Threshold:              getEnvAsFloat("CONFIDENCE_THRESHOLD", DefaultThreshold),
		HistoryLimit:           getEnvAsInt("HISTORY_LIMIT", DefaultHistoryLimit),
		ThumbnailDirectory:     getEnv("THUMBNAIL_DIR", filepath.Join(".", "thumbnails")),
		ThumbnailBufferLimit:   getEnvAsInt("THUMBNAIL_BUFFER_LIMIT", 10),
		ThumbnailFlushInterval: getEnvAsInt("THUMBNAIL_FLUSH_INTERVAL", 30),
		ThumbnailSize:          getEnvAsInt("THUMBNAIL_SIZE", 160),
		MaxUploadBytes:         getEnvAsInt64("MAX_UPLOAD_BYTES", 10<<20),
		MaxStillDimension:      getEnvAsInt("MAX_STILL_DIMENSION", 1024),
		FrameFreshness:         getEnvAsDuration("FRAME_FRESHNESS", 3*time.Second),
		DetectionRetention:     getEnvAsDuration("DETECTION_RETENTION", 0),
		Loops:                  DefaultLoops(),
	}

	if cfg.Threshold < 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0, 1), got %v", cfg.Threshold)
	}

	if path := getEnv("LOOPS_FILE", ""); path != "" {
		loops, err := LoadLoops(path)
		if err != nil {
			return nil, err
		}
		cfg.Loops = loops
	}

	return cfg, nil
}

// DefaultLoops mirrors the two detector views: a remote classifier polled
// every 5s and an in-process model polled every 1.5s, both on webcam 0.
func DefaultLoops() []LoopConfig {
	return []LoopConfig{
		{Name: "remote", Source: "webcam:0", Backend: BackendRemote, Interval: 5000 * time.Millisecond},
		{Name: "local", Source: "webcam:0", Backend: BackendLocal, Interval: 1500 * time.Millisecond},
	}
}

type loopsFile struct {
	Loops []LoopConfig `yaml:"loops"`
}

// LoadLoops parses a YAML file with a top-level "loops" list.
func LoadLoops(path string) ([]LoopConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read loops file: %w", err)
	}

	var file loopsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse loops file: %w", err)
	}

	seen := make(map[string]bool)
	for i, loop := range file.Loops {
		if err := loop.Validate(); err != nil {
			return nil, fmt.Errorf("loop %d: %w", i, err)
		}
		if seen[loop.Name] {
			return nil, fmt.Errorf("loop %d: duplicate name %q", i, loop.Name)
		}
		seen[loop.Name] = true
	}
	return file.Loops, nil
}

// Validate checks a loop definition for obviously broken values.
func (l LoopConfig) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("name is required")
	}
	if l.Interval <= 0 {
		return fmt.Errorf("loop %s: interval must be positive", l.Name)
	}
	switch l.Backend {
	case BackendRemote, BackendLocal, BackendOllama:
	default:
		return fmt.Errorf("loop %s: unknown backend %q", l.Name, l.Backend)
	}
	if _, _, err := ParseSource(l.Source); err != nil {
		return fmt.Errorf("loop %s: %w", l.Name, err)
	}
	return nil
}

// RequestTimeout falls back to the tick interval when no timeout is set.
func (l LoopConfig) RequestTimeout() time.Duration {
	if l.Timeout > 0 {
		return l.Timeout
	}
	return l.Interval
}

// ParseSource splits "webcam:0" or "camera:front" into kind and argument.
func ParseSource(source string) (kind, arg string, err error) {
	kind, arg, ok := strings.Cut(source, ":")
	if !ok || arg == "" {
		return "", "", fmt.Errorf("invalid source %q", source)
	}
	switch kind {
	case "webcam", "camera":
		return kind, arg, nil
	}
	return "", "", fmt.Errorf("unknown source kind %q", kind)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsMap parses "10.0.0.5=front,10.0.0.6=yard".
func getEnvAsMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range getEnvAsList(key, nil) {
		k, v, ok := strings.Cut(pair, "=")
		if ok && k != "" && v != "" {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}
