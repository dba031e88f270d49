package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ecobin/internal/config"
	"ecobin/internal/dto"
	"ecobin/internal/model"
	"ecobin/internal/repository/sqlite"
	"ecobin/internal/service/capture"
	"ecobin/internal/service/classify"
	"ecobin/internal/service/classify/dnn"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred closes always happen.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	backendName := flag.String("backend", config.BackendRemote, "Backend: remote, local or ollama")
	classifyURL := flag.String("url", cfg.ClassifyURL, "Remote classify endpoint")
	modelPath := flag.String("model", cfg.ModelPath, "Model path or URL (local backend)")
	metadataPath := flag.String("metadata", cfg.MetadataPath, "Metadata path or URL (local backend)")
	dbPath := flag.String("db", "", "Record confident detections in this database")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-image classification timeout")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: classify [flags] <image or directory>...")
		flag.PrintDefaults()
		return 2
	}

	ctx := context.Background()

	backend, cleanup, err := openBackend(ctx, *backendName, *classifyURL, *modelPath, *metadataPath, cfg)
	if err != nil {
		log.Printf("Failed to prepare %s backend: %v", *backendName, err)
		return 1
	}
	defer cleanup()

	var repo *sqlite.DetectionRepository
	if *dbPath != "" {
		db, err := sqlite.New(*dbPath)
		if err != nil {
			log.Printf("Failed to open database: %v", err)
			return 1
		}
		defer db.Close()
		repo = sqlite.NewDetectionRepository(db)
	}

	files, err := collectImages(flag.Args())
	if err != nil {
		log.Printf("Failed to collect images: %v", err)
		return 1
	}

	classified, recorded, failed := 0, 0, 0
	for _, path := range files {
		best, err := classifyFile(ctx, backend, path, cfg.MaxStillDimension, *timeout)
		if err != nil {
			log.Printf("%s: %v", path, err)
			failed++
			continue
		}
		classified++
		fmt.Printf("%s: %s (%.2f%%)\n", path, best.ClassName, best.Probability*100)

		if repo == nil || best.Probability <= cfg.Threshold {
			continue
		}
		if err := record(repo, backend.Name(), path, best); err != nil {
			log.Printf("%s: failed to record detection: %v", path, err)
			continue
		}
		recorded++
	}

	fmt.Printf("\nClassified: %d, recorded: %d, failed: %d\n", classified, recorded, failed)
	if failed > 0 {
		return 1
	}
	return 0
}

func record(repo *sqlite.DetectionRepository, backend, path string, best dto.Candidate) error {
	det := &model.Detection{
		Source:     "cli:" + backend,
		ObjectType: best.ClassName,
		Confidence: best.Probability,
		Thumbnail:  filepath.Base(path),
		Timestamp:  time.Now(),
	}
	if box := best.BoundingBox; box != nil {
		det.X, det.Y, det.Width, det.Height = box.X, box.Y, box.Width, box.Height
	}
	_, err := repo.Insert(det)
	return err
}

func openBackend(ctx context.Context, name, classifyURL, modelPath, metadataPath string, cfg *config.Config) (classify.Backend, func(), error) {
	noop := func() {}

	switch name {
	case config.BackendRemote:
		return classify.NewRemote(classifyURL, &http.Client{}), noop, nil

	case config.BackendLocal:
		local := classify.NewLocal(dnn.Load)
		if err := local.Load(ctx, modelPath, metadataPath); err != nil {
			return nil, nil, err
		}
		return local, func() { local.Close() }, nil

	case config.BackendOllama:
		o, err := classify.NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaLabels, nil)
		if err != nil {
			return nil, nil, err
		}
		if err := o.Warmup(ctx); err != nil {
			return nil, nil, err
		}
		return o, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", name)
}

// collectImages expands directories (one level) into their image files.
func collectImages(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
				continue
			}
			files = append(files, filepath.Join(arg, entry.Name()))
		}
	}
	return files, nil
}

func classifyFile(ctx context.Context, backend classify.Backend, path string, maxDim int, timeout time.Duration) (dto.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dto.Candidate{}, err
	}

	sample, err := capture.NormalizeStill(data, maxDim)
	if err != nil {
		return dto.Candidate{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	candidates, err := backend.Classify(ctx, sample)
	if err != nil {
		return dto.Candidate{}, err
	}

	best, ok := classify.SelectBest(candidates)
	if !ok {
		return dto.Candidate{}, classify.ErrMalformedResponse
	}
	return best, nil
}
