package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ecobin/internal/config"
	"ecobin/internal/handler"
	"ecobin/internal/logger"
	"ecobin/internal/repository/sqlite"
	"ecobin/internal/routes"
	"ecobin/internal/service"
	"ecobin/internal/service/capture"
	"ecobin/internal/service/capture/webcam"
	"ecobin/internal/service/classify/dnn"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Hour
)

type App struct {
	config  *config.Config
	logger  *logger.Logger
	db      *sqlite.DB
	webcams *capture.Devices
	manager *service.Manager
}

// NewApp loads the configuration and builds every service. Nothing runs
// until Run is called.
func NewApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	webcams := webcam.NewRegistry()
	mng, err := service.NewManager(cfg, log, service.Dependencies{
		OpenWebcam: func(device string) (capture.Source, error) {
			return webcam.NewSource(webcams, device), nil
		},
		ModelLoader:   dnn.Load,
		DetectionRepo: sqlite.NewDetectionRepository(db),
	})
	if err != nil {
		db.Close()
		log.Close()
		return nil, err
	}

	return &App{
		config:  cfg,
		logger:  log,
		db:      db,
		webcams: webcams,
		manager: mng,
	}, nil
}

// Run serves until SIGINT or SIGTERM, then shuts everything down.
func (a *App) Run() error {
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           routes.SetupRoutes(a.manager, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group.Go(func() error { return a.manager.GetWebsocketService().Run(groupCtx) })
	group.Go(func() error { return a.manager.GetBufferService().Run(groupCtx) })
	group.Go(func() error { return a.manager.PrepareBackends(groupCtx) })

	if a.config.CamerasPort > 0 {
		group.Go(func() error { return handler.UDPCameraHandler(groupCtx, a.manager, a.logger) })
	}
	if a.config.DetectionRetention > 0 {
		group.Go(func() error { return a.pruneDetections(groupCtx) })
	}

	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	a.logger.Info("Waste detection server listening on http://localhost:%d", a.config.Port)
	a.logger.Info("Loops: %d, thumbnails: %s, database: %s", len(a.manager.Loops()), a.config.ThumbnailDirectory, a.config.DatabasePath)

	a.manager.ActivateAutostart()

	err := group.Wait()
	a.logger.Info("Shutting down")
	return err
}

// pruneDetections deletes detections older than the retention window.
func (a *App) pruneDetections(ctx context.Context) error {
	repo := a.manager.DetectionRepository()
	prune := func() {
		removed, err := repo.DeleteBefore(time.Now().Add(-a.config.DetectionRetention))
		if err != nil {
			a.logger.Error("Failed to prune detections: %v", err)
			return
		}
		if removed > 0 {
			a.logger.Info("Pruned %d detection(s)", removed)
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			prune()
		}
	}
}

func (a *App) close() {
	a.manager.Close()
	a.webcams.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warning("Failed to close database: %v", err)
	}
	a.logger.Close()
}
