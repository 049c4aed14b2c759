package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"servalliance/internal/config"
	"servalliance/internal/logger"
	"servalliance/internal/metrics"
	"servalliance/internal/repository/sqlite"
	"servalliance/internal/routes"
	"servalliance/internal/services"
	"servalliance/internal/services/ai"
	"servalliance/internal/services/alert"
	"servalliance/internal/services/capture"
	"servalliance/internal/services/opencv"
	"servalliance/internal/services/storage"
	"servalliance/internal/services/stream"
	"servalliance/internal/services/websocket"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlite.DB
	engine     *ai.Engine
	registry   *capture.Registry
	dispatcher *alert.Dispatcher
	hubService *websocket.HubService
	mqtt       *alert.MQTTSink
	manager    *services.Manager
	server     *http.Server
}

// NewApp loads the configuration, the detection model and the alert store.
// Any failure here is fatal: no camera loop starts without a model.
func NewApp() (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.NewLogger(cfg.LogDirectory, cfg.Debug)
	if err != nil {
		return nil, err
	}

	a := &App{config: cfg, logger: log}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	cfg, log := a.config, a.logger
	m := metrics.New()

	labels, err := ai.LoadLabels(cfg.LabelsPath)
	if err != nil {
		log.Warning("No class labels (%v), using class indices", err)
		labels = ai.Labels{}
	}

	a.engine, err = ai.LoadEngine(cfg.InferenceWorkers, opencv.Loader(opencv.NetConfig{
		ModelPath:     cfg.ModelPath,
		ConfigPath:    cfg.ModelConfigPath,
		InputSize:     cfg.ModelInputSize,
		ConfThreshold: float32(cfg.ModelThreshold()),
		NMSThreshold:  float32(cfg.NMSThreshold),
	}), labels, m, log)
	if err != nil {
		return err
	}

	a.db, err = sqlite.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	alerts := sqlite.NewAlertRepository(a.db)

	clips, err := storage.NewClipWriter(cfg.ClipDirectory, cfg.ClipFPS, cfg.ClipExtension, opencv.NewVideoEncoder(cfg.ClipCodec))
	if err != nil {
		return err
	}

	a.hubService = websocket.NewHubService(log)
	sinks := []alert.Sink{
		alert.LogSink(log),
		alert.StoreSink(alerts),
		alert.BroadcastSink(a.hubService),
	}

	mqttCfg := alert.MQTTConfig{
		Host:  cfg.MQTTHost,
		Port:  cfg.MQTTPort,
		Topic: cfg.MQTTTopic,
		User:  cfg.MQTTUser,
		Pass:  cfg.MQTTPass,
	}
	if mqttCfg.Enabled() {
		if a.mqtt, err = alert.NewMQTTSink(mqttCfg, log); err != nil {
			log.Warning("MQTT alerts disabled: %v", err)
		} else {
			sinks = append(sinks, a.mqtt)
		}
	}

	a.dispatcher = alert.NewDispatcher(clips, alert.MultiSink(sinks...), alert.Options{
		Threshold: cfg.ConfThreshold,
		Workers:   cfg.ClipWorkers,
		QueueSize: cfg.ClipQueueSize,
	}, m, log)

	a.registry = capture.NewRegistry(opencv.NewOpener(), cfg.BufferCapacity, log)
	a.manager = services.NewManager(a.registry, stream.Deps{
		Detector:   a.engine,
		Annotate:   ai.Annotate,
		Dispatcher: a.dispatcher,
		Encoder:    stream.NewJPEGEncoder(cfg.JPEGQuality),
		Metrics:    m,
		Logger:     log,
	}, cfg, log)

	router := routes.SetupRoutes(routes.Dependencies{
		Manager: a.manager,
		Alerts:  alerts,
		Hub:     a.hubService,
		Metrics: m,
		Config:  cfg,
		Logger:  log,
	})
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Run serves HTTP until ctx is done or the server fails, then shuts down
// the camera loops, the alert hub and the server.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.hubService.Run(gctx)
	})

	g.Go(func() error {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("🛑 Shutting down")

		// Ends every open MJPEG response before the server waits for them.
		a.manager.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	a.logger.Info("🚀 Threat detection server")
	a.logger.Info("📍 URL: http://localhost:%d/video_feed?camera=%s", a.config.Port, a.config.DefaultCamera)
	a.logger.Info("📁 Clips: %s", a.config.ClipDirectory)
	a.logger.Info("🤖 AI Model: %s", a.config.ModelPath)

	return g.Wait()
}

// Close releases everything NewApp acquired. Pending clip jobs are finished
// before the alert store is closed.
func (a *App) Close() error {
	var errs []error
	if a.manager != nil {
		a.manager.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}
