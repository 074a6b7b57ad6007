package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/sentryvision/internal/api"
	"github.com/mikeyg42/sentryvision/internal/audit"
	"github.com/mikeyg42/sentryvision/internal/classify"
	"github.com/mikeyg42/sentryvision/internal/config"
	"github.com/mikeyg42/sentryvision/internal/escalate"
	"github.com/mikeyg42/sentryvision/internal/evidence"
	"github.com/mikeyg42/sentryvision/internal/framebuf"
	"github.com/mikeyg42/sentryvision/internal/notify"
	"github.com/mikeyg42/sentryvision/internal/tempstore"
	"github.com/mikeyg42/sentryvision/internal/videoproc"
)

const systemName = "SentryVision"

// Application holds every wired component so shutdown can walk them in
// order.
type Application struct {
	cfg        *config.Config
	buffers    *framebuf.Store
	classifier classify.Classifier
	engine     *escalate.Engine
	temp       *tempstore.Manager
	objects    evidence.ObjectStore
	dispatcher *notify.Dispatcher
	auditStore *audit.Store
	server     *api.Server
	logger     *zap.Logger
}

func main() {
	cfg := config.NewDefaultConfig()

	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg.LoadFromEnv()

	logger, err := newLogger(*debug)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	app.server.StartInBackground()
	logger.Info("service started", zap.String("addr", cfg.HTTPAddr))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	app.Shutdown()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// NewApplication wires the whole pipeline: buffers, classifier,
// escalation engine, temp-file manager, object storage, notification
// dispatcher, audit store, and the HTTP server on top.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	logger := zap.L().Named("app")

	buffers := framebuf.NewStore(framebuf.StoreConfig{
		LongWindow:      cfg.Buffer.LongWindow,
		TargetFPS:       cfg.Buffer.TargetFPS,
		IdleTimeout:     cfg.Buffer.IdleTimeout,
		JanitorInterval: cfg.Buffer.JanitorInterval,
	})

	classifier, err := classify.NewGeminiClassifier(ctx, classify.GeminiConfig{
		APIKey: cfg.Analysis.GeminiAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create classifier: %w", err)
	}

	engine := escalate.NewEngine(buffers, classifier, escalate.Config{
		ShortWindow:         cfg.Analysis.ShortWindow,
		LongWindow:          cfg.Analysis.LongWindow,
		MaxClassifierFrames: cfg.Analysis.MaxClassifierFrames,
		StageTimeout:        cfg.Analysis.StageTimeout,
		MaxParallel:         cfg.Analysis.MaxParallel,
	})

	temp, err := tempstore.NewManager(tempstore.Config{
		Dir:            cfg.Disk.TempDir,
		MinFreeBytes:   cfg.Disk.MinFreeBytes,
		WarnFreeBytes:  cfg.Disk.WarnFreeBytes,
		RoutineReapAge: cfg.Disk.RoutineReapAge,
	})
	if err != nil {
		return nil, fmt.Errorf("create temp manager: %w", err)
	}

	pipeline := videoproc.NewPipeline(temp, videoproc.PipelineConfig{
		TargetFPS:      float64(cfg.Video.TargetFPS),
		MaxUploadBytes: cfg.Video.MaxUploadBytes,
		QualityFactor:  cfg.Video.QualityFactor,
	})

	objects, err := evidence.NewMinIOStore(evidence.MinIOConfig{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UseSSL:          cfg.Storage.UseSSL,
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}
	links := evidence.NewLinkService(objects, cfg.Storage.KeyPrefix)

	transport, err := buildTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(transport, links, notify.Config{
		From:            cfg.Notify.From,
		FromName:        cfg.Notify.FromName,
		To:              cfg.Notify.To,
		MaxRetries:      cfg.Notify.MaxRetries,
		BaseDelay:       cfg.Notify.BaseDelay,
		MaxMessageBytes: cfg.Notify.MaxMessageBytes,
		LinkExpiry:      cfg.Notify.LinkExpiry,
	})

	var auditStore *audit.Store
	if cfg.Database.DSN != "" {
		auditStore, err = audit.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
	} else {
		logger.Warn("audit persistence disabled, no database DSN configured")
	}

	server := api.NewServer(api.ServerConfig{
		Addr:     cfg.HTTPAddr,
		Ingest:   api.NewIngestHandler(buffers),
		Analysis: api.NewAnalysisHandler(engine, auditStore),
		Alert:    api.NewAlertHandler(engine, pipeline, dispatcher, temp, auditStore, systemName),
		Stream:   api.NewStreamHandler(buffers),
		Health: []api.HealthCheck{
			{Name: "object_storage", Check: objects.HealthCheck},
			{Name: "audit_db", Check: auditStore.HealthCheck},
			{Name: "disk", Check: func(context.Context) error {
				_, err := temp.CheckDiskSpace(cfg.Disk.MinFreeBytes)
				return err
			}},
		},
		Metrics: []api.MetricsSource{
			{Name: "buffers", Collect: buffers.Metrics},
			{Name: "analysis", Collect: engine.Metrics},
			{Name: "tempstore", Collect: temp.Metrics},
			{Name: "notify", Collect: dispatcher.Metrics},
		},
	})

	return &Application{
		cfg:        cfg,
		buffers:    buffers,
		classifier: classifier,
		engine:     engine,
		temp:       temp,
		objects:    objects,
		dispatcher: dispatcher,
		auditStore: auditStore,
		server:     server,
		logger:     logger,
	}, nil
}

func buildTransport(ctx context.Context, cfg *config.Config) (notify.Transport, error) {
	switch cfg.Notify.Transport {
	case "gmail":
		return notify.NewGmailTransport(ctx, notify.GmailConfig{
			ClientID:     cfg.Notify.Gmail.ClientID,
			ClientSecret: cfg.Notify.Gmail.ClientSecret,
			TokenPath:    cfg.Notify.Gmail.TokenPath,
		})
	case "smtp":
		return notify.NewSMTPTransport(notify.SMTPConfig{
			Host:     cfg.Notify.SMTP.Host,
			Port:     cfg.Notify.SMTP.Port,
			Username: cfg.Notify.SMTP.Username,
			Password: cfg.Notify.SMTP.Password,
		})
	default:
		return nil, fmt.Errorf("unknown notify transport %q", cfg.Notify.Transport)
	}
}

// Shutdown drains HTTP, stops the buffer janitor, removes tracked temp
// files, and closes the audit pool, in that order.
func (app *Application) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Warn("http shutdown error", zap.Error(err))
	}
	app.buffers.Close()
	app.temp.Shutdown()
	if gc, ok := app.classifier.(interface{ Close() error }); ok {
		if err := gc.Close(); err != nil {
			app.logger.Warn("classifier close error", zap.Error(err))
		}
	}
	if err := app.auditStore.Close(); err != nil {
		app.logger.Warn("audit close error", zap.Error(err))
	}
	app.logger.Info("shutdown complete")
}
