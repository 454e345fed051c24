package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	redisbus "github.com/trendsift/trendsift-backend/internal/clients/redis"
	"github.com/trendsift/trendsift-backend/internal/data/repos"
	"github.com/trendsift/trendsift-backend/internal/db"
	"github.com/trendsift/trendsift-backend/internal/discovery/config"
	httpserver "github.com/trendsift/trendsift-backend/internal/http"
	"github.com/trendsift/trendsift-backend/internal/jobs/worker"
	"github.com/trendsift/trendsift-backend/internal/observability"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Snapshot config.Snapshot
	Repos    repos.Set
	Services Services

	server       *httpserver.Server
	bus          redisbus.EventBus
	worker       *worker.Worker
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	snap, err := config.Load("")
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load pipeline config: %w", err)
	}

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "trendsift-backend",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	repoSet := repos.NewSet(theDB, log)

	var bus redisbus.EventBus
	if os.Getenv("REDIS_ADDR") != "" {
		bus, err = redisbus.NewEventBus(log)
		if err != nil {
			log.Warn("Redis event bus init failed, notifications disabled", "error", err.Error())
			bus = nil
		}
	}

	serviceSet := wireServices(log, repoSet, bus, snap)

	registry := worker.NewRegistry()
	registerTasks(registry, serviceSet)
	taskWorker := worker.NewWorker(log, repoSet.QueuedTask, registry, snap)

	server := wireServer(log, serviceSet)

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       server.Engine,
		server:       server,
		Snapshot:     snap,
		Repos:        repoSet,
		Services:     serviceSet,
		bus:          bus,
		worker:       taskWorker,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background worker pool.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		if err := a.worker.Run(ctx); err != nil {
			a.Log.Error("Worker pool stopped", "error", err.Error())
		}
	}()
}

func (a *App) Run(addr string) error {
	if a == nil || a.server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.server.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
