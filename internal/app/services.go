package app

import (
	redisbus "github.com/trendsift/trendsift-backend/internal/clients/redis"
	"github.com/trendsift/trendsift-backend/internal/data/repos"
	"github.com/trendsift/trendsift-backend/internal/discovery/config"
	"github.com/trendsift/trendsift-backend/internal/discovery/pagination"
	"github.com/trendsift/trendsift-backend/internal/discovery/platforms"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
	"github.com/trendsift/trendsift-backend/internal/platform/taskqueue"
	"github.com/trendsift/trendsift-backend/internal/services"
)

type Services struct {
	Notifier   services.JobNotifier
	Dispatcher *services.Dispatcher
	Discovery  *services.DiscoveryService
}

func wireServices(log *logger.Logger, repoSet repos.Set, bus redisbus.EventBus, snap config.Snapshot) Services {
	var notifier services.JobNotifier
	if bus != nil {
		notifier = services.NewRedisJobNotifier(log, bus)
	} else {
		notifier = services.NewNopJobNotifier()
	}

	registry := platforms.NewRegistry(log, snap)
	engine := pagination.NewEngine(log)
	scheduler := taskqueue.NewClient(log, taskqueue.ConfigFromEnv())

	dispatcher := services.NewDispatcher(log, repoSet, registry, engine, scheduler, notifier, snap)
	discovery := services.NewDiscoveryService(log, repoSet, dispatcher, notifier, snap)

	return Services{
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Discovery:  discovery,
	}
}
