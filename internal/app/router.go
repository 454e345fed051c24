package app

import (
	httpserver "github.com/trendsift/trendsift-backend/internal/http"
	httpH "github.com/trendsift/trendsift-backend/internal/http/handlers"
	"github.com/trendsift/trendsift-backend/internal/jobs/tasks"
	"github.com/trendsift/trendsift-backend/internal/jobs/worker"
	"github.com/trendsift/trendsift-backend/internal/observability"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

func registerTasks(registry *worker.Registry, svc Services) {
	tasks.RegisterAll(registry, svc.Dispatcher)
}

func wireServer(log *logger.Logger, svc Services) *httpserver.Server {
	return httpserver.NewServer(httpserver.RouterConfig{
		Log:              log,
		DiscoveryHandler: httpH.NewDiscoveryHandler(svc.Discovery),
		TaskHandler:      httpH.NewTaskHandler(svc.Dispatcher),
		HealthHandler:    httpH.NewHealthHandler(),
		TracingEnabled:   observability.Enabled(),
	})
}
