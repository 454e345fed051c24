package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/trendsift/trendsift-backend/internal/http/handlers"
	httpMW "github.com/trendsift/trendsift-backend/internal/http/middleware"
	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	DiscoveryHandler *httpH.DiscoveryHandler
	TaskHandler      *httpH.TaskHandler
	HealthHandler    *httpH.HealthHandler

	// TracingEnabled adds the otelgin middleware; requires the tracer
	// provider set up in observability.
	TracingEnabled bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.TracingEnabled {
		r.Use(otelgin.Middleware("trendsift-backend"))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.Healthcheck)
	}

	api := r.Group("/api")

	// Scheduler callback: authenticated by shared signature, not by user.
	if cfg.TaskHandler != nil {
		api.POST("/tasks/invoke", httpMW.VerifySchedulerSignature(), cfg.TaskHandler.Invoke)
	}

	protected := api.Group("/")
	protected.Use(httpMW.RequireUser())

	if cfg.DiscoveryHandler != nil {
		protected.POST("/discovery/jobs", cfg.DiscoveryHandler.SubmitJob)
		protected.GET("/discovery/jobs", cfg.DiscoveryHandler.ListJobs)
		protected.GET("/discovery/jobs/:id", cfg.DiscoveryHandler.GetJob)
		protected.GET("/discovery/jobs/:id/events", cfg.DiscoveryHandler.ListEvents)
		protected.GET("/discovery/jobs/:id/creators", cfg.DiscoveryHandler.ListCreators)
	}

	return r
}
