package http

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/trendsift/trendsift-backend/internal/platform/logger"
)

// Server wraps the configured router for the app layer.
type Server struct {
	Engine *gin.Engine
	log    *logger.Logger
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{
		Engine: NewRouter(cfg),
		log:    cfg.Log,
	}
}

func (s *Server) Run(address string) error {
	if s == nil || s.Engine == nil {
		return fmt.Errorf("server not initialized")
	}
	if s.log != nil {
		s.log.Info("HTTP server listening", "addr", address)
	}
	return s.Engine.Run(address)
}
