package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"mediabot/service/controller"
	"mediabot/service/middleware"
)

// Service contains the server and configuration.
type Service struct {
	server *http.Server
	conf   Config
}

// New creates a new instance of Service serving coordinator.
func New(config Config, coordinator controller.Coordinator) *Service {
	return &Service{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			ReadHeaderTimeout: 2 * time.Second,
			Handler:           NewRouter(config, coordinator),
		},
		conf: config,
	}
}

// NewRouter builds the gin engine with the middleware chain and the API routes.
func NewRouter(config Config, coordinator controller.Coordinator) *gin.Engine {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	con := controller.New(coordinator, config.Debug)
	r.GET("/healthz", con.Health)

	api := r.Group("/")
	api.Use(middleware.Auth(config.Token))
	api.POST("/join-call", con.JoinCall)
	api.GET("/jobs/:id", con.Job)

	return r
}

// Start runs the server until Shutdown is called.
func (s *Service) Start() error {
	var err error
	if s.conf.CertFile == "" || s.conf.KeyFile == "" {
		log.Info().Str("module", "service").Int("port", s.conf.Port).Msg("starting server without TLS")
		err = s.server.ListenAndServe()
	} else {
		log.Info().Str("module", "service").Int("port", s.conf.Port).Msg("starting server with TLS")
		err = s.server.ListenAndServeTLS(s.conf.CertFile, s.conf.KeyFile)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
