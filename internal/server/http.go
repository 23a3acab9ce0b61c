package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Bluemott/contentsync/internal/api"
	"github.com/Bluemott/contentsync/internal/logger"
)

type Config struct {
	RequestTimeout time.Duration // per query request
	IngestTimeout  time.Duration // per batch
}

type Server struct {
	api    *api.API
	router *gin.Engine
	cfg    Config
	log    logger.Logger
}

func New(a *api.API, cfg Config, log logger.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.IngestTimeout <= 0 {
		cfg.IngestTimeout = 60 * time.Second
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s := &Server{api: a, router: router, cfg: cfg, log: log}
	s.routes()
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown", "error", err)
		}
	}()
	err := httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
