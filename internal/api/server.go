// Package api exposes the engine to UI and admin clients over HTTP, and
// pushes engine events to browsers over a websocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"binary-options-sim/internal/config"
	"binary-options-sim/internal/events"
	"binary-options-sim/internal/reconcile"
	"binary-options-sim/internal/trader"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	Router *gin.Engine

	engine     *trader.Engine
	bus        *events.Bus
	sweeper    *reconcile.Sweeper
	gatherer   prometheus.Gatherer
	adminToken string
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer builds the router. gatherer backs /metrics and may be nil.
func NewServer(
	engine *trader.Engine,
	bus *events.Bus,
	sweeper *reconcile.Sweeper,
	gatherer prometheus.Gatherer,
	cfg config.Server,
	logger *zap.Logger,
) *Server {
	r := gin.New()
	s := &Server{
		Router:     r,
		engine:     engine,
		bus:        bus,
		sweeper:    sweeper,
		gatherer:   gatherer,
		adminToken: cfg.AdminToken,
		logger:     logger.Named("api"),
	}

	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	r.Use(CORSMiddleware())

	if s.adminToken == "" {
		s.logger.Warn("server.admin_token is empty, admin endpoints are unauthenticated")
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.userStream)
	if s.gatherer != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.Router.Group("/api")
	{
		api.POST("/trades", s.openTrade)
		api.GET("/trades", s.listTrades)
		api.GET("/trades/:id", s.getTrade)
		api.GET("/users/:user_id/balances", s.getBalances)
		api.GET("/users/:user_id/stats", s.getStats)
		api.GET("/users/:user_id/journal", s.getJournal)
		api.GET("/config/durations", s.getDurations)

		admin := api.Group("/admin")
		admin.Use(AdminAuth(s.adminToken))
		{
			admin.GET("/ws", s.adminStream)
			admin.GET("/modes", s.listModes)
			admin.GET("/users/:user_id/mode", s.getMode)
			admin.POST("/users/:user_id/mode", s.setMode)
			admin.DELETE("/users/:user_id/mode", s.clearMode)
			admin.POST("/users/:user_id/deposit", s.deposit)
			admin.POST("/trades/:id/force", s.forceOutcome)
			admin.POST("/sweep", s.sweep)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting web server", zap.String("address", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
