package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pacifica-bot/internal/events"
	"pacifica-bot/internal/order"
	"pacifica-bot/internal/risk"
	"pacifica-bot/internal/state"
	"pacifica-bot/pkg/db"
	"pacifica-bot/pkg/exchange"
)

// Server exposes the dashboard API: read-only snapshots of bot state plus
// a small set of operator controls. Every mutation goes through the same
// per-symbol critical section the trading loop uses.
type Server struct {
	Router  *gin.Engine
	Bus     *events.Bus
	DB      *db.Database
	State   *state.Manager
	Session *risk.Session
	Limiter *risk.Limiter
	Guard   *risk.Guard
	Exec    *order.Executor
	Gateway exchange.Gateway

	JWTSecret string
	Meta      Meta
}

// Meta is static runtime info surfaced to the UI.
type Meta struct {
	Symbols []string
	DryRun  bool
	Version string
}

// NewServer builds the router with its middleware and routes.
func NewServer(bus *events.Bus, database *db.Database, st *state.Manager, sess *risk.Session, lim *risk.Limiter, guard *risk.Guard, exec *order.Executor, gw exchange.Gateway, jwtSecret string, meta Meta) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		State:     st,
		Session:   sess,
		Limiter:   lim,
		Guard:     guard,
		Exec:      exec,
		Gateway:   gw,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.POST("/api/auth/token", s.issueToken)

	authed := s.Router.Group("/api", AuthMiddleware(s.JWTSecret))
	authed.GET("/status", s.status)
	authed.GET("/positions", s.positions)
	authed.GET("/orders", s.orders)
	authed.GET("/account", s.account)
	authed.GET("/risk/events", s.riskEvents)
	authed.PUT("/risk/ceiling", s.setCeiling)
	authed.POST("/session/pause", s.pauseSession)
	authed.POST("/session/resume", s.resumeSession)
	authed.POST("/close/:symbol", s.forceClose)
	authed.GET("/ws", s.websocket)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("🌐 dashboard listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.Meta.Version})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" {
			return
		}
		log.Printf("http %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
