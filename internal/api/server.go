// Package api serves the dashboard HTTP surface: live positions with their
// stops, a portfolio summary, and the recent exit-decision history.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"exit-watchdog/internal/auth"
	"exit-watchdog/internal/database"
	"exit-watchdog/internal/position"
)

// Config holds server settings.
type Config struct {
	Port        int
	AuthEnabled bool
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	store      *position.Store
	repo       *database.Repository
	authSvc    *auth.Service
	cfg        Config
	logger     zerolog.Logger
	startedAt  time.Time
}

// NewServer creates the dashboard server. repo and authSvc may be nil.
func NewServer(store *position.Store, repo *database.Repository, authSvc *auth.Service, cfg Config, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:    gin.New(),
		store:     store,
		repo:      repo,
		authSvc:   authSvc,
		cfg:       cfg,
		logger:    logger.With().Str("component", "APIServer").Logger(),
		startedAt: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(gin.Recovery())
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/login", s.handleLogin)

	authorized := s.router.Group("/api")
	if s.cfg.AuthEnabled && s.authSvc != nil {
		authorized.Use(s.authMiddleware())
	}
	authorized.GET("/positions", s.handlePositions)
	authorized.GET("/portfolio", s.handlePortfolio)
	authorized.GET("/history/exits", s.handleExitHistory)
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := s.authSvc.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("operator", claims.Operator)
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startedAt).String(),
		"positions": s.store.Len(),
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.authSvc == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "auth disabled"})
		return
	}

	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password required"})
		return
	}

	token, err := s.authSvc.Login(req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.store.List()})
}

func (s *Server) handlePortfolio(c *gin.Context) {
	positions := s.store.List()

	var unrealized float64
	var pendingExits int
	for _, p := range positions {
		unrealized += p.UnrealizedPnL()
		if p.State == position.StatePendingExit || p.HasPendingOrder {
			pendingExits++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"positions":      len(positions),
		"pending_exits":  pendingExits,
		"unrealized_pnl": unrealized,
		"as_of":          time.Now(),
	})
}

func (s *Server) handleExitHistory(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusOK, gin.H{"events": []database.ExitEvent{}})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := s.repo.ListRecentExitEvents(c.Request.Context(), limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("exit history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}

	go func() {
		s.logger.Info().Int("port", s.cfg.Port).Msg("dashboard API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("dashboard API server error")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
