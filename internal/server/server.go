// Package server exposes a small HTTP status API over the scanner.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/momentumscan/internal/cache"
	"github.com/rewired-gh/momentumscan/internal/logger"
	"github.com/rewired-gh/momentumscan/internal/scheduler"
	"github.com/rewired-gh/momentumscan/internal/storage"
)

// Scanner is the part of the scheduler the API reads from.
type Scanner interface {
	Snapshot() scheduler.Status
	Generation() *cache.Generation
	SendCustom(ctx context.Context, text string) error
}

// AlertLister reads the alert journal. It may be nil.
type AlertLister interface {
	RecentAlerts(limit int) ([]storage.Record, error)
}

type Config struct {
	Addr string
}

type Server struct {
	cfg     Config
	scanner Scanner
	alerts  AlertLister
	http    *http.Server
}

func New(cfg Config, scanner Scanner, alerts AlertLister) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if scanner == nil {
		return nil, errors.New("scanner is required")
	}
	s := &Server{cfg: cfg, scanner: scanner, alerts: alerts}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/contracts", s.handleContracts)
	api.GET("/alerts", s.handleAlerts)
	api.POST("/messages", s.handleMessage)

	return r
}

// Start serves in a goroutine. Listen errors other than a clean shutdown are
// logged.
func (s *Server) Start() {
	go func() {
		logger.Info("Status API listening on %s", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status API stopped: %v", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.scanner.Snapshot()
	code := http.StatusOK
	if !st.Running {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ok": st.Running, "generation": st.Generation})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.scanner.Snapshot())
}

// handleContracts serves one generation so the ID always matches the list.
func (s *Server) handleContracts(c *gin.Context) {
	gen := s.scanner.Generation()
	c.JSON(http.StatusOK, gin.H{
		"generation": gen.ID(),
		"built_at":   gen.BuiltAt(),
		"contracts":  gen.Contracts(),
	})
}

func (s *Server) handleAlerts(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert journal disabled"})
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	records, err := s.alerts.RecentAlerts(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": records})
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text must not be blank"})
		return
	}
	if err := s.scanner.SendCustom(c.Request.Context(), text); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, scheduler.ErrNotRunning):
			status = http.StatusServiceUnavailable
		case errors.Is(err, scheduler.ErrEmptyMessage):
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sent": true})
}
