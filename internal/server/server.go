// Package server exposes the search contract over HTTP.
//
// The HTTP surface is a thin collaborator: it consumes the registry's
// search/reindex operations and owns nothing else. Any front-end consuming
// this contract is fully replaceable.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pborenstein/temoa/internal/errors"
	"github.com/pborenstein/temoa/internal/registry"
	"github.com/pborenstein/temoa/internal/search"
	"github.com/pborenstein/temoa/internal/telemetry"
)

// Server is the HTTP API over a vault registry.
type Server struct {
	registry *registry.Registry
	recorder *telemetry.Recorder // optional
	engine   *gin.Engine
}

// New assembles the router. The recorder may be nil.
func New(reg *registry.Registry, recorder *telemetry.Recorder) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		registry: reg,
		recorder: recorder,
		engine:   router,
	}

	router.GET("/healthz", s.handleHealth)
	api := router.Group("/api")
	{
		api.GET("/vaults", s.handleVaults)
		api.GET("/profiles", s.handleProfiles)
		api.POST("/search", s.handleSearch)
		api.POST("/reindex", s.handleReindex)
	}

	return s
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleVaults(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"vaults": s.registry.Vaults()})
}

func (s *Server) handleProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": s.registry.Profiles().Names()})
}

func (s *Server) handleSearch(c *gin.Context) {
	var req search.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	start := time.Now()
	resp, err := s.registry.Search(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	if s.recorder != nil {
		s.recorder.Record(telemetry.QueryEvent{
			Vault:       req.Vault,
			Query:       req.Query,
			ResultCount: len(resp.Results),
			Latency:     time.Since(start),
			Timestamp:   time.Now(),
		})
	}

	c.JSON(http.StatusOK, resp)
}

// reindexRequest is the mutating-operation body.
type reindexRequest struct {
	Vault string `json:"vault"`
	Force bool   `json:"force"`
}

func (s *Server) handleReindex(c *gin.Context) {
	var req reindexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	// Reindexing is deliberately detached from the request context: it is
	// not cancelable mid-merge, and a dropped connection must not abandon
	// a half-finished embed pass.
	res, err := s.registry.Reindex(context.Background(), req.Vault, req.Force)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vault":          req.Vault,
		"total_files":    res.TotalFiles,
		"new_files":      res.NewFiles,
		"modified_files": res.ModifiedFiles,
		"deleted_files":  res.DeletedFiles,
		"rows":           res.Rows,
		"full_rebuild":   res.FullRebuild,
		"duration_ms":    res.Duration.Milliseconds(),
	})
}

// writeError maps structured error codes onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.ErrCodeQueryEmpty, errors.ErrCodeInvalidInput,
		errors.ErrCodeUnknownVault, errors.ErrCodeUnknownProfile:
		status = http.StatusBadRequest
	case errors.ErrCodeVaultNotFound, errors.ErrCodeIndexMissing:
		status = http.StatusNotFound
	case errors.ErrCodeVaultMismatch, errors.ErrCodeIndexBusy:
		status = http.StatusConflict
	case errors.ErrCodeSearchTimeout:
		status = http.StatusGatewayTimeout
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  errors.GetCode(err),
	})
}

// requestLogger logs each request at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http_request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}
