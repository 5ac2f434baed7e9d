// Package server はスタジオの操作を HTTP API として公開します。
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shouni/go-manga-studio/pkg/domain"
	"github.com/shouni/go-manga-studio/pkg/generator"
	"github.com/shouni/go-manga-studio/pkg/workflow"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server は gin エンジンと Manager を束ねるのだ。
type Server struct {
	engine  *gin.Engine
	manager *workflow.Manager
}

// New はルーティングを設定した Server を返します。
func New(m *workflow.Manager) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{engine: engine, manager: m}
	s.setupRoutes()
	return s
}

// Handler は http.Handler として返します。
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.manager.Registry(), promhttp.HandlerOpts{})))

	api := s.engine.Group("/api/projects/:user")
	api.GET("", s.getProject)
	api.PUT("", s.putProject)
	api.GET("/status", s.getStatus)
	api.GET("/notices", s.getNotices)
	api.POST("/generate", s.generate)

	sub := api.Group("/subpanels/:id")
	sub.POST("/regenerate", s.regenerate)
	sub.POST("/delete-content", s.deleteContent)
	sub.PUT("/prompt", s.editPrompt)
	sub.PUT("/continuity", s.setContinuity)
	sub.PUT("/references", s.setReferences)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}

// respondError はエラーの種類に応じたステータスを返すのだ。
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSubPanelNotFound), errors.Is(err, domain.ErrChapterNotFound):
		status = http.StatusNotFound
	case errors.Is(err, generator.ErrCancelled):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidLayout), errors.Is(err, generator.ErrSelfContinuity), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
