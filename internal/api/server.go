package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ah-its-andy/bookconv/internal/db"
	"github.com/ah-its-andy/bookconv/internal/livelog"
	"github.com/ah-its-andy/bookconv/internal/task"
	"github.com/ah-its-andy/bookconv/internal/worker"
	"github.com/gin-gonic/gin"
)

// SubmitFunc creates the conversion task for req and queues it.
type SubmitFunc func(req task.ConversionRequest) (task.Task, error)

// History lists finished tasks. *db.Store satisfies it.
type History interface {
	ListTaskHistory(ctx context.Context, limit, offset int) ([]db.TaskHistory, int64, error)
}

type Server struct {
	Router  *gin.Engine
	pool    *worker.Pool
	history History
	logs    *livelog.Manager
	submit  SubmitFunc
	logger  *slog.Logger
}

func NewServer(pool *worker.Pool, history History, logs *livelog.Manager, submit SubmitFunc, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	s := &Server{Router: g, pool: pool, history: history, logs: logs, submit: submit,
		logger: logger.With("component", "api")}
	g.Use(gin.Recovery(), s.requestLogger())

	api := g.Group("/api")
	api.GET("/tasks", s.listTasks)
	api.GET("/tasks/:id/log", s.taskLog)
	api.POST("/convert", s.convert)
	api.GET("/history", s.listHistory)
	api.GET("/stats", s.getStats)

	return s
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) listTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.pool.Snapshots()})
}

func (s *Server) taskLog(c *gin.Context) {
	if s.logs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	l, ok := s.logs.GetLog(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) convert(c *gin.Context) {
	var req task.ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := s.submit(req)
	switch {
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": t.ID().String(), "message": t.Message()})
}

func (s *Server) listHistory(c *gin.Context) {
	limit := parseIntDefault(c.Query("limit"), 50)
	offset := parseIntDefault(c.Query("offset"), 0)
	rows, count, err := s.history.ListTaskHistory(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "total": count})
}

func (s *Server) getStats(c *gin.Context) {
	active := 0
	if s.logs != nil {
		active = len(s.logs.GetAllActiveLogs())
	}
	c.JSON(http.StatusOK, gin.H{
		"queue_len": s.pool.Len(),
		"running":   active,
	})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
