package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimburion/mailqueue/pkg/health"
	"github.com/nimburion/mailqueue/pkg/jobs"
	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/nimburion/mailqueue/pkg/observability/metrics"
	"github.com/nimburion/mailqueue/pkg/version"
)

// Queue is the read side of the queue exposed by the management server.
// *jobs.Coordinator implements it.
type Queue interface {
	Status(ctx context.Context) (jobs.Status, error)
	List(ctx context.Context, state jobs.State) ([]*jobs.Job, error)
	Job(ctx context.Context, jobID string) (*jobs.Job, error)
}

// ManagementServer serves health, readiness, queue inspection, metrics and
// build information on its own port.
type ManagementServer struct {
	*Server
	engine          *gin.Engine
	queue           Queue
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	version         version.Info
}

// NewManagementServer registers the management endpoints:
//   - GET /health      liveness, always 200
//   - GET /ready       health registry, 503 when unhealthy
//   - GET /status      queue counts, active backend and recovery state
//   - GET /jobs/:state jobs of one state on the active backend
//   - GET /jobs/id/:id one job from either backend
//   - GET /metrics     Prometheus exposition
//   - GET /version     build information
func NewManagementServer(
	cfg Config,
	log logger.Logger,
	queue Queue,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	info version.Info,
) (*ManagementServer, error) {
	if queue == nil {
		return nil, errors.New("management server requires a queue")
	}
	if healthRegistry == nil {
		healthRegistry = health.NewRegistry()
	}
	if metricsRegistry == nil {
		metricsRegistry = metrics.NewRegistry()
	}
	if log == nil {
		log = logger.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		requestID(),
		requestMetrics(metricsRegistry),
		requestLogging(log),
		recovery(log),
	)

	s := &ManagementServer{
		Server:          NewServer(cfg, engine, log),
		engine:          engine,
		queue:           queue,
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		version:         info,
	}
	s.registerEndpoints()
	return s, nil
}

func (s *ManagementServer) registerEndpoints() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/jobs/:state", s.handleJobs)
	s.engine.GET("/jobs/id/:id", s.handleJob)
	s.engine.GET("/metrics", gin.WrapH(s.metricsRegistry.Handler()))
	s.engine.GET("/version", s.handleVersion)
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody(c, "not_found", "route not found"))
	})
}

// Handler returns the HTTP handler, mainly for tests.
func (s *ManagementServer) Handler() http.Handler {
	return s.engine
}

func (s *ManagementServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

// handleReady answers 200 while degraded: the queue still accepts jobs on the
// local backend.
func (s *ManagementServer) handleReady(c *gin.Context) {
	result := s.healthRegistry.Check(c.Request.Context())
	if !result.IsServing() {
		c.JSON(http.StatusServiceUnavailable, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *ManagementServer) handleStatus(c *gin.Context) {
	status, err := s.queue.Status(c.Request.Context())
	if err != nil {
		s.writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *ManagementServer) handleJobs(c *gin.Context) {
	state, err := jobs.ParseState(c.Param("state"))
	if err != nil {
		s.writeQueueError(c, err)
		return
	}
	list, err := s.queue.List(c.Request.Context(), state)
	if err != nil {
		s.writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state": state,
		"count": len(list),
		"jobs":  list,
	})
}

func (s *ManagementServer) handleJob(c *gin.Context) {
	job, err := s.queue.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *ManagementServer) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, s.version)
}

func (s *ManagementServer) writeQueueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, jobs.ErrInvalidArgument), errors.Is(err, jobs.ErrValidation):
		c.JSON(http.StatusBadRequest, errorBody(c, "invalid_argument", err.Error()))
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody(c, "not_found", err.Error()))
	case errors.Is(err, jobs.ErrClosed), errors.Is(err, jobs.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, errorBody(c, "unavailable", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, errorBody(c, "internal_error", err.Error()))
	}
}
