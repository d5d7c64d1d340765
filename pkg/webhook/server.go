// Package webhook is Vigil's external HTTP surface: a gin router exposing
// health, Prometheus metrics, GitHub change-event ingestion, and the Slack
// interactive-approval callback.
package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arome3/vigil/pkg/logging"
	"github.com/arome3/vigil/pkg/storage"
	"github.com/arome3/vigil/pkg/version"
)

var log = logging.Component("webhook")

// WatcherHealth mirrors coordinator.WatcherPool.Health()'s shape so that
// this package does not import the coordinator package; cmd/vigil copies
// one into the other.
type WatcherHealth struct {
	IsHealthy           bool
	WorkerCount         int
	ConsecutiveFailures int
	CircuitOpen         bool
}

// Server hosts the four routes the rest of the runtime's external contract
// requires. DB and WatcherHealth are consulted read-only on every /health
// call; everything else is wired once at construction.
type Server struct {
	router *gin.Engine

	db            *storage.Client
	watcherHealth func() WatcherHealth
	warnings      *WarningsRegistry

	githubSecret string
	slackSecret  string

	events    *storage.GitHubEventStore
	incidents *storage.IncidentStore
	approvals *storage.ApprovalResponseStore

	startedAt time.Time
	now       func() time.Time
}

// NewServer builds the router and registers all routes. watcherHealth may
// be nil if the watcher pool hasn't started yet; the health handler treats
// a nil func as "unknown", not "unhealthy".
func NewServer(
	db *storage.Client,
	incidents *storage.IncidentStore,
	events *storage.GitHubEventStore,
	approvals *storage.ApprovalResponseStore,
	githubSecret, slackSecret string,
	watcherHealth func() WatcherHealth,
) *Server {
	s := &Server{
		router:        gin.Default(),
		db:            db,
		watcherHealth: watcherHealth,
		warnings:      NewWarningsRegistry(),
		githubSecret:  githubSecret,
		slackSecret:   slackSecret,
		events:        events,
		incidents:     incidents,
		approvals:     approvals,
		startedAt:     time.Now().UTC(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	s.routes()
	return s
}

// Warnings exposes the server's warnings registry so other components
// (the A2A client, the integration breakers) can surface degraded
// conditions on /health without the webhook package depending on them.
func (s *Server) Warnings() *WarningsRegistry { return s.warnings }

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.POST("/webhook/github", s.handleGitHubWebhook)
	s.router.POST("/api/vigil/approval-callback", s.handleApprovalCallback)
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("webhook server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type healthResponse struct {
	Status   string         `json:"status"`
	Uptime   float64        `json:"uptime"`
	Version  string         `json:"version"`
	Database string         `json:"database,omitempty"`
	Watcher  *watcherStatus `json:"watcher,omitempty"`
	Warnings []*Warning     `json:"warnings,omitempty"`
}

type watcherStatus struct {
	Healthy             bool `json:"healthy"`
	WorkerCount         int  `json:"worker_count"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"

	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	dbStatus := "unknown"
	if s.db != nil {
		if st, err := storage.Health(reqCtx, s.db.DB()); err != nil {
			status = "degraded"
			dbStatus = st
		} else {
			dbStatus = st
		}
	}

	resp := healthResponse{
		Status:   status,
		Uptime:   s.now().Sub(s.startedAt).Seconds(),
		Version:  version.GitCommit,
		Database: dbStatus,
		Warnings: s.warnings.List(),
	}

	if s.watcherHealth != nil {
		wh := s.watcherHealth()
		resp.Watcher = &watcherStatus{
			Healthy:             wh.IsHealthy,
			WorkerCount:         wh.WorkerCount,
			ConsecutiveFailures: wh.ConsecutiveFailures,
		}
		if !wh.IsHealthy && resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	// degraded (watcher circuit open) still serves 200; only a hard DB
	// outage should trip an external orchestrator's restart policy.
	httpStatus := http.StatusOK
	if dbStatus == "unreachable" {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, resp)
}
