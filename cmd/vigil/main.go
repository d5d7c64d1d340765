// Vigil orchestrator server - runs the alert watcher pool, the delegation
// pipeline that drives incidents through triage/investigation/remediation/
// verification, the analyst reporting scheduler, and the webhook HTTP
// surface.
package main

import (
	"context"
	stdsql "database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/arome3/vigil/pkg/a2a"
	"github.com/arome3/vigil/pkg/analyst"
	"github.com/arome3/vigil/pkg/config"
	"github.com/arome3/vigil/pkg/coordinator"
	"github.com/arome3/vigil/pkg/executor"
	"github.com/arome3/vigil/pkg/logging"
	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/pagerduty"
	"github.com/arome3/vigil/pkg/slack"
	"github.com/arome3/vigil/pkg/statemachine"
	"github.com/arome3/vigil/pkg/storage"
	"github.com/arome3/vigil/pkg/toolexec"
	"github.com/arome3/vigil/pkg/verifier"
	"github.com/arome3/vigil/pkg/webhook"
)

// agentList is every agent the registry discovers and the delegation
// pipeline can dispatch to. pkg/coordinator keeps its own copy as
// unexported constants; this one can't import those, so it's kept in sync
// by hand.
var agentList = []string{"triage", "investigator", "threat_hunter", "commander", "executor", "verifier", "workflows"}

var log = logging.Component("main")

const (
	watcherWorkerCount = 3
	discoveryInterval  = 2 * time.Minute
	toolDefinitionsDir = "./deploy/tools"
)

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	logging.Init(logging.OptionsFromEnv())

	if err := godotenv.Load(*configDir + "/.env"); err != nil {
		log.Warn("no .env file loaded, continuing with process environment", "config_dir", *configDir, "error", err)
	}

	cfg, err := config.LoadVigilConfigFromEnv()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewClient(ctx, storage.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Error("failed to connect to storage", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to storage, migrations applied")

	incidents := storage.NewIncidentStore(db)
	alerts := storage.NewAlertStore(db)
	actions := storage.NewActionStore(db)
	events := storage.NewGitHubEventStore(db)
	approvalResponses := storage.NewApprovalResponseStore(db)
	reportStatuses := storage.NewReportStatusStore(db)
	baselines := storage.NewBaselineStore(db)

	registry := a2a.NewRegistry(cfg.AgentBaseURL, &http.Client{Timeout: 30 * time.Second})
	if _, err := registry.DiscoverAll(ctx, agentList); err != nil {
		log.Warn("initial agent discovery failed, continuing degraded", "error", err)
	}
	telemetrySink := storage.NewTelemetrySinkAdapter(db)
	a2aClient := a2a.NewClient(registry, telemetrySink, nil)
	go runDiscoveryLoop(ctx, registry)

	machine := statemachine.New(incidents, cfg.MaxReflections)

	toolLoader := toolexec.NewFileLoader(getEnv("VIGIL_TOOL_DEFINITIONS_DIR", toolDefinitionsDir))
	toolExecutor := toolexec.NewExecutor(toolLoader, &sqlQuerier{db: db.DB()}, nil)
	healthChecker := verifier.NewToolexecHealthChecker(toolExecutor)
	verify := verifier.New(baselines, healthChecker, cfg.StabilizationWait, cfg.VerificationDeadline, cfg.HealthScoreThreshold)

	approvalGate := executor.NewPollingApprovalGate(approvalResponses, executor.NewA2ADispatcher(a2aClient))
	exec := executor.New(actions, executor.NewA2ADispatcher(a2aClient), approvalGate)

	notifier := newCompositeNotifier(cfg)
	watcherTelemetry := coordinator.NewStorageTelemetry(db)

	pipeline := coordinator.NewDelegationPipeline(
		incidents, machine, a2aClient, exec, verify, notifier,
		cfg.SuppressThreshold, cfg.MaxReflections, cfg.ApprovalTimeout, 0,
	)
	pipeline.SetTelemetryCleaner(db)

	var dedup analyst.DedupCache
	if cfg.Redis.Addr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		dedup = analyst.NewRedisDedup(redisClient, 24*time.Hour)
		log.Info("report dedup backed by redis", "addr", cfg.Redis.Addr)
	} else {
		dedup = analyst.NewInProcessDedup(24 * time.Hour)
	}
	reportScheduler := analyst.NewScheduler(incidents, reportStatuses, nil, dedup, cfg.ReportTimeout)
	if err := reportScheduler.Start(cfg.ReportExecDailySchedule); err != nil {
		log.Error("failed to start analyst scheduler", "error", err)
		os.Exit(1)
	}
	defer reportScheduler.Stop()
	pipeline.SetReporter(reportScheduler)

	watcherPool := coordinator.NewWatcherPool(alerts, pipeline, watcherTelemetry, watcherWorkerCount)
	watcherPool.Start(ctx)
	defer watcherPool.Stop()

	server := webhook.NewServer(db, incidents, events, approvalResponses, cfg.GitHubWebhookSecret, cfg.SlackSigningSecret, func() webhook.WatcherHealth {
		h := watcherPool.Health()
		return webhook.WatcherHealth{
			IsHealthy:           h.IsHealthy,
			WorkerCount:         h.WorkerCount,
			ConsecutiveFailures: h.ConsecutiveFailures,
			CircuitOpen:         h.CircuitOpen,
		}
	})

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	log.Info("starting vigil", "addr", addr)
	if err := server.Run(ctx, addr); err != nil {
		log.Error("webhook server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("vigil shut down cleanly")
}

func runDiscoveryLoop(ctx context.Context, registry *a2a.Registry) {
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := registry.RefreshAgentCache(ctx, agentList); err != nil {
				log.Warn("agent discovery refresh failed", "error", err)
			}
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// sqlQuerier adapts *sql.DB to toolexec.Querier.
type sqlQuerier struct {
	db *stdsql.DB
}

func (q *sqlQuerier) RawQuery(ctx context.Context, query string, args ...any) (toolexec.Rows, error) {
	return q.db.QueryContext(ctx, query, args...)
}

// compositeNotifier fans an escalation or approval-request notice out to
// every configured outbound channel (Slack always, PagerDuty only on
// escalation -- an approval request isn't itself an incident trigger).
type compositeNotifier struct {
	slack     *slack.IncidentNotifier
	pagerduty *pagerduty.Client
}

func newCompositeNotifier(cfg *config.VigilConfig) *compositeNotifier {
	n := &compositeNotifier{}
	if cfg.SlackBotToken != "" {
		n.slack = slack.NewIncidentNotifier(cfg.SlackBotToken, cfg.SlackIncidentChannel, cfg.SlackApprovalChannel, cfg.DashboardURL)
	}
	if cfg.PagerDutyRoutingKey != "" {
		n.pagerduty = pagerduty.NewClient(cfg.PagerDutyRoutingKey, "vigil")
	}
	return n
}

func (n *compositeNotifier) NotifyEscalation(ctx context.Context, incident *models.Incident, reason string) {
	if n.slack != nil {
		n.slack.NotifyEscalation(ctx, incident, reason)
	}
	if n.pagerduty != nil {
		if err := n.pagerduty.TriggerIncident(ctx, incident, reason); err != nil {
			log.Warn("pagerduty trigger failed", "incident_id", incident.IncidentID, "error", err)
		}
	}
}

func (n *compositeNotifier) NotifyApprovalRequested(ctx context.Context, incident *models.Incident, actions []models.PlanAction) {
	if n.slack != nil {
		n.slack.NotifyApprovalRequested(ctx, incident, actions)
	}
}
