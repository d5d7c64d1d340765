package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// VigilConfig is the umbrella runtime configuration: a defaults table
// flattened to the scalar thresholds and connection settings the
// orchestration core reads directly, with no per-agent/per-chain
// registries.
type VigilConfig struct {
	Database DatabaseConfig
	Redis    RedisConfig

	KibanaURL      string
	ElasticAPIKey  string
	SlackBotToken  string
	SlackSigningSecret string
	SlackIncidentChannel string
	SlackApprovalChannel string
	PagerDutyRoutingKey  string
	GitHubWebhookSecret  string
	DashboardURL         string

	VerificationDeadline    time.Duration
	StabilizationWait       time.Duration
	HealthScoreThreshold    float64
	SuppressThreshold       float64
	MaxReflections          int
	ApprovalTimeout         time.Duration
	ReportExecDailySchedule string
	ReportTimeout           time.Duration

	AgentBaseURL string
	HTTPPort     int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// vigilDefaults holds the environment-variable defaults table.
func vigilDefaults() VigilConfig {
	return VigilConfig{
		VerificationDeadline:    50 * time.Second,
		StabilizationWait:       10 * time.Second,
		HealthScoreThreshold:    0.8,
		SuppressThreshold:       0.4,
		MaxReflections:          3,
		ApprovalTimeout:         15 * time.Minute,
		ReportExecDailySchedule: "0 8 * * *",
		ReportTimeout:           30 * time.Second,
		HTTPPort:                8080,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "vigil",
			Database: "vigil",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Addr: "",
			DB:   0,
		},
	}
}

// LoadVigilConfigFromEnv reads the environment variables over the
// defaults table. Values are used verbatim; ${VAR} references inside them
// are not expanded.
func LoadVigilConfigFromEnv() (*VigilConfig, error) {
	cfg := vigilDefaults()

	cfg.KibanaURL = os.Getenv("KIBANA_URL")
	cfg.ElasticAPIKey = os.Getenv("ELASTIC_API_KEY")
	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")
	cfg.SlackSigningSecret = os.Getenv("SLACK_SIGNING_SECRET")
	cfg.SlackIncidentChannel = os.Getenv("SLACK_INCIDENT_CHANNEL")
	cfg.SlackApprovalChannel = os.Getenv("SLACK_APPROVAL_CHANNEL")
	cfg.PagerDutyRoutingKey = os.Getenv("PAGERDUTY_ROUTING_KEY")
	cfg.GitHubWebhookSecret = os.Getenv("GITHUB_WEBHOOK_SECRET")
	cfg.AgentBaseURL = os.Getenv("VIGIL_AGENT_BASE_URL")
	cfg.DashboardURL = os.Getenv("VIGIL_DASHBOARD_URL")

	if v := os.Getenv("VIGIL_VERIFICATION_DEADLINE_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse VIGIL_VERIFICATION_DEADLINE_MS: %w", err)
		}
		cfg.VerificationDeadline = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("VIGIL_STABILIZATION_WAIT_SECONDS"); v != "" {
		s, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse VIGIL_STABILIZATION_WAIT_SECONDS: %w", err)
		}
		cfg.StabilizationWait = time.Duration(s) * time.Second
	}
	if v := os.Getenv("VIGIL_HEALTH_SCORE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse VIGIL_HEALTH_SCORE_THRESHOLD: %w", err)
		}
		cfg.HealthScoreThreshold = f
	}
	if v := os.Getenv("SUPPRESS_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse SUPPRESS_THRESHOLD: %w", err)
		}
		cfg.SuppressThreshold = f
	}
	if v := os.Getenv("MAX_REFLECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse MAX_REFLECTIONS: %w", err)
		}
		cfg.MaxReflections = n
	}
	if v := os.Getenv("APPROVAL_TIMEOUT_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse APPROVAL_TIMEOUT_MINUTES: %w", err)
		}
		cfg.ApprovalTimeout = time.Duration(n) * time.Minute
	}
	if v := os.Getenv("REPORT_EXEC_DAILY_SCHEDULE"); v != "" {
		cfg.ReportExecDailySchedule = v
	}
	if v := os.Getenv("VIGIL_REPORT_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse VIGIL_REPORT_TIMEOUT_MS: %w", err)
		}
		cfg.ReportTimeout = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("VIGIL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("VIGIL_DB_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse VIGIL_DB_PORT: %w", err)
		}
		cfg.Database.Port = n
	}
	if v := os.Getenv("VIGIL_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("VIGIL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("VIGIL_DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("VIGIL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("VIGIL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("VIGIL_HTTP_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse VIGIL_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the rest of the runtime assumes hold.
func (c *VigilConfig) Validate() error {
	if c.SuppressThreshold < 0 || c.SuppressThreshold > 1 {
		return fmt.Errorf("SUPPRESS_THRESHOLD must be in [0,1], got %f", c.SuppressThreshold)
	}
	if c.HealthScoreThreshold < 0 || c.HealthScoreThreshold > 1 {
		return fmt.Errorf("VIGIL_HEALTH_SCORE_THRESHOLD must be in [0,1], got %f", c.HealthScoreThreshold)
	}
	if c.MaxReflections < 0 {
		return fmt.Errorf("MAX_REFLECTIONS must be >= 0, got %d", c.MaxReflections)
	}
	if c.GitHubWebhookSecret == "" {
		return fmt.Errorf("GITHUB_WEBHOOK_SECRET is required")
	}
	return nil
}
