package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/arome3/vigil/pkg/breaker"
	"github.com/arome3/vigil/pkg/metrics"
	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/vigilerr"
)

// TelemetryStatus is the outcome recorded for every A2A call.
type TelemetryStatus string

const (
	TelemetrySuccess        TelemetryStatus = "success"
	TelemetryError          TelemetryStatus = "error"
	TelemetryTimeout        TelemetryStatus = "timeout"
	TelemetryCardUnavailable TelemetryStatus = "card_unavailable"
)

// TelemetryRecord is written to the agent-telemetry index for every call,
// success or failure, fire-and-forget.
type TelemetryRecord struct {
	AgentID         string          `json:"agent_id"`
	CorrelationID   string          `json:"correlation_id"`
	Task            string          `json:"task"`
	Status          TelemetryStatus `json:"status"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	Timestamp       time.Time       `json:"timestamp"`
}

// TelemetrySink persists TelemetryRecord. Implemented by
// storage.TelemetrySinkAdapter, which wraps storage.Client's Index method,
// against the "agent-telemetry" index; a nil sink is allowed
// and simply drops records (telemetry write failures never mask outcomes).
type TelemetrySink interface {
	Index(ctx context.Context, index, id string, body any) (any, error)
}

// SendOptions overrides the per-agent default timeout for one call.
type SendOptions struct {
	Timeout time.Duration
}

// Client implements sendA2AMessage.
type Client struct {
	httpClient *http.Client
	registry   *Registry
	telemetry  TelemetrySink
	idFn       func() string
	breakers   *breaker.Registry
}

func NewClient(registry *Registry, telemetry TelemetrySink, idFn func() string) *Client {
	return &Client{
		httpClient: &http.Client{},
		registry:   registry,
		telemetry:  telemetry,
		idFn:       idFn,
		breakers:   breaker.NewRegistry(breaker.DefaultAgentBreakerConfig()),
	}
}

// Send validates, resolves, and delivers envelope to agentID, returning the
// agent's raw JSON response body on success.
func (c *Client) Send(ctx context.Context, agentID string, envelope *models.Envelope, opts *SendOptions) (json.RawMessage, error) {
	if missing := envelope.Validate(); len(missing) > 0 {
		return nil, &vigilerr.EnvelopeValidationError{Missing: missing}
	}

	card, ok := c.registry.Card(agentID)
	if !ok {
		c.emitTelemetry(ctx, agentID, envelope.CorrelationID, envelope.Task(), TelemetryCardUnavailable, 0)
		return nil, &vigilerr.AgentUnavailableError{AgentID: agentID, Permanent: false, Err: errors.New("agent card not resolved")}
	}

	task := envelope.Task()
	if !card.HasCapability(task) {
		return nil, &vigilerr.A2AError{AgentID: agentID, StatusCode: http.StatusBadRequest}
	}

	timeout := TimeoutFor(agentID)
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	agentBreaker := c.breakers.For(agentID)
	allowed, isProbe := agentBreaker.Allow()
	if !allowed {
		return nil, &vigilerr.AgentUnavailableError{AgentID: agentID, Permanent: false, Err: vigilerr.ErrCircuitOpen}
	}

	start := time.Now()
	body, status, err := c.deliver(ctx, card, envelope, timeout)
	elapsed := time.Since(start).Milliseconds()

	recordOutcome := func(success bool) {
		switch {
		case isProbe:
			agentBreaker.RecordProbeResult(success)
		case success:
			agentBreaker.RecordSuccess()
		default:
			agentBreaker.RecordFailure()
		}
		metrics.Get().SetBreakerState("agent:"+agentID, breaker.StateValue(agentBreaker.CurrentState()))
	}

	switch {
	case err != nil && isTimeoutErr(err):
		recordOutcome(false)
		c.emitTelemetry(ctx, agentID, envelope.CorrelationID, task, TelemetryTimeout, elapsed)
		return nil, &vigilerr.AgentTimeoutError{AgentID: agentID, Timeout: timeout.String()}
	case err != nil:
		recordOutcome(false)
		c.emitTelemetry(ctx, agentID, envelope.CorrelationID, task, TelemetryError, elapsed)
		return nil, &vigilerr.AgentUnavailableError{AgentID: agentID, Permanent: false, Err: err}
	case status >= 400:
		recordOutcome(false)
		c.emitTelemetry(ctx, agentID, envelope.CorrelationID, task, TelemetryError, elapsed)
		return nil, &vigilerr.A2AError{AgentID: agentID, StatusCode: status}
	default:
		recordOutcome(true)
		c.emitTelemetry(ctx, agentID, envelope.CorrelationID, task, TelemetrySuccess, elapsed)
		return body, nil
	}
}

// deliver POSTs the envelope once, retrying a single time on 5xx.
func (c *Client) deliver(ctx context.Context, card models.AgentCard, envelope *models.Envelope, timeout time.Duration) (json.RawMessage, int, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal envelope: %w", err)
	}

	var lastBody json.RawMessage
	var lastStatus int
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		body, status, err := c.post(attemptCtx, card.Endpoint, payload)
		cancel()

		lastBody, lastStatus, lastErr = body, status, err
		if err != nil {
			return nil, 0, err
		}
		if status < 500 {
			return body, status, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return lastBody, lastStatus, lastErr
}

func (c *Client) post(ctx context.Context, endpoint string, payload []byte) (json.RawMessage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) emitTelemetry(ctx context.Context, agentID, correlationID, task string, status TelemetryStatus, elapsedMs int64) {
	if c.telemetry == nil {
		return
	}
	record := TelemetryRecord{
		AgentID:         agentID,
		CorrelationID:   correlationID,
		Task:            task,
		Status:          status,
		ExecutionTimeMs: elapsedMs,
		Timestamp:       time.Now().UTC(),
	}
	id := agentID
	if c.idFn != nil {
		id = c.idFn()
	}
	// Fire-and-forget: telemetry failures never affect the caller's result.
	go func() {
		telemetryCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = c.telemetry.Index(telemetryCtx, "agent-telemetry", id, record)
	}()
	_ = ctx
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
