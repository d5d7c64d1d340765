// Package coordinator implements the alert watcher pool and the
// security/operational delegation pipelines that turn a claimed alert into
// a fully worked incident.
package coordinator

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/arome3/vigil/pkg/logging"
	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/storage"
)

var log = logging.Component("coordinator")

// ErrNoAlertsAvailable signals an empty claim attempt, distinct from a real
// poll failure so the watcher backs off on errors but not on idle polls.
var ErrNoAlertsAvailable = errors.New("no alerts available to claim")

const (
	defaultPollInterval        = 2 * time.Second
	defaultBackoffCeiling      = 30 * time.Second
	defaultMaxConsecutiveFails = 5
)

// Pipeline processes one claimed alert end to end. Implemented by the
// security/operational delegation logic in pipeline.go.
type Pipeline interface {
	ProcessAlert(ctx context.Context, alert *models.Alert) error
}

// Telemetry records a fire-and-forget component-tagged event. A nil
// Telemetry is valid and simply drops events.
type Telemetry interface {
	Record(ctx context.Context, component string, fields map[string]any)
}

// WatcherPool runs N workers each claiming and dispatching alerts, modeled
// on the single-producer-per-worker queue pattern: every worker polls
// independently, and claims are serialized by the alert store's
// compare-and-swap (never by a pool-level lock).
type WatcherPool struct {
	alerts    *storage.AlertStore
	pipeline  Pipeline
	telemetry Telemetry

	workerCount int
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	mu                  sync.Mutex
	started             bool
	consecutiveFailures int
	circuitOpen         bool
}

func NewWatcherPool(alerts *storage.AlertStore, pipeline Pipeline, telemetry Telemetry, workerCount int) *WatcherPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &WatcherPool{
		alerts:      alerts,
		pipeline:    pipeline,
		telemetry:   telemetry,
		workerCount: workerCount,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the worker pool. Repeated calls are idempotent no-ops.
func (p *WatcherPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop signals every worker to exit and waits for them to finish.
func (p *WatcherPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *WatcherPool) run(ctx context.Context, workerIdx int) {
	defer p.wg.Done()
	workerLog := log.With("worker", workerIdx)
	workerLog.Info("alert watcher worker started")

	for {
		select {
		case <-p.stopCh:
			workerLog.Info("alert watcher worker shutting down")
			return
		case <-ctx.Done():
			return
		default:
		}

		if p.isCircuitOpen() {
			workerLog.Error("alert watcher circuit open, worker idling until restarted externally")
			p.sleep(defaultBackoffCeiling)
			continue
		}

		if err := p.pollOnce(ctx); err != nil {
			if errors.Is(err, ErrNoAlertsAvailable) {
				p.sleep(defaultPollInterval)
				continue
			}
			workerLog.Error("alert poll failed", "error", err)
			p.recordFailure()
			p.sleep(p.backoffDelay())
			continue
		}

		p.recordSuccess()
	}
}

func (p *WatcherPool) pollOnce(ctx context.Context) error {
	alert, err := p.alerts.ClaimNext(ctx)
	if err != nil {
		return err
	}
	if alert == nil {
		return ErrNoAlertsAvailable
	}

	p.emitTelemetry(ctx, map[string]any{"alert_id": alert.AlertID, "claimed": true})

	// Dispatch asynchronously: the poll loop must not block on pipeline work.
	go func() {
		processCtx := context.Background()
		if err := p.pipeline.ProcessAlert(processCtx, alert); err != nil {
			log.Error("alert pipeline failed", "alert_id", alert.AlertID, "error", err)
		}
		now := time.Now().UTC()
		if markErr := p.alerts.MarkProcessed(processCtx, alert, now); markErr != nil {
			log.Error("failed to mark alert processed", "alert_id", alert.AlertID, "error", markErr)
		}
	}()

	return nil
}

func (p *WatcherPool) emitTelemetry(ctx context.Context, fields map[string]any) {
	if p.telemetry == nil {
		return
	}
	p.telemetry.Record(ctx, "alert-watcher", fields)
}

func (p *WatcherPool) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures++
	if p.consecutiveFailures >= defaultMaxConsecutiveFails {
		p.circuitOpen = true
		log.Error("alert watcher circuit opened after consecutive failures", "failures", p.consecutiveFailures)
	}
}

func (p *WatcherPool) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures = 0
}

func (p *WatcherPool) isCircuitOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.circuitOpen
}

// WatcherHealth is the pool's health snapshot, in the same spirit as the
// teacher's queue.WorkerPool.Health(): a read-only view the webhook
// server's health route folds into its own response.
type WatcherHealth struct {
	IsHealthy           bool
	WorkerCount         int
	ConsecutiveFailures int
	CircuitOpen         bool
}

// Health reports the pool's current health snapshot.
func (p *WatcherPool) Health() WatcherHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return WatcherHealth{
		IsHealthy:           !p.circuitOpen,
		WorkerCount:         p.workerCount,
		ConsecutiveFailures: p.consecutiveFailures,
		CircuitOpen:         p.circuitOpen,
	}
}

func (p *WatcherPool) backoffDelay() time.Duration {
	p.mu.Lock()
	failures := p.consecutiveFailures
	p.mu.Unlock()

	delay := defaultPollInterval
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > defaultBackoffCeiling {
			delay = defaultBackoffCeiling
			break
		}
	}
	jitter := time.Duration(rand.Int64N(int64(delay) / 4 + 1))
	return delay + jitter
}

func (p *WatcherPool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}
