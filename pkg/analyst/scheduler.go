// Package analyst schedules and tracks report generation triggered by
// incident resolution and by a daily batch sweep. It owns none of the
// report content -- that is an external collaborator reached through
// ReportGenerator -- only the trigger, dedup, deadline, and status-record
// bookkeeping around it.
package analyst

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arome3/vigil/pkg/idgen"
	"github.com/arome3/vigil/pkg/logging"
	"github.com/arome3/vigil/pkg/models"
	"github.com/arome3/vigil/pkg/storage"
)

var log = logging.Component("analyst")

const defaultDedupTTL = 24 * time.Hour

// Scheduler triggers per-incident retrospectives on resolution and a daily
// batch digest on a cron schedule.
type Scheduler struct {
	incidents *storage.IncidentStore
	reports   *storage.ReportStatusStore
	generator ReportGenerator
	dedup     DedupCache

	reportTimeout time.Duration
	cron          *cron.Cron
	now           func() time.Time
}

// NewScheduler wires a Scheduler. dedup and generator may be nil; a nil
// dedup falls back to an in-process TTL cache, a nil generator falls back
// to NoopGenerator so triggering is always safe.
func NewScheduler(incidents *storage.IncidentStore, reports *storage.ReportStatusStore, generator ReportGenerator, dedup DedupCache, reportTimeout time.Duration) *Scheduler {
	if generator == nil {
		generator = NoopGenerator{}
	}
	if dedup == nil {
		dedup = NewInProcessDedup(defaultDedupTTL)
	}
	if reportTimeout <= 0 {
		reportTimeout = 30 * time.Second
	}
	return &Scheduler{
		incidents:     incidents,
		reports:       reports,
		generator:     generator,
		dedup:         dedup,
		reportTimeout: reportTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the daily batch job on schedule (a crontab string, e.g.
// REPORT_EXEC_DAILY_SCHEDULE) and starts the cron scheduler's own
// goroutine. Stop must be called to release it.
func (s *Scheduler) Start(schedule string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		s.RunDailyDigest(context.Background())
	})
	if err != nil {
		return fmt.Errorf("register daily report schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// TriggerIncidentReport fires a per-incident retrospective for a just-
// resolved incident, best-effort: a generator failure is recorded on the
// status record but never propagated, since the incident is already
// resolved and there is no caller left to hand an error to.
func (s *Scheduler) TriggerIncidentReport(ctx context.Context, incident *models.Incident) {
	key := incident.IncidentID
	seen, err := s.dedup.SeenRecently(ctx, "incident:"+key)
	if err != nil {
		log.Warn("dedup check failed, triggering anyway", "incident_id", key, "error", err)
	} else if seen {
		log.Info("incident report already triggered recently, skipping", "incident_id", key)
		return
	}

	status := &models.ReportStatus{
		ReportID:    idgen.NewReportID(s.now()),
		Kind:        models.ReportKindIncident,
		Key:         key,
		Status:      models.ReportPending,
		TriggeredAt: s.now(),
	}
	if _, err := s.reports.Create(ctx, status); err != nil {
		log.Warn("failed to write report status record", "incident_id", key, "error", err)
	}

	go s.run(status, func(genCtx context.Context) error {
		return s.generator.GenerateIncidentReport(genCtx, incident)
	})
}

// RunDailyDigest sweeps the prior day's resolved incidents and triggers one
// batch digest covering them, deduped by date so overlapping or re-entrant
// cron ticks don't double-fire.
func (s *Scheduler) RunDailyDigest(ctx context.Context) {
	today := s.now().Format("2006-01-02")
	seen, err := s.dedup.SeenRecently(ctx, "daily:"+today)
	if err != nil {
		log.Warn("dedup check failed, triggering anyway", "date", today, "error", err)
	} else if seen {
		log.Info("daily digest already triggered today, skipping", "date", today)
		return
	}

	since := s.now().Add(-24 * time.Hour)
	incidents, err := s.incidents.ResolvedSince(ctx, since, 500)
	if err != nil {
		log.Error("failed to sweep resolved incidents for daily digest", "error", err)
		return
	}
	if len(incidents) == 0 {
		log.Info("no resolved incidents in window, skipping daily digest", "date", today)
		return
	}

	status := &models.ReportStatus{
		ReportID:    idgen.NewReportID(s.now()),
		Kind:        models.ReportKindDaily,
		Key:         "daily:" + today,
		Status:      models.ReportPending,
		TriggeredAt: s.now(),
	}
	if _, err := s.reports.Create(ctx, status); err != nil {
		log.Warn("failed to write report status record", "date", today, "error", err)
	}

	s.run(status, func(genCtx context.Context) error {
		return s.generator.GenerateDigest(genCtx, incidents)
	})
}

// run executes call under a deadline, isolating one slow or hung generator
// call from the rest of the scheduler, and transitions status to its
// terminal state.
func (s *Scheduler) run(status *models.ReportStatus, call func(ctx context.Context) error) {
	status.Status = models.ReportGenerating
	if _, err := s.reports.Update(context.Background(), status); err != nil {
		log.Warn("failed to persist report status transition", "report_id", status.ReportID, "error", err)
	}

	genCtx, cancel := context.WithTimeout(context.Background(), s.reportTimeout)
	defer cancel()

	err := call(genCtx)
	completedAt := s.now()
	status.CompletedAt = &completedAt
	if err != nil {
		status.Status = models.ReportFailed
		status.Error = err.Error()
		log.Warn("report generation failed", "report_id", status.ReportID, "key", status.Key, "error", err)
	} else {
		status.Status = models.ReportCompleted
	}
	if _, err := s.reports.Update(context.Background(), status); err != nil {
		log.Warn("failed to persist report status completion", "report_id", status.ReportID, "error", err)
	}
}
