package analyst

import (
	"context"

	"github.com/arome3/vigil/pkg/models"
)

// ReportGenerator produces the actual report/retrospective content. Its
// implementation is an external collaborator (an LLM-driven generator, a
// templating service, whatever the deployment wires in) -- the scheduler
// only tracks whether a call was made and whether it succeeded.
type ReportGenerator interface {
	// GenerateIncidentReport produces a retrospective for one resolved
	// incident.
	GenerateIncidentReport(ctx context.Context, incident *models.Incident) error
	// GenerateDigest produces one batch report covering incidents, for the
	// daily scheduled run.
	GenerateDigest(ctx context.Context, incidents []*models.Incident) error
}

// NoopGenerator satisfies ReportGenerator without producing content. It is
// the scheduler's default when no generator is wired, so triggering is
// always safe to call even before a real generator exists.
type NoopGenerator struct{}

func (NoopGenerator) GenerateIncidentReport(ctx context.Context, incident *models.Incident) error {
	return nil
}

func (NoopGenerator) GenerateDigest(ctx context.Context, incidents []*models.Incident) error {
	return nil
}

var _ ReportGenerator = NoopGenerator{}
