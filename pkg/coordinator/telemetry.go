package coordinator

import (
	"context"
	"time"

	"github.com/arome3/vigil/pkg/idgen"
	"github.com/arome3/vigil/pkg/storage"
)

// StorageTelemetry satisfies Telemetry by writing each record to the
// generic "watcher-telemetry" index, fire-and-forget: a write failure is
// logged and dropped, never surfaced to the poll loop it instruments.
type StorageTelemetry struct {
	client *storage.Client
}

func NewStorageTelemetry(client *storage.Client) *StorageTelemetry {
	return &StorageTelemetry{client: client}
}

func (t *StorageTelemetry) Record(ctx context.Context, component string, fields map[string]any) {
	body := map[string]any{
		"component": component,
		"timestamp": time.Now().UTC(),
	}
	for k, v := range fields {
		body[k] = v
	}
	if _, err := t.client.Index(ctx, "watcher-telemetry", idgen.NewMessageID(), body); err != nil {
		log.Warn("watcher telemetry write failed", "component", component, "error", err)
	}
}
