package webhook

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Warning categories folded into the /health response.
const (
	WarningCategoryMCPHealth   = "mcp_health"
	WarningCategoryAgentCard   = "agent_card_unreachable"
	WarningCategoryCircuitOpen = "circuit_breaker_open"
)

// Warning is a non-fatal condition worth surfacing to an operator without
// failing the health check outright.
type Warning struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	SourceID  string    `json:"source_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WarningsRegistry is a small in-memory, read-mostly aggregation of
// degraded-but-not-down conditions (MCP server down, agent card
// unreachable, circuit breaker open), reset on process restart.
type WarningsRegistry struct {
	mu       sync.RWMutex
	warnings map[string]*Warning
}

func NewWarningsRegistry() *WarningsRegistry {
	return &WarningsRegistry{warnings: make(map[string]*Warning)}
}

// Set adds or replaces the warning for (category, sourceID).
func (r *WarningsRegistry) Set(category, message, sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range r.warnings {
		if w.Category == category && w.SourceID == sourceID {
			delete(r.warnings, id)
			break
		}
	}

	id := uuid.NewString()
	r.warnings[id] = &Warning{
		ID:        id,
		Category:  category,
		Message:   message,
		SourceID:  sourceID,
		CreatedAt: time.Now().UTC(),
	}
}

// Clear removes the warning for (category, sourceID), if any.
func (r *WarningsRegistry) Clear(category, sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range r.warnings {
		if w.Category == category && w.SourceID == sourceID {
			delete(r.warnings, id)
			return
		}
	}
}

// List returns a value-copy snapshot of all active warnings.
func (r *WarningsRegistry) List() []*Warning {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Warning, 0, len(r.warnings))
	for _, w := range r.warnings {
		cp := *w
		out = append(out, &cp)
	}
	return out
}
