package models

// AgentCard describes a resolvable agent endpoint and the capabilities it
// exposes. Read-only from the runtime's view.
type AgentCard struct {
	AgentID      string          `json:"agent_id"`
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Capabilities map[string]bool `json:"capabilities"` // task name -> supported
	Endpoint     string          `json:"endpoint"`      // relative path, joined with a base URL
}

// HasCapability reports whether the card advertises task. A card with a nil
// or empty Capabilities set is treated as "capabilities unknown" — the
// router does not gate on it ("if present and does not
// contain").
func (c *AgentCard) HasCapability(task string) bool {
	if len(c.Capabilities) == 0 {
		return true
	}
	return c.Capabilities[task]
}
