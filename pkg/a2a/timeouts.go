package a2a

import "time"

// timeouts is the per-agent A2A round-trip budget table. Unknown
// agents fall back to defaultTimeout.
var timeouts = map[string]time.Duration{
	"triage":        10 * time.Second,
	"investigator":  45 * time.Second,
	"threat_hunter": 60 * time.Second,
	"commander":     30 * time.Second,
	"executor":      90 * time.Second,
	"verifier":      120 * time.Second,
	"sentinel":      30 * time.Second,
	"workflows":     30 * time.Second,
}

const defaultTimeout = 60 * time.Second

// TimeoutFor returns the configured timeout for agentID, or the default.
func TimeoutFor(agentID string) time.Duration {
	if d, ok := timeouts[agentID]; ok {
		return d
	}
	return defaultTimeout
}
