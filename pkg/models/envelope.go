package models

import "time"

// Envelope is the A2A message wrapper. CorrelationID persists across
// reflection-loop iterations; the incident_id is the natural correlation.
type Envelope struct {
	MessageID     string         `json:"message_id"`
	FromAgent     string         `json:"from_agent"`
	ToAgent       string         `json:"to_agent"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload"`
}

// Task returns payload.task, the capability being invoked, or "" if absent.
func (e *Envelope) Task() string {
	if e.Payload == nil {
		return ""
	}
	task, _ := e.Payload["task"].(string)
	return task
}

// Validate checks the envelope carries every required field.
// Missing fields are reported together rather than one at a time, since the
// caller needs the full EnvelopeValidationError to log and fail fast.
func (e *Envelope) Validate() []string {
	var missing []string
	if e.MessageID == "" {
		missing = append(missing, "message_id")
	}
	if e.FromAgent == "" {
		missing = append(missing, "from_agent")
	}
	if e.ToAgent == "" {
		missing = append(missing, "to_agent")
	}
	if e.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if e.CorrelationID == "" {
		missing = append(missing, "correlation_id")
	}
	if e.Payload == nil {
		missing = append(missing, "payload")
	}
	return missing
}
