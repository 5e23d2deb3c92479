// Package audit defines the event model shared by the ingestion pipeline.
//
// Events are immutable once created by a producer: the pipeline works on
// copies and never mutates the caller's value. Identity is assigned by the
// durable store, not here.
package audit

import "time"

// Severity classifies how serious an audited action is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Entity identifies the business object an event is about.
type Entity struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	ReferenceCode string `json:"referenceCode,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
}

// Actor identifies who performed the action.
type Actor struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// Workflow carries optional workflow context for events emitted from
// workflow transitions.
type Workflow struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	StepID   string `json:"stepId,omitempty"`
	StepName string `json:"stepName,omitempty"`
}

// Event is one state-changing action captured for the audit trail.
//
// EventType uses a dotted taxonomy (e.g. "document.version.published").
// Details is free-form producer data and is the only part of the event
// subject to redaction. HashPrev and HashCurr are set by the pipeline when
// hash chaining is enabled for the tenant; producers leave them empty.
type Event struct {
	ID         string         `json:"id,omitempty"`
	TenantID   string         `json:"tenantId"`
	EventType  string         `json:"eventType"`
	Severity   Severity       `json:"severity"`
	InstanceID string         `json:"instanceId,omitempty"`
	Entity     Entity         `json:"entity"`
	Workflow   *Workflow      `json:"workflow,omitempty"`
	Actor      Actor          `json:"actor"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
	HashPrev   string         `json:"hashPrev,omitempty"`
	HashCurr   string         `json:"hashCurr,omitempty"`
}

// Clone returns a deep copy of the event. Details and nested values are
// copied so downstream stages can rewrite them without touching the
// producer's map.
func (e Event) Clone() Event {
	out := e
	if e.Workflow != nil {
		wf := *e.Workflow
		out.Workflow = &wf
	}
	if e.Details != nil {
		out.Details = cloneMap(e.Details)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
