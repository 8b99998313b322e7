// Package events defines the wire format shared by the push channel, the
// relay and the monitor.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openivr/flowpulse/pkg/models"
)

// Channel names. These are fixed by the producing service and must be
// preserved verbatim.
const (
	ChannelWorkflows     = "workflows"
	ChannelExecutions    = "executions"
	ChannelSystemMetrics = "system-metrics"
)

// Event names.
const (
	EventWorkflowsUpdated   = "workflows_updated"
	EventExecutionStarted   = "execution_started"
	EventExecutionProgress  = "execution_progress"
	EventExecutionCompleted = "execution_completed"
	EventSystemMetrics      = "system_metrics"
	EventNodeMetrics        = "node_metrics"
)

// Channels returns the channel names the monitor subscribes to.
func Channels() []string {
	return []string{ChannelWorkflows, ChannelExecutions, ChannelSystemMetrics}
}

// Envelope wraps one event as delivered on the push channel.
type Envelope struct {
	// Channel the event was published on
	Channel string `json:"channel"`

	// Event name, one of the Event* constants
	Event string `json:"event"`

	// Payload is the event-specific body
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope for publishing.
func NewEnvelope(channel, event string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return Envelope{Channel: channel, Event: event, Payload: raw}, nil
}

// WorkflowsUpdated replaces the workflow list wholesale.
type WorkflowsUpdated struct {
	Workflows []models.Workflow `json:"workflows"`
}

// ExecutionStarted announces a new execution. Any previously tracked
// execution for the same workflow is superseded.
type ExecutionStarted struct {
	Execution models.ExecutionStatus `json:"execution"`
}

// ExecutionProgress reports one node's progress within a running execution.
type ExecutionProgress struct {
	WorkflowID string                 `json:"workflow_id"`
	NodeID     string                 `json:"node_id"`
	Status     string                 `json:"status"` // "running", "success", "error"
	Message    string                 `json:"message,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`

	// Timestamp is the origin time of the report. Zero when the producer
	// does not stamp it; the reducer then uses local receipt time.
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Seq is a per-workflow monotonic sequence number. Zero means the
	// producer does not stamp sequences and the event applies naively.
	Seq uint64 `json:"seq,omitempty"`
}

// ExecutionCompleted marks an execution terminal.
type ExecutionCompleted struct {
	WorkflowID string    `json:"workflow_id"`
	Status     string    `json:"status"` // "completed" or "failed"
	EndTime    time.Time `json:"end_time"`

	// FinalMetrics is shallow-merged over the execution's metrics; keys
	// present here win. Recognized keys match ExecutionMetrics json tags.
	FinalMetrics map[string]interface{} `json:"final_metrics,omitempty"`
}

// SystemMetricsUpdated replaces the system metrics wholesale.
type SystemMetricsUpdated struct {
	Metrics models.SystemMetrics `json:"metrics"`
}

// NodeMetrics upserts aggregate statistics for one node. The node's status
// is left untouched.
type NodeMetrics struct {
	NodeID         string  `json:"node_id"`
	AverageTime    float64 `json:"average_time"`
	ExecutionCount int     `json:"execution_count"`
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s event has no payload", e.Event)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Event, err)
	}
	return nil
}
