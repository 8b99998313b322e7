// Package models defines the view-model types mirrored from the workflow
// executor's event stream.
package models

import "time"

// Execution states.
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
	ExecutionPaused    = "paused"
)

// Node states.
const (
	NodeIdle    = "idle"
	NodeRunning = "running"
	NodeSuccess = "success"
	NodeError   = "error"
)

// ExecutionStatus represents the current state of a workflow execution.
// There is at most one tracked execution per workflow at a time.
type ExecutionStatus struct {
	// WorkflowID identifies the workflow this execution belongs to
	WorkflowID string `json:"workflow_id"`

	// Status of the execution
	Status string `json:"status"` // "running", "completed", "failed", "paused"

	// CurrentNodeID is the node last reported active (informational only)
	CurrentNodeID string `json:"current_node_id,omitempty"`

	// Progress of the execution (0-100%), non-decreasing while running
	Progress float64 `json:"progress"`

	// StartTime is when the execution started
	StartTime time.Time `json:"start_time"`

	// EndTime is set only when the execution reaches a terminal state
	EndTime time.Time `json:"end_time,omitempty"`

	// ExecutionLog is the append-only ordered log of node progress events
	ExecutionLog []ExecutionLogEntry `json:"execution_log"`

	// Metrics is a summary replaced wholesale on completion
	Metrics ExecutionMetrics `json:"metrics"`

	// Seq is the highest event sequence number applied to this execution.
	// Zero when the producer does not stamp sequence numbers.
	Seq uint64 `json:"seq,omitempty"`
}

// ExecutionLogEntry represents one node progress report.
type ExecutionLogEntry struct {
	// NodeID is the node that produced the entry
	NodeID string `json:"node_id"`

	// Timestamp of the entry. Origin time when the event carries one,
	// local receipt time otherwise.
	Timestamp time.Time `json:"timestamp"`

	// Status reported for the node
	Status string `json:"status"` // "running", "success", "error"

	// Message is a human-readable description
	Message string `json:"message,omitempty"`

	// Data is additional context for the entry
	Data map[string]interface{} `json:"data,omitempty"`
}

// ExecutionMetrics summarizes an execution.
type ExecutionMetrics struct {
	// TotalNodes is the number of nodes in the workflow graph
	TotalNodes int `json:"total_nodes"`

	// CompletedNodes is the number of nodes that finished successfully
	CompletedNodes int `json:"completed_nodes"`

	// FailedNodes is the number of nodes that ended in error
	FailedNodes int `json:"failed_nodes"`

	// AverageExecutionTime is the mean node runtime in milliseconds
	AverageExecutionTime float64 `json:"average_execution_time"`
}

// ExecutionHandle is returned when an execution is requested. The actual
// state change arrives later on the event channel.
type ExecutionHandle struct {
	// ExecutionID assigned by the executor
	ExecutionID string `json:"execution_id"`

	// WorkflowID the handle refers to
	WorkflowID string `json:"workflow_id"`

	// Status at the time the command was accepted
	Status string `json:"status,omitempty"`
}
