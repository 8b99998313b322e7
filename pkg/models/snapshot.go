package models

import "time"

// Workflow is a summary of a configured workflow, replaced wholesale by
// workflows_updated events.
type Workflow struct {
	// ID of the workflow
	ID string `json:"id"`

	// Name of the workflow
	Name string `json:"name"`

	// Description of the workflow
	Description string `json:"description,omitempty"`

	// Active indicates whether the workflow accepts new executions
	Active bool `json:"active"`

	// UpdatedAt is when the workflow definition last changed
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// NodeStatus holds aggregate statistics for a workflow node.
//
// The key space is flat: a node identifier reused across workflows shares a
// single record, so these are cross-run aggregates rather than per-execution
// state.
type NodeStatus struct {
	// Status last reported for the node
	Status string `json:"status"` // "idle", "running", "success", "error"

	// LastExecuted is when the node was last reported on
	LastExecuted time.Time `json:"last_executed,omitempty"`

	// ExecutionCount is the number of successful runs
	ExecutionCount int `json:"execution_count"`

	// AverageTime is the mean node runtime in milliseconds
	AverageTime float64 `json:"average_time"`
}

// SystemMetrics is a flat executor-wide gauge set, replaced wholesale on
// each update (last write wins).
type SystemMetrics struct {
	// ActiveWorkflows is the number of workflows with a live execution
	ActiveWorkflows int `json:"active_workflows"`

	// QueuedExecutions is the number of executions waiting to start
	QueuedExecutions int `json:"queued_executions"`

	// SystemLoad is the executor's load factor (0-1)
	SystemLoad float64 `json:"system_load"`

	// MemoryUsage is the executor's memory usage fraction (0-1)
	MemoryUsage float64 `json:"memory_usage"`
}

// Snapshot is the full view model derived from the event stream. Snapshots
// are immutable: every state transition produces a new value, so consumers
// may rely on reference equality for change detection.
type Snapshot struct {
	// Workflows known to the executor
	Workflows []Workflow `json:"workflows"`

	// Executions currently tracked, at most one per workflow
	Executions []ExecutionStatus `json:"executions"`

	// NodeStatuses keyed by node ID, shared across workflows
	NodeStatuses map[string]NodeStatus `json:"node_statuses"`

	// SystemMetrics is the latest executor-wide gauge set
	SystemMetrics SystemMetrics `json:"system_metrics"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Workflows:    []Workflow{},
		Executions:   []ExecutionStatus{},
		NodeStatuses: map[string]NodeStatus{},
	}
}

// Copy returns a deep copy of the snapshot. Log entry Data maps are shared;
// they are append-only and never mutated after creation.
func (s *Snapshot) Copy() *Snapshot {
	out := &Snapshot{
		Workflows:     make([]Workflow, len(s.Workflows)),
		Executions:    make([]ExecutionStatus, len(s.Executions)),
		NodeStatuses:  make(map[string]NodeStatus, len(s.NodeStatuses)),
		SystemMetrics: s.SystemMetrics,
	}
	copy(out.Workflows, s.Workflows)
	for i, exec := range s.Executions {
		log := make([]ExecutionLogEntry, len(exec.ExecutionLog))
		copy(log, exec.ExecutionLog)
		exec.ExecutionLog = log
		out.Executions[i] = exec
	}
	for id, ns := range s.NodeStatuses {
		out.NodeStatuses[id] = ns
	}
	return out
}

// Execution returns the tracked execution for a workflow, if any.
func (s *Snapshot) Execution(workflowID string) (ExecutionStatus, bool) {
	for _, exec := range s.Executions {
		if exec.WorkflowID == workflowID {
			return exec, true
		}
	}
	return ExecutionStatus{}, false
}
