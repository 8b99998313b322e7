// Package monitor maintains a live view model of workflow executions by
// consuming push-channel events, with an HTTP polling fallback and command
// operations against the executor API.
package monitor

import (
	"time"

	"github.com/openivr/flowpulse/pkg/events"
	"github.com/openivr/flowpulse/pkg/models"
)

// Reduce applies one event to a snapshot and returns the resulting snapshot.
// The input is never mutated: changed state comes back as a new value, and
// events that change nothing (unknown workflow, stale sequence, unknown event
// name) return the input snapshot itself so callers can detect no-ops by
// reference equality.
//
// now supplies the receipt time used for log entries without an origin
// timestamp and for NodeStatus.LastExecuted.
func Reduce(snap *models.Snapshot, env events.Envelope, now time.Time) (*models.Snapshot, error) {
	switch env.Event {
	case events.EventWorkflowsUpdated:
		var p events.WorkflowsUpdated
		if err := env.DecodePayload(&p); err != nil {
			return snap, err
		}
		out := snap.Copy()
		out.Workflows = p.Workflows
		if out.Workflows == nil {
			out.Workflows = []models.Workflow{}
		}
		return out, nil

	case events.EventExecutionStarted:
		var p events.ExecutionStarted
		if err := env.DecodePayload(&p); err != nil {
			return snap, err
		}
		exec := p.Execution
		if exec.Status == "" {
			exec.Status = models.ExecutionRunning
		}
		if exec.StartTime.IsZero() {
			exec.StartTime = now
		}
		if exec.ExecutionLog == nil {
			exec.ExecutionLog = []models.ExecutionLogEntry{}
		}
		out := snap.Copy()
		// At most one tracked execution per workflow: a restart supersedes
		// the previous entry rather than duplicating it.
		kept := out.Executions[:0]
		for _, e := range out.Executions {
			if e.WorkflowID != exec.WorkflowID {
				kept = append(kept, e)
			}
		}
		out.Executions = append(kept, exec)
		return out, nil

	case events.EventExecutionProgress:
		var p events.ExecutionProgress
		if err := env.DecodePayload(&p); err != nil {
			return snap, err
		}
		idx := executionIndex(snap, p.WorkflowID)
		if idx < 0 {
			// No implicit creation: progress for an untracked workflow
			// is dropped.
			return snap, nil
		}
		if p.Seq != 0 && p.Seq <= snap.Executions[idx].Seq {
			// Duplicate or out-of-order delivery.
			return snap, nil
		}
		out := snap.Copy()
		exec := &out.Executions[idx]
		ts := p.Timestamp
		if ts.IsZero() {
			ts = now
		}
		exec.ExecutionLog = append(exec.ExecutionLog, models.ExecutionLogEntry{
			NodeID:    p.NodeID,
			Timestamp: ts,
			Status:    p.Status,
			Message:   p.Message,
			Data:      p.Data,
		})
		exec.CurrentNodeID = p.NodeID
		if p.Status == models.NodeSuccess && exec.Metrics.TotalNodes > 0 {
			exec.Progress += 100 / float64(exec.Metrics.TotalNodes)
			if exec.Progress > 100 {
				exec.Progress = 100
			}
		}
		if p.Seq != 0 {
			exec.Seq = p.Seq
		}
		node := out.NodeStatuses[p.NodeID]
		node.Status = p.Status
		node.LastExecuted = now
		if p.Status == models.NodeSuccess {
			node.ExecutionCount++
		}
		out.NodeStatuses[p.NodeID] = node
		return out, nil

	case events.EventExecutionCompleted:
		var p events.ExecutionCompleted
		if err := env.DecodePayload(&p); err != nil {
			return snap, err
		}
		idx := executionIndex(snap, p.WorkflowID)
		if idx < 0 {
			return snap, nil
		}
		out := snap.Copy()
		exec := &out.Executions[idx]
		exec.Status = p.Status
		exec.EndTime = p.EndTime
		if p.Status == models.ExecutionCompleted {
			exec.Progress = 100
		}
		mergeMetrics(&exec.Metrics, p.FinalMetrics)
		return out, nil

	case events.EventSystemMetrics:
		var p events.SystemMetricsUpdated
		if err := env.DecodePayload(&p); err != nil {
			return snap, err
		}
		out := snap.Copy()
		out.SystemMetrics = p.Metrics
		return out, nil

	case events.EventNodeMetrics:
		var p events.NodeMetrics
		if err := env.DecodePayload(&p); err != nil {
			return snap, err
		}
		out := snap.Copy()
		node := out.NodeStatuses[p.NodeID]
		node.AverageTime = p.AverageTime
		node.ExecutionCount = p.ExecutionCount
		out.NodeStatuses[p.NodeID] = node
		return out, nil
	}

	return snap, nil
}

func executionIndex(snap *models.Snapshot, workflowID string) int {
	for i, exec := range snap.Executions {
		if exec.WorkflowID == workflowID {
			return i
		}
	}
	return -1
}

// mergeMetrics overlays the keys present in final onto m; keys in final win.
func mergeMetrics(m *models.ExecutionMetrics, final map[string]interface{}) {
	for key, value := range final {
		num, ok := value.(float64)
		if !ok {
			continue
		}
		switch key {
		case "total_nodes":
			m.TotalNodes = int(num)
		case "completed_nodes":
			m.CompletedNodes = int(num)
		case "failed_nodes":
			m.FailedNodes = int(num)
		case "average_execution_time":
			m.AverageExecutionTime = num
		}
	}
}
