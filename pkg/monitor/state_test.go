package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openivr/flowpulse/pkg/events"
	"github.com/openivr/flowpulse/pkg/models"
)

func mustEnvelope(t *testing.T, channel, event string, payload interface{}) events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(channel, event, payload)
	require.NoError(t, err)
	return env
}

func startedEnvelope(t *testing.T, workflowID string, totalNodes int) events.Envelope {
	t.Helper()
	return mustEnvelope(t, events.ChannelExecutions, events.EventExecutionStarted, events.ExecutionStarted{
		Execution: models.ExecutionStatus{
			WorkflowID: workflowID,
			Status:     models.ExecutionRunning,
			StartTime:  time.Now(),
			Metrics:    models.ExecutionMetrics{TotalNodes: totalNodes},
		},
	})
}

func progressEnvelope(t *testing.T, workflowID, nodeID, status string) events.Envelope {
	t.Helper()
	return mustEnvelope(t, events.ChannelExecutions, events.EventExecutionProgress, events.ExecutionProgress{
		WorkflowID: workflowID,
		NodeID:     nodeID,
		Status:     status,
		Message:    "step",
	})
}

func TestReduceExecutionStartedReplacesExisting(t *testing.T) {
	now := time.Now()
	snap := models.NewSnapshot()

	snap, err := Reduce(snap, startedEnvelope(t, "wf1", 4), now)
	require.NoError(t, err)
	snap, err = Reduce(snap, startedEnvelope(t, "wf1", 2), now)
	require.NoError(t, err)

	require.Len(t, snap.Executions, 1)
	assert.Equal(t, "wf1", snap.Executions[0].WorkflowID)
	assert.Equal(t, 2, snap.Executions[0].Metrics.TotalNodes)
}

func TestReduceProgressUnknownWorkflowIsNoOp(t *testing.T) {
	now := time.Now()
	snap := models.NewSnapshot()
	snap, err := Reduce(snap, startedEnvelope(t, "wf1", 4), now)
	require.NoError(t, err)

	out, err := Reduce(snap, progressEnvelope(t, "wf-unknown", "node-1", models.NodeSuccess), now)
	require.NoError(t, err)
	assert.Same(t, snap, out, "no-op events return the input snapshot")
	assert.Len(t, out.Executions, 1)
	assert.Empty(t, out.Executions[0].ExecutionLog)
}

func TestReduceProgressAccumulatesAndClamps(t *testing.T) {
	now := time.Now()
	snap := models.NewSnapshot()
	snap, err := Reduce(snap, startedEnvelope(t, "wf1", 4), now)
	require.NoError(t, err)

	// More success events than nodes must never push progress past 100.
	for i := 0; i < 7; i++ {
		snap, err = Reduce(snap, progressEnvelope(t, "wf1", "node-a", models.NodeSuccess), now)
		require.NoError(t, err)
	}

	exec, ok := snap.Execution("wf1")
	require.True(t, ok)
	assert.Equal(t, float64(100), exec.Progress)
	assert.Len(t, exec.ExecutionLog, 7, "the log keeps every event even after clamping")
}

func TestReduceRoundTrip(t *testing.T) {
	now := time.Now()
	snap := models.NewSnapshot()
	snap, err := Reduce(snap, startedEnvelope(t, "wf1", 4), now)
	require.NoError(t, err)

	nodes := []string{"node-1", "node-2", "node-3", "node-4"}
	for _, nodeID := range nodes {
		snap, err = Reduce(snap, progressEnvelope(t, "wf1", nodeID, models.NodeSuccess), now)
		require.NoError(t, err)
	}

	exec, ok := snap.Execution("wf1")
	require.True(t, ok)
	assert.InDelta(t, 100, exec.Progress, 1e-9)
	assert.Len(t, exec.ExecutionLog, 4)
	assert.Equal(t, "node-4", exec.CurrentNodeID)
	for _, nodeID := range nodes {
		node := snap.NodeStatuses[nodeID]
		assert.Equal(t, models.NodeSuccess, node.Status)
		assert.Equal(t, 1, node.ExecutionCount)
	}
}

func TestReduceNodeStatusCountsOnlySuccesses(t *testing.T) {
	now := time.Now()
	snap := models.NewSnapshot()
	snap, err := Reduce(snap, startedEnvelope(t, "wf1", 4), now)
	require.NoError(t, err)

	snap, err = Reduce(snap, progressEnvelope(t, "wf1", "node-1", models.NodeRunning), now)
	require.NoError(t, err)
	snap, err = Reduce(snap, progressEnvelope(t, "wf1", "node-1", models.NodeError), now)
	require.NoError(t, err)

	node := snap.NodeStatuses["node-1"]
	assert.Equal(t, models.NodeError, node.Status)
	assert.Equal(t, 0, node.ExecutionCount)

	exec, _ := snap.Execution("wf1")
	assert.Equal(t, float64(0), exec.Progress, "progress only advances on success")
}

func TestReduceCompletedFailedKeepsProgress(t *testing.T) {
	now := time.Now()
	endTime := now.Add(time.Minute)
	snap := models.NewSnapshot()
	snap, err := Reduce(snap, startedEnvelope(t, "wf1", 4), now)
	require.NoError(t, err)
	snap, err = Reduce(snap, progressEnvelope(t, "wf1", "node-1", models.NodeSuccess), now)
	require.NoError(t, err)

	snap, err = Reduce(snap, mustEnvelope(t, events.ChannelExecutions, events.EventExecutionCompleted, events.ExecutionCompleted{
		WorkflowID: "wf1",
		Status:     models.ExecutionFailed,
		EndTime:    endTime,
	}), now)
	require.NoError(t, err)

	exec, ok := snap.Execution("wf1")
	require.True(t, ok)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.True(t, exec.EndTime.Equal(endTime))
	assert.InDelta(t, 25, exec.Progress, 1e-9, "failure leaves progress at its last value")
}

func TestReduceCompletedSetsProgressAndMergesMetrics(t *testing.T) {
	now := time.Now()
	snap := models.NewSnapshot()
	snap, err := Reduce(snap, startedEnvelope(t, "wf1", 4), now)
	require.NoError(t, err)

	snap, err = Reduce(snap, mustEnvelope(t, events.ChannelExecutions, events.EventExecutionCompleted, events.ExecutionCompleted{
		WorkflowID: "wf1",
		Status:     models.ExecutionCompleted,
		EndTime:    now.Add(time.Minute),
		FinalMetrics: map[string]interface{}{
			"completed_nodes":        float64(4),
			"average_execution_time": 125.5,
		},
	}), now)
	require.NoError(t, err)

	exec, _ := snap.Execution("wf1")
	assert.Equal(t, float64(100), exec.Progress)
	assert.Equal(t, 4, exec.Metrics.CompletedNodes)
	assert.Equal(t, 125.5, exec.Metrics.AverageExecutionTime)
	assert.Equal(t, 4, exec.Metrics.TotalNodes, "keys absent from final metrics are kept")
}

func TestReduceDropsStaleSequence(t *testing.T) {
	now := time.Now()
	snap := models.NewSnapshot()
	snap, err := Reduce(snap, startedEnvelope(t, "wf1", 4), now)
	require.NoError(t, err)

	seqProgress := func(seq uint64) events.Envelope {
		return mustEnvelope(t, events.ChannelExecutions, events.EventExecutionProgress, events.ExecutionProgress{
			WorkflowID: "wf1",
			NodeID:     "node-1",
			Status:     models.NodeSuccess,
			Seq:        seq,
		})
	}

	snap, err = Reduce(snap, seqProgress(2), now)
	require.NoError(t, err)

	// Redelivery and an older event both arrive late.
	out, err := Reduce(snap, seqProgress(2), now)
	require.NoError(t, err)
	assert.Same(t, snap, out)
	out, err = Reduce(snap, seqProgress(1), now)
	require.NoError(t, err)
	assert.Same(t, snap, out)

	snap, err = Reduce(snap, seqProgress(3), now)
	require.NoError(t, err)
	exec, _ := snap.Execution("wf1")
	assert.Len(t, exec.ExecutionLog, 2)
	assert.Equal(t, uint64(3), exec.Seq)
}

func TestReduceProgressTimestamps(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	origin := now.Add(-3 * time.Second)
	snap := models.NewSnapshot()
	snap, err := Reduce(snap, startedEnvelope(t, "wf1", 2), now)
	require.NoError(t, err)

	snap, err = Reduce(snap, mustEnvelope(t, events.ChannelExecutions, events.EventExecutionProgress, events.ExecutionProgress{
		WorkflowID: "wf1",
		NodeID:     "node-1",
		Status:     models.NodeSuccess,
		Timestamp:  origin,
	}), now)
	require.NoError(t, err)
	snap, err = Reduce(snap, progressEnvelope(t, "wf1", "node-2", models.NodeSuccess), now)
	require.NoError(t, err)

	exec, _ := snap.Execution("wf1")
	require.Len(t, exec.ExecutionLog, 2)
	assert.True(t, exec.ExecutionLog[0].Timestamp.Equal(origin), "origin timestamp preferred when present")
	assert.True(t, exec.ExecutionLog[1].Timestamp.Equal(now), "receipt time used otherwise")
}

func TestReduceWorkflowsUpdatedReplacesWholesale(t *testing.T) {
	now := time.Now()
	snap := models.NewSnapshot()
	snap, err := Reduce(snap, mustEnvelope(t, events.ChannelWorkflows, events.EventWorkflowsUpdated, events.WorkflowsUpdated{
		Workflows: []models.Workflow{{ID: "a"}, {ID: "b"}},
	}), now)
	require.NoError(t, err)
	snap, err = Reduce(snap, mustEnvelope(t, events.ChannelWorkflows, events.EventWorkflowsUpdated, events.WorkflowsUpdated{
		Workflows: []models.Workflow{{ID: "c"}},
	}), now)
	require.NoError(t, err)

	require.Len(t, snap.Workflows, 1)
	assert.Equal(t, "c", snap.Workflows[0].ID)
}

func TestReduceSystemMetricsLastWriteWins(t *testing.T) {
	now := time.Now()
	snap := models.NewSnapshot()
	var err error
	for _, active := range []int{3, 7} {
		snap, err = Reduce(snap, mustEnvelope(t, events.ChannelSystemMetrics, events.EventSystemMetrics, events.SystemMetricsUpdated{
			Metrics: models.SystemMetrics{ActiveWorkflows: active, SystemLoad: 0.5},
		}), now)
		require.NoError(t, err)
	}
	assert.Equal(t, 7, snap.SystemMetrics.ActiveWorkflows)
}

func TestReduceNodeMetricsLeavesStatusUntouched(t *testing.T) {
	now := time.Now()
	snap := models.NewSnapshot()
	snap, err := Reduce(snap, startedEnvelope(t, "wf1", 2), now)
	require.NoError(t, err)
	snap, err = Reduce(snap, progressEnvelope(t, "wf1", "node-1", models.NodeRunning), now)
	require.NoError(t, err)

	snap, err = Reduce(snap, mustEnvelope(t, events.ChannelSystemMetrics, events.EventNodeMetrics, events.NodeMetrics{
		NodeID:         "node-1",
		AverageTime:    80,
		ExecutionCount: 12,
	}), now)
	require.NoError(t, err)

	node := snap.NodeStatuses["node-1"]
	assert.Equal(t, models.NodeRunning, node.Status)
	assert.Equal(t, 12, node.ExecutionCount)
	assert.Equal(t, float64(80), node.AverageTime)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	now := time.Now()
	snap := models.NewSnapshot()
	snap, err := Reduce(snap, startedEnvelope(t, "wf1", 4), now)
	require.NoError(t, err)

	before := snap
	after, err := Reduce(snap, progressEnvelope(t, "wf1", "node-1", models.NodeSuccess), now)
	require.NoError(t, err)

	assert.NotSame(t, before, after)
	assert.Empty(t, before.Executions[0].ExecutionLog)
	assert.Len(t, after.Executions[0].ExecutionLog, 1)
	assert.Equal(t, float64(0), before.Executions[0].Progress)
}
