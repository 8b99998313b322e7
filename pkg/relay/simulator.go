package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openivr/flowpulse/pkg/events"
	"github.com/openivr/flowpulse/pkg/models"
)

// Publisher is the event sink a simulator drives; *Server satisfies it.
type Publisher interface {
	Publish(channel, event string, payload interface{}) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(channel, event string, payload interface{}) error

// Publish calls f.
func (f PublisherFunc) Publish(channel, event string, payload interface{}) error {
	return f(channel, event, payload)
}

// Simulator is a stand-in Executor that runs scripted executions and reports
// them through the publisher, for demos and end-to-end exercise of the
// monitor without a real workflow engine.
type Simulator struct {
	publisher    Publisher
	logger       *slog.Logger
	stepInterval time.Duration
	totalNodes   int

	mu     sync.Mutex
	runs   map[string]*simRun
	seqs   map[string]uint64
	active int
}

type simRun struct {
	cancel context.CancelFunc
	pause  chan bool // true pauses, false resumes
}

// NewSimulator creates a simulator publishing through p.
func NewSimulator(p Publisher, logger *slog.Logger) *Simulator {
	return &Simulator{
		publisher:    p,
		logger:       logger,
		stepInterval: 2 * time.Second,
		totalNodes:   4,
		runs:         map[string]*simRun{},
		seqs:         map[string]uint64{},
	}
}

// Announce publishes the simulator's workflow catalog.
func (s *Simulator) Announce(workflows []models.Workflow) error {
	return s.publisher.Publish(events.ChannelWorkflows, events.EventWorkflowsUpdated,
		events.WorkflowsUpdated{Workflows: workflows})
}

// Execute starts a scripted run for the workflow. A run already in flight
// for the same workflow is superseded.
func (s *Simulator) Execute(ctx context.Context, workflowID string, input map[string]interface{}) (models.ExecutionHandle, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	run := &simRun{cancel: cancel, pause: make(chan bool, 1)}

	s.mu.Lock()
	if prev, exists := s.runs[workflowID]; exists {
		prev.cancel()
	}
	s.runs[workflowID] = run
	s.active++
	s.mu.Unlock()

	handle := models.ExecutionHandle{
		ExecutionID: uuid.NewString(),
		WorkflowID:  workflowID,
		Status:      models.ExecutionRunning,
	}
	go s.drive(runCtx, workflowID, run)
	return handle, nil
}

// Pause suspends a scripted run.
func (s *Simulator) Pause(ctx context.Context, workflowID string) error {
	return s.signal(workflowID, true)
}

// Resume continues a paused run.
func (s *Simulator) Resume(ctx context.Context, workflowID string) error {
	return s.signal(workflowID, false)
}

// Stop cancels a run; it is reported as failed.
func (s *Simulator) Stop(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	run, exists := s.runs[workflowID]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("no execution for workflow %s", workflowID)
	}
	run.cancel()
	return nil
}

func (s *Simulator) signal(workflowID string, pause bool) error {
	s.mu.Lock()
	run, exists := s.runs[workflowID]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("no execution for workflow %s", workflowID)
	}
	select {
	case run.pause <- pause:
	default:
	}
	return nil
}

func (s *Simulator) drive(ctx context.Context, workflowID string, run *simRun) {
	defer s.finish(workflowID, run)

	start := time.Now()
	s.publish(events.ChannelExecutions, events.EventExecutionStarted, events.ExecutionStarted{
		Execution: models.ExecutionStatus{
			WorkflowID: workflowID,
			Status:     models.ExecutionRunning,
			StartTime:  start,
			Metrics:    models.ExecutionMetrics{TotalNodes: s.totalNodes},
		},
	})
	s.publishSystemMetrics()

	paused := false
	for i := 0; i < s.totalNodes; i++ {
		nodeID := fmt.Sprintf("node-%d", i+1)

		s.publish(events.ChannelExecutions, events.EventExecutionProgress, events.ExecutionProgress{
			WorkflowID: workflowID,
			NodeID:     nodeID,
			Status:     models.NodeRunning,
			Message:    "node started",
			Timestamp:  time.Now(),
			Seq:        s.nextSeq(workflowID),
		})

		if !s.sleep(ctx, run, &paused) {
			s.publish(events.ChannelExecutions, events.EventExecutionCompleted, events.ExecutionCompleted{
				WorkflowID: workflowID,
				Status:     models.ExecutionFailed,
				EndTime:    time.Now(),
				FinalMetrics: map[string]interface{}{
					"completed_nodes": float64(i),
					"failed_nodes":    float64(1),
				},
			})
			return
		}

		s.publish(events.ChannelExecutions, events.EventExecutionProgress, events.ExecutionProgress{
			WorkflowID: workflowID,
			NodeID:     nodeID,
			Status:     models.NodeSuccess,
			Message:    "node completed",
			Timestamp:  time.Now(),
			Seq:        s.nextSeq(workflowID),
		})
	}

	s.publish(events.ChannelExecutions, events.EventExecutionCompleted, events.ExecutionCompleted{
		WorkflowID: workflowID,
		Status:     models.ExecutionCompleted,
		EndTime:    time.Now(),
		FinalMetrics: map[string]interface{}{
			"completed_nodes":        float64(s.totalNodes),
			"average_execution_time": float64(s.stepInterval.Milliseconds()),
		},
	})
}

// sleep waits one step interval, honoring pause/resume signals. It returns
// false when the run was canceled.
func (s *Simulator) sleep(ctx context.Context, run *simRun, paused *bool) bool {
	timer := time.NewTimer(s.stepInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case p := <-run.pause:
			*paused = p
			if !p {
				timer.Reset(s.stepInterval)
			}
		case <-timer.C:
			if *paused {
				continue
			}
			return true
		}
	}
}

func (s *Simulator) finish(workflowID string, run *simRun) {
	run.cancel()
	s.mu.Lock()
	if s.runs[workflowID] == run {
		delete(s.runs, workflowID)
	}
	s.active--
	s.mu.Unlock()
	s.publishSystemMetrics()
}

func (s *Simulator) publishSystemMetrics() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	s.publish(events.ChannelSystemMetrics, events.EventSystemMetrics, events.SystemMetricsUpdated{
		Metrics: models.SystemMetrics{ActiveWorkflows: active},
	})
}

func (s *Simulator) nextSeq(workflowID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[workflowID]++
	return s.seqs[workflowID]
}

func (s *Simulator) publish(channel, event string, payload interface{}) {
	if err := s.publisher.Publish(channel, event, payload); err != nil {
		s.logger.Warn("simulator publish failed",
			slog.String("event", event), slog.Any("error", err))
	}
}
