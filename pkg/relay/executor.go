package relay

import (
	"context"

	"github.com/openivr/flowpulse/pkg/models"
)

// Executor is the boundary to the external workflow engine. The relay only
// forwards commands; resulting state changes come back through Publish as
// asynchronous events.
type Executor interface {
	// Execute starts a workflow and returns a handle for the new execution
	Execute(ctx context.Context, workflowID string, input map[string]interface{}) (models.ExecutionHandle, error)

	// Pause suspends a running execution
	Pause(ctx context.Context, workflowID string) error

	// Resume continues a paused execution
	Resume(ctx context.Context, workflowID string) error

	// Stop cancels an execution
	Stop(ctx context.Context, workflowID string) error
}
