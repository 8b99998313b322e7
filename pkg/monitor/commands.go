package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openivr/flowpulse/pkg/models"
)

// CommandClient issues workflow commands against the executor API. Commands
// are fire-and-forget from the view model's perspective: the resulting state
// change arrives later on the event channel.
type CommandClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewCommandClient builds a command client for the API at baseURL.
func NewCommandClient(baseURL, token string, client *http.Client) *CommandClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CommandClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// apiResponse is the command endpoint envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Execute starts a workflow, optionally with input data, and returns the
// execution handle the executor assigned.
func (c *CommandClient) Execute(ctx context.Context, workflowID string, input map[string]interface{}) (*models.ExecutionHandle, error) {
	body := map[string]interface{}{"workflow_id": workflowID}
	if input != nil {
		body["input_data"] = input
	}
	data, err := c.post(ctx, "/api/workflow/execute", body)
	if err != nil {
		return nil, err
	}
	var handle models.ExecutionHandle
	if len(data) > 0 {
		if err := json.Unmarshal(data, &handle); err != nil {
			return nil, fmt.Errorf("failed to decode execution handle: %w", err)
		}
	}
	return &handle, nil
}

// Pause suspends a running execution.
func (c *CommandClient) Pause(ctx context.Context, workflowID string) error {
	_, err := c.post(ctx, "/api/workflow/pause", map[string]interface{}{"workflow_id": workflowID})
	return err
}

// Resume continues a paused execution.
func (c *CommandClient) Resume(ctx context.Context, workflowID string) error {
	_, err := c.post(ctx, "/api/workflow/resume", map[string]interface{}{"workflow_id": workflowID})
	return err
}

// Stop cancels an execution.
func (c *CommandClient) Stop(ctx context.Context, workflowID string) error {
	_, err := c.post(ctx, "/api/workflow/stop", map[string]interface{}{"workflow_id": workflowID})
	return err
}

func (c *CommandClient) post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && envelope.Error != "" {
			return nil, fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, envelope.Error)
		}
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, decodeErr)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("%s rejected: %s", path, envelope.Error)
	}
	return envelope.Data, nil
}
