package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openivr/flowpulse/pkg/config"
	"github.com/openivr/flowpulse/pkg/events"
	"github.com/openivr/flowpulse/pkg/logging"
	"github.com/openivr/flowpulse/pkg/models"
	"github.com/openivr/flowpulse/pkg/monitor"
)

// MockExecutor for command proxy testing
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, workflowID string, input map[string]interface{}) (models.ExecutionHandle, error) {
	args := m.Called(workflowID, input)
	return args.Get(0).(models.ExecutionHandle), args.Error(1)
}

func (m *MockExecutor) Pause(ctx context.Context, workflowID string) error {
	return m.Called(workflowID).Error(0)
}

func (m *MockExecutor) Resume(ctx context.Context, workflowID string) error {
	return m.Called(workflowID).Error(0)
}

func (m *MockExecutor) Stop(ctx context.Context, workflowID string) error {
	return m.Called(workflowID).Error(0)
}

func newTestServer(t *testing.T, cfg *config.Config, executor Executor) (*Server, *httptest.Server) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	srv := NewServer(cfg, executor, NewMemoryStore(), logging.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServerExecuteCommand(t *testing.T) {
	executor := &MockExecutor{}
	executor.On("Execute", "wf1", mock.Anything).Return(models.ExecutionHandle{
		ExecutionID: "exec-1",
		WorkflowID:  "wf1",
		Status:      models.ExecutionRunning,
	}, nil)

	_, ts := newTestServer(t, nil, executor)

	resp := postJSON(t, ts.URL+"/api/workflow/execute", map[string]interface{}{
		"workflow_id": "wf1",
		"input_data":  map[string]interface{}{"caller": "+15550100"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Success bool                   `json:"success"`
		Data    models.ExecutionHandle `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, "exec-1", envelope.Data.ExecutionID)
	executor.AssertExpectations(t)
}

func TestServerCommandValidation(t *testing.T) {
	_, ts := newTestServer(t, nil, &MockExecutor{})

	resp := postJSON(t, ts.URL+"/api/workflow/pause", map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.False(t, envelope.Success)
	assert.Contains(t, envelope.Error, "workflow_id")
}

func TestServerExecutorFailure(t *testing.T) {
	executor := &MockExecutor{}
	executor.On("Stop", "wf1").Return(assert.AnError)

	_, ts := newTestServer(t, nil, executor)

	resp := postJSON(t, ts.URL+"/api/workflow/stop", map[string]interface{}{"workflow_id": "wf1"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.False(t, envelope.Success)
	assert.NotEmpty(t, envelope.Error)
}

func TestServerLiveDataReflectsPublishedEvents(t *testing.T) {
	srv, ts := newTestServer(t, nil, &MockExecutor{})

	require.NoError(t, srv.Publish(events.ChannelExecutions, events.EventExecutionStarted, events.ExecutionStarted{
		Execution: models.ExecutionStatus{
			WorkflowID: "wf1",
			Status:     models.ExecutionRunning,
			StartTime:  time.Now(),
			Metrics:    models.ExecutionMetrics{TotalNodes: 2},
		},
	}))
	require.NoError(t, srv.Publish(events.ChannelExecutions, events.EventExecutionProgress, events.ExecutionProgress{
		WorkflowID: "wf1",
		NodeID:     "node-1",
		Status:     models.NodeSuccess,
	}))

	resp, err := http.Get(ts.URL + "/api/workflow/live-data")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap models.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Executions, 1)
	assert.Equal(t, "wf1", snap.Executions[0].WorkflowID)
	assert.InDelta(t, 50, snap.Executions[0].Progress, 1e-9)
	assert.Equal(t, 1, snap.NodeStatuses["node-1"].ExecutionCount)
}

func TestServerAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	srv, ts := newTestServer(t, cfg, &MockExecutor{})

	resp, err := http.Get(ts.URL + "/api/workflow/live-data")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := srv.Tokens().GenerateToken("tester")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/workflow/live-data", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// TestServerStreamAuth checks that the push endpoints enforce the same
// credential as the REST routes.
func TestServerStreamAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	srv, ts := newTestServer(t, cfg, &MockExecutor{})

	resp, err := http.Get(ts.URL + "/api/sse")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	_, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, wsResp)
	assert.Equal(t, http.StatusUnauthorized, wsResp.StatusCode)

	token, err := srv.Tokens().GenerateToken("tester")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/sse", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if wsResp != nil {
		wsResp.Body.Close()
	}
	conn.Close()
}

// TestServerMonitorEndToEnd wires a real monitor to the relay over
// WebSocket and checks that published events reach its view model.
func TestServerMonitorEndToEnd(t *testing.T) {
	srv, ts := newTestServer(t, nil, &MockExecutor{})

	transport, err := monitor.NewWebSocketTransport(ts.URL, "", nil)
	require.NoError(t, err)

	m, err := monitor.New(monitor.Options{
		ServerURL: ts.URL,
		Transport: transport,
	})
	require.NoError(t, err)
	m.Start(context.Background())
	defer m.Close()

	require.Eventually(t, m.IsConnected, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return srv.hub.ChannelSubscribers(events.ChannelExecutions) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Publish(events.ChannelExecutions, events.EventExecutionStarted, events.ExecutionStarted{
		Execution: models.ExecutionStatus{
			WorkflowID: "wf1",
			Status:     models.ExecutionRunning,
			StartTime:  time.Now(),
			Metrics:    models.ExecutionMetrics{TotalNodes: 4},
		},
	}))

	require.Eventually(t, func() bool {
		_, ok := m.Snapshot().Execution("wf1")
		return ok
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Publish(events.ChannelExecutions, events.EventExecutionProgress, events.ExecutionProgress{
		WorkflowID: "wf1",
		NodeID:     "node-1",
		Status:     models.NodeSuccess,
	}))

	require.Eventually(t, func() bool {
		exec, ok := m.Snapshot().Execution("wf1")
		return ok && len(exec.ExecutionLog) == 1
	}, time.Second, 10*time.Millisecond)

	exec, _ := m.Snapshot().Execution("wf1")
	assert.InDelta(t, 25, exec.Progress, 1e-9)
	assert.Equal(t, "node-1", exec.CurrentNodeID)
}
