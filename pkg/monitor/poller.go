package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openivr/flowpulse/pkg/models"
)

const liveDataPath = "/api/workflow/live-data"

// poller approximates the push channel with periodic full-state fetches.
// A failed fetch is logged and skipped; the next tick retries. Polling has
// no backoff of its own.
type poller struct {
	url      string
	token    string
	client   *http.Client
	interval time.Duration
	logger   *slog.Logger
	apply    func(*models.Snapshot)
}

func newPoller(serverURL, token string, client *http.Client, interval time.Duration, logger *slog.Logger, apply func(*models.Snapshot)) *poller {
	return &poller{
		url:      strings.TrimSuffix(serverURL, "/") + liveDataPath,
		token:    token,
		client:   client,
		interval: interval,
		logger:   logger,
		apply:    apply,
	}
}

func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.fetch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetch(ctx)
		}
	}
}

func (p *poller) fetch(ctx context.Context) {
	snap, err := fetchLiveData(ctx, p.client, p.url, p.token)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("live-data poll failed", slog.Any("error", err))
		}
		return
	}
	if ctx.Err() != nil {
		// A fetch that resolves after teardown must not touch state.
		return
	}
	p.apply(snap)
}

// fetchLiveData retrieves the full view-model snapshot.
func fetchLiveData(ctx context.Context, client *http.Client, url, token string) (*models.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("live-data request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("live-data request returned status %d", resp.StatusCode)
	}

	var snap models.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode live-data response: %w", err)
	}
	if snap.NodeStatuses == nil {
		snap.NodeStatuses = map[string]models.NodeStatus{}
	}
	if snap.Workflows == nil {
		snap.Workflows = []models.Workflow{}
	}
	if snap.Executions == nil {
		snap.Executions = []models.ExecutionStatus{}
	}
	return &snap, nil
}
