package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openivr/flowpulse/pkg/models"
	"github.com/openivr/flowpulse/pkg/monitor"
)

// watchProfile is the YAML file accepted by --profile.
type watchProfile struct {
	Server    string   `yaml:"server"`
	Token     string   `yaml:"token"`
	Transport string   `yaml:"transport"`
	Channels  []string `yaml:"channels"`
}

func watchCmd() *cobra.Command {
	var transportName string
	var profilePath string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live workflow execution state",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := watchProfile{
				Server:    cfg.Monitor.ServerURL,
				Token:     token,
				Transport: cfg.Monitor.Transport,
			}
			if profilePath != "" {
				data, err := os.ReadFile(profilePath)
				if err != nil {
					return fmt.Errorf("failed to read profile: %w", err)
				}
				if err := yaml.Unmarshal(data, &profile); err != nil {
					return fmt.Errorf("failed to parse profile: %w", err)
				}
			}
			if transportName != "" {
				profile.Transport = transportName
			}
			return runWatch(profile)
		},
	}

	cmd.Flags().StringVar(&transportName, "transport", "", "Push transport: websocket or sse")
	cmd.Flags().StringVar(&profilePath, "profile", "", "YAML watch profile")
	return cmd
}

func runWatch(profile watchProfile) error {
	var transport monitor.Transport
	var err error
	switch profile.Transport {
	case "", "websocket":
		transport, err = monitor.NewWebSocketTransport(profile.Server, profile.Token, profile.Channels)
	case "sse":
		transport, err = monitor.NewSSETransport(profile.Server, profile.Token, profile.Channels)
	default:
		return fmt.Errorf("unknown transport %q", profile.Transport)
	}
	if err != nil {
		return err
	}

	m, err := monitor.New(monitor.Options{
		ServerURL:     profile.Server,
		Transport:     transport,
		Token:         profile.Token,
		Logger:        logger,
		ReconnectBase: time.Duration(cfg.Monitor.ReconnectBaseMillis) * time.Millisecond,
		MaxReconnects: cfg.Monitor.MaxReconnects,
		PollInterval:  time.Duration(cfg.Monitor.PollIntervalSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m.Start(ctx)
	defer m.Close()

	// Snapshots are immutable, so a changed pointer means changed state.
	var last *models.Snapshot
	lastMode := monitor.Mode(-1)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if mode := m.Mode(); mode != lastMode {
				lastMode = mode
				fmt.Printf("-- transport: %s", mode)
				if note := m.Notification(); note != "" {
					fmt.Printf(" (%s)", note)
				}
				fmt.Println()
			}
			snap := m.Snapshot()
			if snap == last {
				continue
			}
			last = snap
			printSnapshot(snap)
		}
	}
}

func printSnapshot(snap *models.Snapshot) {
	fmt.Printf("workflows=%d active=%d queued=%d\n",
		len(snap.Workflows),
		snap.SystemMetrics.ActiveWorkflows,
		snap.SystemMetrics.QueuedExecutions)
	for _, exec := range snap.Executions {
		fmt.Printf("  %s  %-9s  %5.1f%%  node=%s  log=%d\n",
			exec.WorkflowID, exec.Status, exec.Progress,
			exec.CurrentNodeID, len(exec.ExecutionLog))
	}
}
