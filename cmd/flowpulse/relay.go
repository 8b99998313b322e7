package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openivr/flowpulse/pkg/models"
	"github.com/openivr/flowpulse/pkg/relay"
)

func relayCmd() *cobra.Command {
	var simulate bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the reference relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(simulate)
		},
	}

	cmd.Flags().BoolVar(&simulate, "simulate", true, "Drive demo executions with the built-in simulator")
	return cmd
}

func runRelay(simulate bool) error {
	store, err := relay.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	var srv *relay.Server
	sim := relay.NewSimulator(relay.PublisherFunc(func(channel, event string, payload interface{}) error {
		return srv.Publish(channel, event, payload)
	}), logger)
	srv = relay.NewServer(cfg, sim, store, logger)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	if simulate {
		go func() {
			// Give the listener a moment, then publish the demo catalog.
			time.Sleep(200 * time.Millisecond)
			if err := sim.Announce(demoWorkflows()); err != nil {
				logger.Warn("failed to announce demo workflows", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func demoWorkflows() []models.Workflow {
	now := time.Now()
	return []models.Workflow{
		{ID: "wf-greeting", Name: "Caller Greeting", Description: "Inbound greeting and menu", Active: true, UpdatedAt: now},
		{ID: "wf-voicemail", Name: "Voicemail Drop", Description: "Record and transcribe voicemail", Active: true, UpdatedAt: now},
		{ID: "wf-callback", Name: "Callback Scheduler", Description: "Queue an outbound callback", Active: false, UpdatedAt: now},
	}
}
