package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openivr/flowpulse/pkg/monitor"
	"github.com/openivr/flowpulse/pkg/relay"
)

func commandClient() *monitor.CommandClient {
	return monitor.NewCommandClient(cfg.Monitor.ServerURL, token, nil)
}

func executeCmd() *cobra.Command {
	var inputJSON string

	cmd := &cobra.Command{
		Use:   "execute <workflow-id>",
		Short: "Start a workflow execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input map[string]interface{}
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return fmt.Errorf("invalid --input JSON: %w", err)
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			handle, err := commandClient().Execute(ctx, args[0], input)
			if err != nil {
				return err
			}
			fmt.Printf("execution %s started for workflow %s\n", handle.ExecutionID, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&inputJSON, "input", "", "Input data as a JSON object")
	return cmd
}

func pauseCmd() *cobra.Command {
	return simpleCommand("pause", "Pause a running execution", func(ctx context.Context, id string) error {
		return commandClient().Pause(ctx, id)
	})
}

func resumeCmd() *cobra.Command {
	return simpleCommand("resume", "Resume a paused execution", func(ctx context.Context, id string) error {
		return commandClient().Resume(ctx, id)
	})
}

func stopCmd() *cobra.Command {
	return simpleCommand("stop", "Stop an execution", func(ctx context.Context, id string) error {
		return commandClient().Stop(ctx, id)
	})
}

func simpleCommand(name, short string, run func(context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <workflow-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := run(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s requested for workflow %s\n", name, args[0])
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var secret string
	var subject string
	var hours int

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = cfg.Auth.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("a signing secret is required (--secret or FLOWPULSE_JWT_SECRET)")
			}
			signed, err := relay.NewTokenService(secret, hours).GenerateToken(subject)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret")
	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject")
	cmd.Flags().IntVar(&hours, "hours", 24, "Token lifetime in hours")
	return cmd
}
