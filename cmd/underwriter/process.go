package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"underwriter/internal/kernel"
)

// applicationFile is the on-disk form of one insurance application.
type applicationFile struct {
	CustomerID   string         `yaml:"customer_id"`
	PersonalInfo map[string]any `yaml:"personal_info"`
	CarImageRefs []string       `yaml:"car_image_refs"`
	DocumentRefs []string       `yaml:"document_refs"`
}

func loadApplicationFile(path string) (*applicationFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read application file: %w", err)
	}
	var app applicationFile
	if err := yaml.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("failed to parse application file: %w", err)
	}
	if app.CustomerID == "" {
		return nil, errors.New("application file: customer_id is required")
	}
	return &app, nil
}

func newProcessCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process <application.yaml>",
		Short: "Process one application and print its outcome as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApplicationFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := opts.unlockSecrets(cfg); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			k, err := kernel.NewKernel(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create kernel: %w", err)
			}
			defer func() {
				if stopErr := k.Stop(); stopErr != nil {
					opts.logger.Error("Error stopping kernel: %v", stopErr)
				}
			}()
			if err := k.Start(); err != nil {
				return fmt.Errorf("failed to start kernel: %w", err)
			}

			out, err := k.Orchestrator.ProcessApplication(ctx, app.CustomerID, app.PersonalInfo, app.CarImageRefs, app.DocumentRefs)
			if err != nil {
				return fmt.Errorf("processing failed: %w", err)
			}
			opts.logger.Info("Application %s finished with status %s after %d steps", out.ApplicationID, out.Status, out.StepCount)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
