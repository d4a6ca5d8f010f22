/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package main implements the Proxmox inventory sync daemon and its tools.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cobra "github.com/spf13/cobra"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/operator/options"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

var (
	command = "inventory-sync"
	version = "v0.0.0"
	commit  = "none"
)

func main() {
	if exitCode := run(); exitCode != 0 {
		os.Exit(exitCode)
	}
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := &options.Options{}

	cmd := cobra.Command{
		Use:     command,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Short:   "Synchronize Proxmox VE inventory into the management data model",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.Validate(); err != nil {
				return fmt.Errorf("invalid flag: %w", err)
			}

			logger := setupLogger(opts.Verbosity)
			logger.Info("Proxmox inventory sync", "version", version, "commit", commit, "verbosity", opts.Verbosity)

			ctx := log.IntoContext(opts.ToContext(cmd.Context()), logger)
			cmd.SetContext(ctx)

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(buildRunCmd())
	cmd.AddCommand(buildSyncCmd())
	cmd.AddCommand(buildVerifyCmd())

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		errorString := err.Error()
		if strings.Contains(errorString, "arg(s)") || strings.Contains(errorString, "flag") || strings.Contains(errorString, "command") {
			fmt.Fprintf(os.Stderr, "Error: %s\n\n", errorString)
			fmt.Fprintln(os.Stderr, cmd.UsageString())
		} else {
			fmt.Fprintln(os.Stderr, "Execute error:", err)
		}

		return 1
	}

	return 0
}
