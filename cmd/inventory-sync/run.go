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

package main

import (
	"context"
	"time"

	cobra "github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/operator"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/operator/options"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/server"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/utils/reconciler"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

const shutdownTimeout = 30 * time.Second

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Refresh the clouds periodically and serve the HTTP API",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func runDaemon(ctx context.Context) error {
	opts := options.FromContext(ctx)
	logger := log.FromContext(ctx)

	op, err := operator.NewOperator(ctx)
	if err != nil {
		return err
	}
	defer op.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	config := reconciler.DefaultConfig(logger.WithName("scheduler"))
	config.MaxRetries = opts.MaxRetries
	config.SyncDelay = opts.ResyncInterval
	config.WatchFile = opts.CloudConfigPath

	rec, err := reconciler.NewReconciler(ctx, cancel, config, op)
	if err != nil {
		return err
	}

	if err := rec.Start(); err != nil {
		return err
	}

	logger.Info("Scheduler started", "resyncInterval", opts.ResyncInterval)

	srv := server.New(logger, op.Store, op.Refresher, op)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, opts.ListenAddress)
	})

	err = g.Wait()

	logger.Info("Shutting down")

	done := make(chan struct{})
	go func() {
		defer close(done)

		rec.Stop()
	}()

	select {
	case <-done:
		logger.Info("Scheduler stopped gracefully")
	case <-time.After(shutdownTimeout):
		logger.Info("Shutdown timeout exceeded, forcing exit")
	}

	return err
}
