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
	"fmt"

	cobra "github.com/spf13/cobra"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/operator"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

func buildSyncCmd() *cobra.Command {
	var clouds []string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh the clouds once and exit",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			op, err := operator.NewOperator(ctx)
			if err != nil {
				return err
			}
			defer op.Close() //nolint:errcheck

			if len(clouds) == 0 {
				err := op.Refresher.RefreshAll(ctx)
				if failed := operator.FailedClouds(err); len(failed) > 0 {
					return fmt.Errorf("failed to refresh clouds %v: %w", failed, err)
				}

				return err
			}

			for _, name := range clouds {
				if err := op.Refresher.Refresh(ctx, name); err != nil {
					return fmt.Errorf("failed to refresh cloud %s: %w", name, err)
				}

				log.FromContext(ctx).Info("Cloud refreshed", "cloud", name)
			}

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringSliceVar(&clouds, "cloud", nil, "names of the clouds to refresh, all when empty")

	return cmd
}
