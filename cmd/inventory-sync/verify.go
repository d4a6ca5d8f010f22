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
	cobra "github.com/spf13/cobra"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/operator/options"
	providerconfig "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/config"
	pxpool "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmoxpool"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

func buildVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the cloud config and the connectivity of every cluster",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := providerconfig.ReadCloudConfigFromFile(options.FromContext(ctx).CloudConfigPath)
			if err != nil {
				return err
			}

			pool, err := pxpool.NewProxmoxPool(cfg.Enabled())
			if err != nil {
				return err
			}

			if err := pool.CheckClusters(ctx); err != nil {
				return err
			}

			log.FromContext(ctx).Info("All clusters are reachable", "clusters", pool.GetClusters())

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}
