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

package operator

import (
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	pxpool "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmoxpool"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/syncer"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// RegisterClouds registers the configured clouds while holding the lock of every
// cloud it may change, so a running refresh cannot save a stale row over the new config.
func (r *Refresher) RegisterClouds(ctx context.Context, clusters []*pxpool.ProxmoxCluster) ([]*models.Cloud, error) {
	existing, err := r.store.Clouds().Find(ctx, store.Eq("type_code", models.CloudTypeProxmox))
	if err != nil {
		return nil, fmt.Errorf("failed to list clouds: %w", err)
	}

	names := lo.Uniq(append(
		lo.Map(existing, func(c *models.Cloud, _ int) string { return c.Name }),
		lo.Map(clusters, func(c *pxpool.ProxmoxCluster, _ int) string { return c.Name })...,
	))
	slices.Sort(names)

	for _, name := range names {
		r.locks.Lock(name)
	}

	defer func() {
		for _, name := range names {
			r.locks.Unlock(name)
		}
	}()

	return RegisterClouds(ctx, r.store, clusters)
}

// RegisterClouds upserts a cloud record per configured cluster, matched by name.
// Clouds missing from the config are disabled, their inventory is kept.
func RegisterClouds(ctx context.Context, s store.Store, clusters []*pxpool.ProxmoxCluster) ([]*models.Cloud, error) {
	existing, err := s.Clouds().Find(ctx, store.Eq("type_code", models.CloudTypeProxmox))
	if err != nil {
		return nil, fmt.Errorf("failed to list clouds: %w", err)
	}

	byName := lo.KeyBy(existing, func(c *models.Cloud) string { return c.Name })
	configured := lo.KeyBy(clusters, func(c *pxpool.ProxmoxCluster) string { return c.Name })

	create := []*models.Cloud{}
	save := []*models.Cloud{}

	for _, cfg := range clusters {
		cloud, ok := byName[cfg.Name]
		if !ok {
			create = append(create, &models.Cloud{
				Name:      cfg.Name,
				Code:      cfg.Name,
				TypeCode:  models.CloudTypeProxmox,
				AccountID: cfg.AccountID,
				OwnerID:   cfg.OwnerID,
				APIURL:    cfg.URL,
				Enabled:   !cfg.Disabled,
			})

			continue
		}

		before := syncer.Fingerprint(cloud)

		cloud.APIURL = cfg.URL
		cloud.AccountID = cfg.AccountID
		cloud.OwnerID = cfg.OwnerID
		cloud.Enabled = !cfg.Disabled

		if syncer.Changed(before, cloud) {
			save = append(save, cloud)
		}
	}

	for _, cloud := range existing {
		if _, ok := configured[cloud.Name]; !ok && cloud.Enabled {
			log.FromContext(ctx).Info("Cloud removed from config, disabling", "cloud", cloud.Name)

			cloud.Enabled = false
			save = append(save, cloud)
		}
	}

	if err := s.Clouds().Create(ctx, create); err != nil {
		return nil, fmt.Errorf("failed to register clouds: %w", err)
	}

	if err := s.Clouds().Save(ctx, save); err != nil {
		return nil, fmt.Errorf("failed to update clouds: %w", err)
	}

	return EnabledClouds(ctx, s)
}

// EnabledClouds returns the clouds a refresh cycle covers.
func EnabledClouds(ctx context.Context, s store.Store) ([]*models.Cloud, error) {
	clouds, err := s.Clouds().Find(ctx, store.Eq("type_code", models.CloudTypeProxmox), store.Eq("enabled", true))
	if err != nil {
		return nil, fmt.Errorf("failed to list clouds: %w", err)
	}

	return clouds, nil
}
