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

// Package datastore reconciles Proxmox storages.
package datastore

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/syncer"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

type Controller struct {
	store store.Store
}

func NewController(s store.Store) *Controller {
	return &Controller{store: s}
}

func (c *Controller) Name() string {
	return "datastore"
}

func (c *Controller) Reconcile(ctx context.Context, cloud *models.Cloud, inv goproxmox.Inventory) (syncer.Stats, error) {
	ctx = log.IntoContext(ctx, log.FromContext(ctx).WithName(c.Name()))

	remote, err := inv.ListDatastores(ctx)
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list storages: %w", err)
	}

	existing, err := c.store.Datastores().Projections(ctx, store.Eq("cloud_id", cloud.ID))
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list local datastores: %w", err)
	}

	plan := syncer.Diff(existing, remote, func(e models.Projection, r goproxmox.Datastore) bool {
		return e.ExternalID == r.ExternalID
	})

	return syncer.Apply(ctx, plan, c.store.Datastores().Get, (*models.Datastore).GetID, syncer.Handlers[goproxmox.Datastore, models.Datastore]{
		OnAdd: func(ctx context.Context, adds []goproxmox.Datastore) error {
			return c.store.Datastores().Create(ctx, lo.Map(adds, func(r goproxmox.Datastore, _ int) *models.Datastore {
				ds := &models.Datastore{
					CloudID:    cloud.ID,
					ExternalID: r.ExternalID,
					Category:   cloud.Category("datastore"),
					Active:     true,
				}
				apply(ds, r)

				return ds
			}))
		},
		OnUpdate: func(ctx context.Context, updates []syncer.Pair[goproxmox.Datastore, models.Datastore]) error {
			save := []*models.Datastore{}

			for _, u := range updates {
				before := syncer.Fingerprint(u.Local)
				apply(u.Local, u.Remote)

				if syncer.Changed(before, u.Local) {
					save = append(save, u.Local)
				}
			}

			return c.store.Datastores().Save(ctx, save)
		},
		OnDelete: func(ctx context.Context, deletes []models.Projection) error {
			records, err := c.store.Datastores().Get(ctx, models.IDs(deletes))
			if err != nil {
				return err
			}

			return c.store.Datastores().Remove(ctx, records)
		},
	})
}

func apply(ds *models.Datastore, r goproxmox.Datastore) {
	ds.Name = r.Name
	ds.Type = r.Type
	ds.Shared = r.Shared
	ds.StorageSize = r.TotalBytes
	ds.FreeSpace = max(r.TotalBytes-r.UsedBytes, 0)
	ds.Online = r.Online
}
