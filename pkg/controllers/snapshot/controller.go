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

// Package snapshot reconciles VM snapshots and keeps their owning servers in sync.
package snapshot

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/syncer"

	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

type Controller struct {
	store store.Store
}

func NewController(s store.Store) *Controller {
	return &Controller{store: s}
}

func (c *Controller) Name() string {
	return "snapshot"
}

func (c *Controller) Reconcile(ctx context.Context, cloud *models.Cloud, inv goproxmox.Inventory) (syncer.Stats, error) {
	ctx = log.IntoContext(ctx, log.FromContext(ctx).WithName(c.Name()))

	remote, err := inv.ListSnapshots(ctx)
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list snapshots: %w", err)
	}

	existing, err := c.store.Snapshots().Projections(ctx, store.Eq("cloud_id", cloud.ID))
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list local snapshots: %w", err)
	}

	plan := syncer.Diff(existing, remote, func(e models.Projection, r goproxmox.Snapshot) bool {
		return e.ExternalID == r.ExternalID
	})

	log.FromContext(ctx).V(1).Info("Snapshot plan", "plan", plan.String())

	return syncer.Apply(ctx, plan, c.store.Snapshots().Get, (*models.Snapshot).GetID, syncer.Handlers[goproxmox.Snapshot, models.Snapshot]{
		OnAdd: func(ctx context.Context, adds []goproxmox.Snapshot) error {
			return c.add(ctx, cloud, adds)
		},
		OnUpdate: func(ctx context.Context, updates []syncer.Pair[goproxmox.Snapshot, models.Snapshot]) error {
			return c.update(ctx, cloud, updates)
		},
		OnDelete: c.delete,
	})
}

func (c *Controller) add(ctx context.Context, cloud *models.Cloud, adds []goproxmox.Snapshot) error {
	vmIDs := lo.Uniq(lo.Map(adds, func(r goproxmox.Snapshot, _ int) string { return r.VMID }))

	servers, err := c.store.Servers().Find(ctx,
		store.Eq("cloud_id", cloud.ID),
		store.Eq("server_type", models.ServerTypeVM),
		store.In("external_id", vmIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to resolve snapshot servers: %w", err)
	}

	byVM := lo.KeyBy(servers, func(s *models.ComputeServer) string { return s.ExternalID })

	snapshots := make([]*models.Snapshot, 0, len(adds))
	for _, r := range adds {
		snap := &models.Snapshot{
			CloudID:      cloud.ID,
			AccountID:    cloud.AccountID,
			ExternalID:   r.ExternalID,
			Name:         r.Name,
			Description:  r.Description,
			VMExternalID: r.VMID,
			Category:     cloud.Category("snapshot"),
		}

		if r.CreatedMicros > 0 {
			snap.SnapshotCreated = ptr.To(time.UnixMicro(r.CreatedMicros).UTC())
		}

		if server, ok := byVM[r.VMID]; ok {
			snap.ServerID = ptr.To(server.ID)
			snap.AccountID = server.AccountID
		}

		snapshots = append(snapshots, snap)
	}

	if err := c.store.Snapshots().Create(ctx, snapshots); err != nil {
		return err
	}

	changed := map[int64]*models.ComputeServer{}

	for _, snap := range snapshots {
		if snap.ServerID == nil {
			continue
		}

		server := byVM[snap.VMExternalID]
		if !slices.Contains(server.SnapshotIDs, snap.ID) {
			server.SnapshotIDs = append(server.SnapshotIDs, snap.ID)
			changed[server.ID] = server
		}
	}

	return c.store.Servers().Save(ctx, lo.Values(changed))
}

// update refreshes names and accounts. Snapshots seen before their VM was synced
// are linked to it once it exists; linked and unlinked servers load in one query.
func (c *Controller) update(ctx context.Context, cloud *models.Cloud, updates []syncer.Pair[goproxmox.Snapshot, models.Snapshot]) error {
	serverIDs := lo.Uniq(lo.FilterMap(updates, func(u syncer.Pair[goproxmox.Snapshot, models.Snapshot], _ int) (int64, bool) {
		return ptr.Deref(u.Local.ServerID, 0), u.Local.ServerID != nil
	}))
	vmIDs := lo.Uniq(lo.FilterMap(updates, func(u syncer.Pair[goproxmox.Snapshot, models.Snapshot], _ int) (string, bool) {
		return u.Remote.VMID, u.Local.ServerID == nil && u.Remote.VMID != ""
	}))

	servers := []*models.ComputeServer{}

	if len(serverIDs) > 0 || len(vmIDs) > 0 {
		var err error

		servers, err = c.store.Servers().Find(ctx,
			store.Eq("cloud_id", cloud.ID),
			store.Eq("server_type", models.ServerTypeVM),
			store.Or(store.In("id", serverIDs), store.In("external_id", vmIDs)),
		)
		if err != nil {
			return fmt.Errorf("failed to load snapshot servers: %w", err)
		}
	}

	byID := lo.KeyBy(servers, func(s *models.ComputeServer) int64 { return s.ID })
	byVM := lo.KeyBy(servers, func(s *models.ComputeServer) string { return s.ExternalID })

	save := []*models.Snapshot{}
	linked := map[int64]*models.ComputeServer{}

	for _, u := range updates {
		snap, r := u.Local, u.Remote
		before := syncer.Fingerprint(snap)

		snap.Name = r.Name
		snap.Description = r.Description
		snap.VMExternalID = r.VMID

		switch {
		case snap.ServerID == nil:
			if server, ok := byVM[r.VMID]; ok {
				snap.ServerID = ptr.To(server.ID)
				snap.AccountID = server.AccountID

				if !slices.Contains(server.SnapshotIDs, snap.ID) {
					server.SnapshotIDs = append(server.SnapshotIDs, snap.ID)
					linked[server.ID] = server
				}
			}
		default:
			// a stale association must not re-stamp the account
			server, ok := byID[*snap.ServerID]
			if ok && server.AccountID != snap.AccountID && slices.Contains(server.SnapshotIDs, snap.ID) {
				snap.AccountID = server.AccountID
			}
		}

		if syncer.Changed(before, snap) {
			save = append(save, snap)
		}
	}

	if err := c.store.Snapshots().Save(ctx, save); err != nil {
		return err
	}

	return c.store.Servers().Save(ctx, lo.Values(linked))
}

func (c *Controller) delete(ctx context.Context, deletes []models.Projection) error {
	snapshots, err := c.store.Snapshots().Get(ctx, models.IDs(deletes))
	if err != nil {
		return fmt.Errorf("failed to load snapshots: %w", err)
	}

	serverIDs := lo.Uniq(lo.FilterMap(snapshots, func(s *models.Snapshot, _ int) (int64, bool) {
		return ptr.Deref(s.ServerID, 0), s.ServerID != nil
	}))

	servers, err := c.store.Servers().Get(ctx, serverIDs)
	if err != nil {
		return fmt.Errorf("failed to load snapshot servers: %w", err)
	}

	removed := lo.SliceToMap(snapshots, func(s *models.Snapshot) (int64, struct{}) { return s.ID, struct{}{} })

	save := []*models.ComputeServer{}

	for _, server := range servers {
		ids := lo.Reject(server.SnapshotIDs, func(id int64, _ int) bool {
			_, ok := removed[id]

			return ok
		})

		if len(ids) != len(server.SnapshotIDs) {
			server.SnapshotIDs = ids
			save = append(save, server)
		}
	}

	if err := c.store.Servers().Save(ctx, save); err != nil {
		return fmt.Errorf("failed to detach snapshots: %w", err)
	}

	return c.store.Snapshots().Remove(ctx, snapshots)
}
