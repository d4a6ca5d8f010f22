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

// Package vm reconciles QEMU guests into compute servers linked to their hosts.
package vm

import (
	"context"
	"fmt"

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
	return "vm"
}

func (c *Controller) Reconcile(ctx context.Context, cloud *models.Cloud, inv goproxmox.Inventory) (syncer.Stats, error) {
	ctx = log.IntoContext(ctx, log.FromContext(ctx).WithName(c.Name()))

	vms, err := inv.ListVirtualMachines(ctx)
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list virtual machines: %w", err)
	}

	// templates are synced as images
	remote := lo.Reject(vms, func(v goproxmox.VirtualMachine, _ int) bool { return v.Template })

	existing, err := c.store.Servers().Projections(ctx,
		store.Eq("cloud_id", cloud.ID),
		store.Eq("server_type", models.ServerTypeVM),
	)
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list local virtual machines: %w", err)
	}

	plan := syncer.Diff(existing, remote, func(e models.Projection, r goproxmox.VirtualMachine) bool {
		return e.ExternalID == r.ExternalID
	})

	log.FromContext(ctx).V(1).Info("Virtual machine plan", "plan", plan.String())

	guests := make([]goproxmox.VirtualMachine, 0, len(plan.Adds)+len(plan.Updates))
	guests = append(guests, plan.Adds...)

	for _, u := range plan.Updates {
		guests = append(guests, u.Remote)
	}

	hosts, err := c.hosts(ctx, cloud, guests)
	if err != nil {
		return syncer.Stats{}, err
	}

	return syncer.Apply(ctx, plan, c.store.Servers().Get, (*models.ComputeServer).GetID, syncer.Handlers[goproxmox.VirtualMachine, models.ComputeServer]{
		OnAdd: func(ctx context.Context, adds []goproxmox.VirtualMachine) error {
			return c.store.Servers().Create(ctx, lo.Map(adds, func(r goproxmox.VirtualMachine, _ int) *models.ComputeServer {
				s := &models.ComputeServer{
					CloudID:    cloud.ID,
					AccountID:  cloud.AccountID,
					ExternalID: r.ExternalID,
					Category:   cloud.Category("vm"),
					ServerType: models.ServerTypeVM,
					TypeCode:   models.ServerTypeCodeVM,
				}
				apply(s, r, hosts)

				return s
			}))
		},
		OnUpdate: func(ctx context.Context, updates []syncer.Pair[goproxmox.VirtualMachine, models.ComputeServer]) error {
			save := []*models.ComputeServer{}

			for _, u := range updates {
				before := syncer.Fingerprint(u.Local)
				apply(u.Local, u.Remote, hosts)

				if syncer.Changed(before, u.Local) {
					save = append(save, u.Local)
				}
			}

			return c.store.Servers().Save(ctx, save)
		},
		OnDelete: c.delete,
	})
}

// hosts resolves the parent host of every guest node in one query.
func (c *Controller) hosts(ctx context.Context, cloud *models.Cloud, vms []goproxmox.VirtualMachine) (map[string]int64, error) {
	if len(vms) == 0 {
		return nil, nil
	}

	nodes := lo.Uniq(lo.Map(vms, func(v goproxmox.VirtualMachine, _ int) string { return v.Node }))

	hosts, err := c.store.Servers().Projections(ctx,
		store.Eq("cloud_id", cloud.ID),
		store.Eq("server_type", models.ServerTypeHypervisor),
		store.In("external_id", nodes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hosts: %w", err)
	}

	res := make(map[string]int64, len(hosts))
	for _, h := range hosts {
		res[h.ExternalID] = h.ID
	}

	return res, nil
}

func (c *Controller) delete(ctx context.Context, deletes []models.Projection) error {
	ids := models.IDs(deletes)

	snapshots, err := c.store.Snapshots().Find(ctx, store.In("server_id", ids))
	if err != nil {
		return fmt.Errorf("failed to list snapshots of removed virtual machines: %w", err)
	}

	for _, snap := range snapshots {
		snap.ServerID = nil
	}

	if err := c.store.Snapshots().Save(ctx, snapshots); err != nil {
		return fmt.Errorf("failed to detach snapshots: %w", err)
	}

	vms, err := c.store.Servers().Get(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load virtual machines: %w", err)
	}

	return c.store.Servers().Remove(ctx, vms)
}

func apply(s *models.ComputeServer, r goproxmox.VirtualMachine, hosts map[string]int64) {
	s.Name = r.Name
	s.Hostname = r.Name
	s.MaxCores = r.Cores
	s.MaxMemory = r.MaxMemory
	s.MaxStorage = r.MaxDisk
	s.UsedMemory = r.UsedMemory

	s.PowerState = models.PowerStateOff
	if r.Running() {
		s.PowerState = models.PowerStateOn
	}

	s.ParentServerID = nil
	if id, ok := hosts[r.Node]; ok {
		s.ParentServerID = ptr.To(id)
	}
}
