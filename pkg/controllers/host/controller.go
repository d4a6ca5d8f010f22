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

// Package host reconciles Proxmox nodes into hypervisor compute servers.
package host

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

// ConsoleTypeSSH is the console type of a node management address.
const ConsoleTypeSSH = "ssh"

const mib = 1024 * 1024

type Controller struct {
	store store.Store
}

func NewController(s store.Store) *Controller {
	return &Controller{store: s}
}

func (c *Controller) Name() string {
	return "host"
}

func (c *Controller) Reconcile(ctx context.Context, cloud *models.Cloud, inv goproxmox.Inventory) (syncer.Stats, error) {
	ctx = log.IntoContext(ctx, log.FromContext(ctx).WithName(c.Name()))

	remote, err := inv.ListHosts(ctx)
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list hosts: %w", err)
	}

	existing, err := c.store.Servers().Projections(ctx,
		store.Eq("cloud_id", cloud.ID),
		store.Eq("server_type", models.ServerTypeHypervisor),
	)
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list local hosts: %w", err)
	}

	plan := syncer.Diff(existing, remote, func(e models.Projection, r goproxmox.Host) bool {
		return e.ExternalID == r.ExternalID
	})

	log.FromContext(ctx).V(1).Info("Host plan", "plan", plan.String())

	return syncer.Apply(ctx, plan, c.store.Servers().Get, (*models.ComputeServer).GetID, syncer.Handlers[goproxmox.Host, models.ComputeServer]{
		OnAdd: func(ctx context.Context, adds []goproxmox.Host) error {
			return c.store.Servers().Create(ctx, lo.Map(adds, func(r goproxmox.Host, _ int) *models.ComputeServer {
				return newHost(cloud, r)
			}))
		},
		OnUpdate: c.update,
		OnDelete: c.delete,
	})
}

func (c *Controller) update(ctx context.Context, updates []syncer.Pair[goproxmox.Host, models.ComputeServer]) error {
	hostIDs := lo.Map(updates, func(u syncer.Pair[goproxmox.Host, models.ComputeServer], _ int) int64 { return u.Local.ID })

	children, err := c.store.Servers().Find(ctx, store.In("parent_server_id", hostIDs))
	if err != nil {
		return fmt.Errorf("failed to list host children: %w", err)
	}

	used := map[int64]int64{}
	for _, child := range children {
		used[*child.ParentServerID] += child.MaxMemory
	}

	save := []*models.ComputeServer{}

	for _, u := range updates {
		h, r := u.Local, u.Remote
		before := syncer.Fingerprint(h)

		h.Name = r.Name
		h.UsedMemory = used[h.ID]
		// capacity never shrinks from a possibly stale read
		h.MaxMemory = max(h.MaxMemory, r.MemoryCapacityMiB*mib)
		h.MaxCores = max(h.MaxCores, r.Cores)
		h.MaxStorage = r.DiskBytes
		h.PowerState = powerState(r)
		applyConsole(h, r)

		if syncer.Changed(before, h) {
			save = append(save, h)
		}
	}

	return c.store.Servers().Save(ctx, save)
}

func (c *Controller) delete(ctx context.Context, deletes []models.Projection) error {
	ids := models.IDs(deletes)

	children, err := c.store.Servers().Find(ctx, store.In("parent_server_id", ids))
	if err != nil {
		return fmt.Errorf("failed to list host children: %w", err)
	}

	for _, child := range children {
		child.ParentServerID = nil
	}

	// children first, a removed host must not stay referenced
	if err := c.store.Servers().Save(ctx, children); err != nil {
		return fmt.Errorf("failed to detach host children: %w", err)
	}

	hosts, err := c.store.Servers().Get(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load hosts: %w", err)
	}

	return c.store.Servers().Remove(ctx, hosts)
}

func newHost(cloud *models.Cloud, r goproxmox.Host) *models.ComputeServer {
	h := &models.ComputeServer{
		CloudID:    cloud.ID,
		AccountID:  cloud.AccountID,
		ExternalID: r.ExternalID,
		Name:       r.Name,
		Hostname:   r.Name,
		Category:   cloud.Category("host"),
		ServerType: models.ServerTypeHypervisor,
		TypeCode:   models.ServerTypeCodeHypervisor,
		PowerState: powerState(r),
		MaxMemory:  r.MemoryCapacityMiB * mib,
		MaxCores:   r.Cores,
		MaxStorage: r.DiskBytes,
	}
	applyConsole(h, r)

	return h
}

func applyConsole(h *models.ComputeServer, r goproxmox.Host) {
	if r.ConsoleAddress == "" {
		return
	}

	h.ExternalIP = r.ConsoleAddress
	h.ConsoleHost = r.ConsoleAddress
	h.ConsoleType = ConsoleTypeSSH
}

func powerState(r goproxmox.Host) string {
	if r.Healthy() {
		return models.PowerStateOn
	}

	return models.PowerStateOff
}
