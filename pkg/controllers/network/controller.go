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

// Package network reconciles SDN vnets into networks and their IP pools.
package network

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/syncer"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/utils/ip"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Controller reconciles networks and network pools.
type Controller struct {
	store store.Store
}

// NewController constructs a controller instance
func NewController(s store.Store) *Controller {
	return &Controller{store: s}
}

func (c *Controller) Name() string {
	return "network"
}

// Reconcile executes the network pass for one cloud.
func (c *Controller) Reconcile(ctx context.Context, cloud *models.Cloud, inv goproxmox.Inventory) (syncer.Stats, error) {
	ctx = log.IntoContext(ctx, log.FromContext(ctx).WithName(c.Name()))

	remote, err := inv.ListNetworks(ctx)
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list networks: %w", err)
	}

	existing, err := c.store.Networks().Projections(ctx, store.Eq("cloud_id", cloud.ID))
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list local networks: %w", err)
	}

	plan := syncer.Diff(existing, remote, func(e models.Projection, r goproxmox.Network) bool {
		return e.ExternalID == r.ExternalID
	})

	log.FromContext(ctx).V(1).Info("Network plan", "plan", plan.String())

	return syncer.Apply(ctx, plan, c.store.Networks().Get, (*models.Network).GetID, syncer.Handlers[goproxmox.Network, models.Network]{
		OnAdd: func(ctx context.Context, adds []goproxmox.Network) error {
			return c.add(ctx, cloud, adds)
		},
		OnUpdate: func(ctx context.Context, updates []syncer.Pair[goproxmox.Network, models.Network]) error {
			return c.update(ctx, cloud, updates)
		},
		OnDelete: func(ctx context.Context, deletes []models.Projection) error {
			return c.delete(ctx, deletes)
		},
	})
}

func (c *Controller) add(ctx context.Context, cloud *models.Cloud, adds []goproxmox.Network) error {
	networks := make([]*models.Network, 0, len(adds))
	managed := map[*models.Network]goproxmox.Network{}

	for _, r := range adds {
		n := &models.Network{
			CloudID:    cloud.ID,
			OwnerID:    cloud.OwnerID,
			ExternalID: r.ExternalID,
			Category:   cloud.Category("network"),
			Active:     true,
		}
		applyRemote(n, r)

		networks = append(networks, n)

		if r.Managed() {
			managed[n] = r
		}
	}

	var errs error

	if len(managed) > 0 {
		errs = multierr.Append(errs, c.attachPools(ctx, cloud, managed))
	}

	return multierr.Append(errs, c.store.Networks().Create(ctx, networks))
}

func (c *Controller) update(ctx context.Context, cloud *models.Cloud, updates []syncer.Pair[goproxmox.Network, models.Network]) error {
	logger := log.FromContext(ctx)

	poolIDs := lo.FilterMap(updates, func(p syncer.Pair[goproxmox.Network, models.Network], _ int) (int64, bool) {
		return ptr.Deref(p.Local.PoolID, 0), p.Local.PoolID != nil
	})

	pools, err := c.store.NetworkPools().Get(ctx, lo.Uniq(poolIDs))
	if err != nil {
		return fmt.Errorf("failed to load network pools: %w", err)
	}

	poolByID := lo.KeyBy(pools, (*models.NetworkPool).GetID)

	var (
		errs      error
		save      []*models.Network
		savePools []*models.NetworkPool
		detached  []int64
		dedupe    []*models.NetworkPool
	)

	missing := map[*models.Network]goproxmox.Network{}

	for _, u := range updates {
		n, r := u.Local, u.Remote
		before := syncer.Fingerprint(n)

		applyRemote(n, r)

		switch {
		case r.Managed() && n.PoolID == nil:
			missing[n] = r
		case r.Managed():
			pool, ok := poolByID[*n.PoolID]
			if !ok {
				logger.Info("network references a missing pool, recreating", "network", n.ExternalID, "pool", *n.PoolID)

				missing[n] = r

				break
			}

			poolBefore := syncer.Fingerprint(pool)

			if len(pool.Ranges) == 0 {
				pool.Ranges = parseRanges(ctx, r)
			}

			if pool.CloudID == nil {
				pool.CloudID = ptr.To(cloud.ID)
				dedupe = append(dedupe, pool)
			}

			if syncer.Changed(poolBefore, pool) {
				savePools = append(savePools, pool)
			}
		case n.PoolID != nil:
			detached = append(detached, *n.PoolID)
			n.PoolID = nil
		}

		if _, ok := missing[n]; !ok && syncer.Changed(before, n) {
			save = append(save, n)
		}
	}

	errs = multierr.Append(errs, c.store.NetworkPools().Save(ctx, lo.Uniq(savePools)))

	if len(missing) > 0 {
		errs = multierr.Append(errs, c.attachPools(ctx, cloud, missing))
		save = append(save, lo.Keys(missing)...)
	}

	errs = multierr.Append(errs, c.store.Networks().Save(ctx, save))

	for _, pool := range dedupe {
		errs = multierr.Append(errs, c.dedupePools(ctx, pool))
	}

	if len(detached) > 0 {
		errs = multierr.Append(errs, c.removeUnreferencedPools(ctx, detached))
	}

	return errs
}

func (c *Controller) delete(ctx context.Context, deletes []models.Projection) error {
	networks, err := c.store.Networks().Get(ctx, models.IDs(deletes))
	if err != nil {
		return fmt.Errorf("failed to load networks: %w", err)
	}

	poolIDs := lo.FilterMap(networks, func(n *models.Network, _ int) (int64, bool) {
		return ptr.Deref(n.PoolID, 0), n.PoolID != nil
	})

	if err := c.store.Networks().Remove(ctx, networks); err != nil {
		return fmt.Errorf("failed to remove networks: %w", err)
	}

	if len(poolIDs) == 0 {
		return nil
	}

	return c.removeUnreferencedPools(ctx, poolIDs)
}

// attachPools creates a pool for every network, re-reads them by identity and links them.
func (c *Controller) attachPools(ctx context.Context, cloud *models.Cloud, networks map[*models.Network]goproxmox.Network) error {
	logger := log.FromContext(ctx)

	pools := make([]*models.NetworkPool, 0, len(networks))
	for n, r := range networks {
		pools = append(pools, newPool(ctx, cloud, n, r))
	}

	if err := c.store.NetworkPools().Create(ctx, pools); err != nil {
		return fmt.Errorf("failed to create network pools: %w", err)
	}

	externalIDs := lo.Map(pools, func(p *models.NetworkPool, _ int) string { return p.ExternalID })

	created, err := c.store.NetworkPools().Find(ctx,
		store.Eq("pool_type", models.PoolTypeProxmox),
		store.In("external_id", externalIDs),
		store.Eq("cloud_id", cloud.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to read back network pools: %w", err)
	}

	// the newest pool wins when a previous partial sync left one behind
	latest := map[string]*models.NetworkPool{}
	for _, p := range created {
		if cur, ok := latest[p.ExternalID]; !ok || p.ID > cur.ID {
			latest[p.ExternalID] = p
		}
	}

	for n := range networks {
		p, ok := latest[n.ExternalID]
		if !ok {
			logger.Info("network pool not found after create", "network", n.ExternalID)

			continue
		}

		n.PoolID = ptr.To(p.ID)
	}

	return nil
}

// dedupePools removes the pools sharing the identity of pool that no network of any cloud references.
func (c *Controller) dedupePools(ctx context.Context, pool *models.NetworkPool) error {
	dups, err := c.store.NetworkPools().Find(ctx,
		store.Eq("pool_type", pool.PoolType),
		store.Eq("external_id", pool.ExternalID),
		store.Ne("id", pool.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to find duplicate pools of %s: %w", pool.ExternalID, err)
	}

	if len(dups) == 0 {
		return nil
	}

	return c.removeUnreferencedPools(ctx, lo.Map(dups, func(p *models.NetworkPool, _ int) int64 { return p.ID }))
}

// removeUnreferencedPools removes the given pools unless a network of a Proxmox cloud still uses them.
func (c *Controller) removeUnreferencedPools(ctx context.Context, poolIDs []int64) error {
	clouds, err := c.store.Clouds().Find(ctx, store.Eq("type_code", models.CloudTypeProxmox))
	if err != nil {
		return fmt.Errorf("failed to list clouds: %w", err)
	}

	referencing, err := c.store.Networks().Find(ctx,
		store.In("pool_id", lo.Uniq(poolIDs)),
		store.In("cloud_id", lo.Map(clouds, func(cl *models.Cloud, _ int) int64 { return cl.ID })),
	)
	if err != nil {
		return fmt.Errorf("failed to list pool references: %w", err)
	}

	used := sets.New[int64]()
	for _, n := range referencing {
		used.Insert(*n.PoolID)
	}

	pools, err := c.store.NetworkPools().Get(ctx, lo.Uniq(poolIDs))
	if err != nil {
		return fmt.Errorf("failed to load network pools: %w", err)
	}

	ghosts := lo.Filter(pools, func(p *models.NetworkPool, _ int) bool { return !used.Has(p.ID) })
	if len(ghosts) == 0 {
		return nil
	}

	log.FromContext(ctx).V(1).Info("Removing unreferenced network pools", "count", len(ghosts))

	return c.store.NetworkPools().Remove(ctx, ghosts)
}

func applyRemote(n *models.Network, r goproxmox.Network) {
	n.Name = r.Name
	n.VLANID = r.VLANID

	if !r.Managed() {
		n.TypeCode = models.NetworkTypeUnmanaged
		n.CIDR = ""
		n.Gateway = ""
		n.DHCPServer = false

		return
	}

	n.TypeCode = models.NetworkTypeManaged
	n.CIDR = r.IPConfig.CIDR
	n.Gateway = r.IPConfig.Gateway
	n.DHCPServer = r.IPConfig.DHCPServer != ""
}

func newPool(ctx context.Context, cloud *models.Cloud, n *models.Network, r goproxmox.Network) *models.NetworkPool {
	cfg := r.IPConfig

	netmask, err := ip.Netmask(cfg.CIDR)
	if err != nil {
		log.FromContext(ctx).Info("invalid network cidr", "network", r.ExternalID, "cidr", cfg.CIDR)
	}

	return &models.NetworkPool{
		ExternalID:        n.ExternalID,
		Name:              n.Name,
		PoolType:          models.PoolTypeProxmox,
		CloudID:           ptr.To(cloud.ID),
		Gateway:           cfg.Gateway,
		Netmask:           netmask,
		DHCPServerAddress: cfg.DHCPServer,
		DNSServers:        strings.Join(cfg.DNSServers, ","),
		DomainName:        cfg.DomainName,
		TFTPServer:        cfg.TFTPServer,
		BootFile:          cfg.BootFile,
		Ranges:            parseRanges(ctx, r),
	}
}

func parseRanges(ctx context.Context, r goproxmox.Network) []models.IPRange {
	out := []models.IPRange{}

	for _, token := range r.IPConfig.Ranges {
		rng, err := ip.ParseRange(token)
		if err != nil {
			log.FromContext(ctx).Info("skipping invalid address range", "network", r.ExternalID, "error", err.Error())

			continue
		}

		out = append(out, models.IPRange{
			StartAddress: rng.Start.String(),
			EndAddress:   rng.End.String(),
			AddressCount: rng.Count(),
		})
	}

	return out
}
