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
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/operator/options"
	providerconfig "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/config"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	pxpool "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmoxpool"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store/gormstore"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store/memory"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/utils/reconciler"

	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Operator owns the inventory store, the cluster clients and the refresher.
type Operator struct {
	Store     store.Store
	Refresher *Refresher

	configPath string
	pool       atomic.Pointer[pxpool.ProxmoxPool]
	newPool    func([]*pxpool.ProxmoxCluster) (*pxpool.ProxmoxPool, error)
}

// NewOperator opens the store, loads the cloud config and registers its clouds.
func NewOperator(ctx context.Context) (*Operator, error) {
	opts := options.FromContext(ctx)

	log.FromContext(ctx).Info("Initializing Proxmox inventory sync", "cloud-config", opts.CloudConfigPath, "database", opts.DatabasePath)

	var s store.Store = memory.New()

	if opts.DatabasePath != "" {
		db, err := gormstore.Open(opts.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		s = db
	}

	o := NewOperatorWithStore(s, opts.CloudConfigPath, opts.Concurrency, pxpool.NewProxmoxPool)

	if err := o.Reload(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to load cloud config")
	}

	return o, nil
}

// NewOperatorWithStore builds an operator around an opened store.
// newPool creates the cluster clients of a config.
func NewOperatorWithStore(s store.Store, configPath string, concurrency int,
	newPool func([]*pxpool.ProxmoxCluster) (*pxpool.ProxmoxPool, error),
) *Operator {
	o := &Operator{
		Store:      s,
		configPath: configPath,
		newPool:    newPool,
	}
	o.Refresher = NewRefresher(s, o, clock.RealClock{}, concurrency)

	return o
}

// Reload re-reads the cloud config, replaces the cluster clients and registers the clouds.
// An invalid config changes nothing.
func (o *Operator) Reload(ctx context.Context) error {
	cfg, err := providerconfig.ReadCloudConfigFromFile(o.configPath)
	if err != nil {
		return err
	}

	// a config with every cluster disabled is valid, its clouds still need disabling
	pool := pxpool.NewProxmoxPoolFromClients(map[string]goproxmox.Cluster{})

	if enabled := cfg.Enabled(); len(enabled) > 0 {
		pool, err = o.newPool(enabled)
		if err != nil {
			return fmt.Errorf("failed to create proxmox cluster clients: %w", err)
		}
	}

	clouds, err := o.Refresher.RegisterClouds(ctx, cfg.Clusters)
	if err != nil {
		return err
	}

	o.pool.Store(pool)

	log.FromContext(ctx).Info("Cloud config loaded", "clusters", pool.GetClusters(), "enabled", len(clouds))

	return nil
}

// Pool returns the current cluster clients.
func (o *Operator) Pool() *pxpool.ProxmoxPool {
	return o.pool.Load()
}

func (o *Operator) GetProxmoxCluster(name string) (goproxmox.Cluster, error) {
	pool := o.pool.Load()
	if pool == nil {
		return nil, pxpool.ErrClustersNotFound
	}

	return pool.GetProxmoxCluster(name)
}

// Reconcile handles scheduler events: config changes, resync ticks and cloud retries.
func (o *Operator) Reconcile(ctx context.Context, sender reconciler.EventSender, event reconciler.Event) error {
	logger := log.FromContext(ctx).WithValues("event", event.Type, "key", event.Key)
	ctx = log.IntoContext(ctx, logger)

	switch event.Type {
	case reconciler.FileEvent:
		if err := o.Reload(ctx); err != nil {
			return err
		}

		return o.refreshAll(ctx, sender)
	case reconciler.TimerEvent:
		return o.refreshAll(ctx, sender)
	case reconciler.CloudEvent:
		err := o.Refresher.Refresh(ctx, event.Key)
		if errors.Is(err, ErrRefreshInProgress) || errors.Is(err, ErrCloudNotFound) {
			logger.V(1).Info("Skipping cloud refresh", "reason", err.Error())

			return nil
		}

		return err
	}

	return nil
}

// refreshAll retries failed clouds one by one, the others are not refreshed again.
func (o *Operator) refreshAll(ctx context.Context, sender reconciler.EventSender) error {
	err := o.Refresher.RefreshAll(ctx)

	for _, name := range FailedClouds(err) {
		sender.RetryEvent(reconciler.Event{Type: reconciler.CloudEvent, Key: name})
	}

	if err != nil && len(FailedClouds(err)) == 0 {
		return err
	}

	return nil
}

func (o *Operator) Close() error {
	return o.Store.Close()
}
