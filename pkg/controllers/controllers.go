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

package controllers

import (
	"context"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/controllers/datastore"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/controllers/host"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/controllers/image"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/controllers/network"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/controllers/snapshot"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/controllers/vm"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/syncer"
)

// Controller is one reconciliation pass of a cloud inventory.
type Controller interface {
	Name() string
	Reconcile(ctx context.Context, cloud *models.Cloud, inv goproxmox.Inventory) (syncer.Stats, error)
}

// NewControllers returns the passes in the order a refresh runs them.
// Hosts go before guests so that new VMs can link to them.
func NewControllers(s store.Store) []Controller {
	controllers := []Controller{
		network.NewController(s),
		datastore.NewController(s),
		image.NewController(s),
		host.NewController(s),
		vm.NewController(s),
		snapshot.NewController(s),
	}

	return controllers
}
