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

// Package store defines the persistence gateway used by the inventory passes.
package store

import (
	"context"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
)

// Table is the bulk persistence contract of one record kind.
// Records are persisted atomically per call; nothing is transactional across calls.
type Table[T any] interface {
	// Find returns records matching all conditions, ordered by id.
	Find(ctx context.Context, conds ...Cond) ([]*T, error)
	// Get hydrates records by internal id in a single lookup.
	Get(ctx context.Context, ids []int64) ([]*T, error)
	// Projections returns identity projections of records matching all conditions.
	Projections(ctx context.Context, conds ...Cond) ([]models.Projection, error)

	// Create stores new records and assigns their ids.
	Create(ctx context.Context, records []*T) error
	// Save updates existing records.
	Save(ctx context.Context, records []*T) error
	// Remove deletes records by id.
	Remove(ctx context.Context, records []*T) error
}

// Store is the management system data model gateway.
type Store interface {
	Clouds() Table[models.Cloud]
	Alarms() Table[models.Alarm]
	ServicePlans() Table[models.ServicePlan]

	Servers() Table[models.ComputeServer]
	Networks() Table[models.Network]
	NetworkPools() Table[models.NetworkPool]
	Images() Table[models.Image]
	ImageLocations() Table[models.ImageLocation]
	Snapshots() Table[models.Snapshot]
	Datastores() Table[models.Datastore]

	Close() error
}
