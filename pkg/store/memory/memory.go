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

// Package memory implements an in-process store used by tests and dry runs.
package memory

import (
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
)

// Store keeps every table in memory.
type Store struct {
	clouds         *table[models.Cloud]
	alarms         *table[models.Alarm]
	plans          *table[models.ServicePlan]
	servers        *table[models.ComputeServer]
	networks       *table[models.Network]
	pools          *table[models.NetworkPool]
	images         *table[models.Image]
	imageLocations *table[models.ImageLocation]
	snapshots      *table[models.Snapshot]
	datastores     *table[models.Datastore]
}

var _ store.Store = &Store{}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		clouds:         newTable[models.Cloud](),
		alarms:         newTable[models.Alarm](),
		plans:          newTable[models.ServicePlan](),
		servers:        newTable[models.ComputeServer](),
		networks:       newTable[models.Network](),
		pools:          newTable[models.NetworkPool](),
		images:         newTable[models.Image](),
		imageLocations: newTable[models.ImageLocation](),
		snapshots:      newTable[models.Snapshot](),
		datastores:     newTable[models.Datastore](),
	}
}

func (s *Store) Clouds() store.Table[models.Cloud]                 { return s.clouds }
func (s *Store) Alarms() store.Table[models.Alarm]                 { return s.alarms }
func (s *Store) ServicePlans() store.Table[models.ServicePlan]     { return s.plans }
func (s *Store) Servers() store.Table[models.ComputeServer]        { return s.servers }
func (s *Store) Networks() store.Table[models.Network]             { return s.networks }
func (s *Store) NetworkPools() store.Table[models.NetworkPool]     { return s.pools }
func (s *Store) Images() store.Table[models.Image]                 { return s.images }
func (s *Store) ImageLocations() store.Table[models.ImageLocation] { return s.imageLocations }
func (s *Store) Snapshots() store.Table[models.Snapshot]           { return s.snapshots }
func (s *Store) Datastores() store.Table[models.Datastore]         { return s.datastores }

func (s *Store) Close() error { return nil }

// Calls returns how many times each table operation was invoked, keyed by "<table>.<op>".
func (s *Store) Calls() map[string]int {
	out := map[string]int{}

	for name, t := range map[string]interface{ calls() map[string]int }{
		"clouds":         s.clouds,
		"alarms":         s.alarms,
		"plans":          s.plans,
		"servers":        s.servers,
		"networks":       s.networks,
		"pools":          s.pools,
		"images":         s.images,
		"imageLocations": s.imageLocations,
		"snapshots":      s.snapshots,
		"datastores":     s.datastores,
	} {
		for op, n := range t.calls() {
			out[name+"."+op] = n
		}
	}

	return out
}

// ResetCalls clears the operation counters.
func (s *Store) ResetCalls() {
	for _, t := range []interface{ resetCalls() }{
		s.clouds, s.alarms, s.plans, s.servers, s.networks, s.pools,
		s.images, s.imageLocations, s.snapshots, s.datastores,
	} {
		t.resetCalls()
	}
}
