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

// Package models defines the local inventory records kept by the management system.
package models

// Projection is the identity-only view of a local record used to match it against remote items.
type Projection struct {
	ID         int64
	ExternalID string
	Name       string
	TypeCode   string
	RefID      int64
}

// Record is implemented by every local record with an identity projection.
type Record interface {
	GetID() int64
	Project() Projection
}

// Projections maps records to their projections.
func Projections[T Record](records []T) []Projection {
	out := make([]Projection, 0, len(records))
	for _, r := range records {
		out = append(out, r.Project())
	}

	return out
}

// IDs returns the internal ids of the given projections.
func IDs(projections []Projection) []int64 {
	out := make([]int64, 0, len(projections))
	for _, p := range projections {
		out = append(out, p.ID)
	}

	return out
}

const (
	// CloudTypeProxmox is the provider kind of every cloud handled here.
	CloudTypeProxmox = "proxmox"

	PowerStateOn      = "on"
	PowerStateOff     = "off"
	PowerStateUnknown = "unknown"

	CloudStatusSyncing = "syncing"
	CloudStatusOK      = "ok"
	CloudStatusOffline = "offline"
)
