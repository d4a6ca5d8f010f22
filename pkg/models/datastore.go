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

package models

// Datastore is a Proxmox storage.
type Datastore struct {
	ID          int64  `gorm:"primaryKey"`
	CloudID     int64  `gorm:"index"`
	ExternalID  string `gorm:"index"`
	Name        string
	Type        string
	Shared      bool
	StorageSize int64
	FreeSpace   int64
	Online      bool
	Active      bool
	Category    string
}

func (d *Datastore) GetID() int64 { return d.ID }

func (d *Datastore) Project() Projection {
	return Projection{ID: d.ID, ExternalID: d.ExternalID, Name: d.Name, TypeCode: d.Type, RefID: d.CloudID}
}
