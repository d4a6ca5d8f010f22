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

const (
	ServerTypeHypervisor = "hypervisor"
	ServerTypeVM         = "vm"

	ServerTypeCodeHypervisor = "proxmox-hypervisor"
	ServerTypeCodeVM         = "proxmox-vm"
)

// ComputeServer is a host or a virtual machine. VMs point to their host through ParentServerID.
type ComputeServer struct {
	ID             int64  `gorm:"primaryKey"`
	CloudID        int64  `gorm:"index"`
	AccountID      int64  `gorm:"index"`
	ExternalID     string `gorm:"index"`
	Name           string
	Hostname       string
	Category       string
	ServerType     string
	TypeCode       string `gorm:"index"`
	ParentServerID *int64 `gorm:"index"`
	PowerState     string
	MaxMemory      int64
	MaxCores       int64
	MaxStorage     int64
	UsedMemory     int64
	ExternalIP     string
	ConsoleHost    string
	ConsoleType    string
	ImageID        *int64
	SnapshotIDs    []int64 `gorm:"serializer:json"`
}

func (s *ComputeServer) GetID() int64 { return s.ID }

func (s *ComputeServer) Project() Projection {
	var ref int64
	if s.ParentServerID != nil {
		ref = *s.ParentServerID
	}

	return Projection{ID: s.ID, ExternalID: s.ExternalID, Name: s.Name, TypeCode: s.TypeCode, RefID: ref}
}
