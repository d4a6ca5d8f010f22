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
	NetworkTypeManaged   = "proxmox-managed-network"
	NetworkTypeUnmanaged = "proxmox-unmanaged-network"

	PoolTypeProxmox = "proxmox"
)

type Network struct {
	ID         int64  `gorm:"primaryKey"`
	CloudID    int64  `gorm:"index"`
	OwnerID    int64
	ExternalID string `gorm:"index"`
	Name       string
	Category   string
	TypeCode   string
	VLANID     int
	CIDR       string
	Gateway    string
	DHCPServer bool
	PoolID     *int64 `gorm:"index"`
	Active     bool
}

func (n *Network) GetID() int64 { return n.ID }

func (n *Network) Project() Projection {
	return Projection{ID: n.ID, ExternalID: n.ExternalID, Name: n.Name, TypeCode: n.TypeCode, RefID: n.CloudID}
}

// NetworkPool is the IP pool of a managed network.
type NetworkPool struct {
	ID                int64  `gorm:"primaryKey"`
	ExternalID        string `gorm:"index"`
	Name              string
	PoolType          string `gorm:"index"`
	CloudID           *int64 `gorm:"index"`
	Gateway           string
	Netmask           string
	DHCPServerAddress string
	DNSServers        string
	DomainName        string
	TFTPServer        string
	BootFile          string
	Ranges            []IPRange `gorm:"foreignKey:PoolID"`
}

func (p *NetworkPool) GetID() int64 { return p.ID }

func (p *NetworkPool) Project() Projection {
	var ref int64
	if p.CloudID != nil {
		ref = *p.CloudID
	}

	return Projection{ID: p.ID, ExternalID: p.ExternalID, Name: p.Name, TypeCode: p.PoolType, RefID: ref}
}

type IPRange struct {
	ID           int64 `gorm:"primaryKey"`
	PoolID       int64 `gorm:"index"`
	StartAddress string
	EndAddress   string
	AddressCount int64
}
