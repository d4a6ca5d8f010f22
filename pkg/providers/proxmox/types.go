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

package goproxmox

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/luthermonson/go-proxmox"
	"github.com/samber/lo"
)

const (
	// HostStateOnline is the node state reported by the cluster resources API.
	HostStateOnline = "online"
	// HostStateNormal is the node state reported by the legacy node status API.
	HostStateNormal = "normal"

	// SnapshotCurrent is the pseudo snapshot Proxmox lists for the running state.
	SnapshotCurrent = "current"
)

// Host is a Proxmox node.
type Host struct {
	ExternalID        string
	Name              string
	Status            string
	Cores             int64
	MemoryCapacityMiB int64
	DiskBytes         int64
	// ConsoleAddress is the node management address, when the cluster reports one.
	ConsoleAddress string
}

// Healthy reports whether the node state is one of the accepted healthy states.
func (h Host) Healthy() bool {
	return strings.EqualFold(h.Status, HostStateOnline) || strings.EqualFold(h.Status, HostStateNormal)
}

// IPConfig is the IP configuration of a managed network.
type IPConfig struct {
	CIDR       string
	Gateway    string
	DHCPServer string
	DNSServers []string
	DomainName string
	TFTPServer string
	BootFile   string
	// Ranges are "start end" address pairs.
	Ranges []string
}

// Network is an SDN vnet. IPConfig is nil for vnets without a subnet.
type Network struct {
	ExternalID string
	Name       string
	Zone       string
	VLANID     int
	IPConfig   *IPConfig
}

// Managed reports whether the network carries an IP configuration.
func (n Network) Managed() bool {
	return n.IPConfig != nil
}

// Image is an ISO volume or a VM template.
type Image struct {
	ExternalID string
	Name       string
	DiskID     string
	Format     string
	Node       string
	SizeBytes  int64
}

// VirtualMachine is a QEMU guest.
type VirtualMachine struct {
	ExternalID string
	VMID       uint64
	Name       string
	Node       string
	Status     string
	Cores      int64
	MaxMemory  int64
	MaxDisk    int64
	UsedMemory int64
	Template   bool
}

// Running reports whether the guest is running.
func (v VirtualMachine) Running() bool {
	return v.Status == "running"
}

// Snapshot is a VM snapshot.
type Snapshot struct {
	ExternalID  string
	Name        string
	Description string
	VMID        string
	Node        string
	Parent      string
	// CreatedMicros is the creation time in microseconds since epoch, zero when unknown.
	CreatedMicros int64
}

// Datastore is a storage aggregated across the nodes it is attached to.
type Datastore struct {
	ExternalID string
	Name       string
	Type       string
	Shared     bool
	Content    []string
	Nodes      []string
	TotalBytes int64
	UsedBytes  int64
	Online     bool
}

// Task is the state of an asynchronous Proxmox task.
type Task struct {
	UPID       string `json:"upid"`
	Node       string `json:"node"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	ExitStatus string `json:"exitStatus,omitempty"`
	Completed  bool   `json:"completed"`
	Failed     bool   `json:"failed"`
}

// HostFromResource converts a cluster node resource.
func HostFromResource(r *proxmox.ClusterResource) Host {
	return Host{
		ExternalID:        r.Node,
		Name:              r.Node,
		Status:            r.Status,
		Cores:             int64(r.MaxCPU),
		MemoryCapacityMiB: int64(r.MaxMem / (1024 * 1024)),
		DiskBytes:         int64(r.MaxDisk),
	}
}

// VirtualMachineFromResource converts a cluster vm resource.
func VirtualMachineFromResource(r *proxmox.ClusterResource) VirtualMachine {
	return VirtualMachine{
		ExternalID: strconv.FormatUint(r.VMID, 10),
		VMID:       r.VMID,
		Name:       r.Name,
		Node:       r.Node,
		Status:     r.Status,
		Cores:      int64(r.MaxCPU),
		MaxMemory:  int64(r.MaxMem),
		MaxDisk:    int64(r.MaxDisk),
		UsedMemory: int64(r.Mem),
		Template:   r.Template == 1,
	}
}

// DatastoresFromResources aggregates per-node storage resources by storage id.
func DatastoresFromResources(resources []*proxmox.ClusterResource) []Datastore {
	byID := map[string]*Datastore{}
	order := []string{}

	for _, r := range resources {
		if r.Storage == "" {
			continue
		}

		ds, ok := byID[r.Storage]
		if !ok {
			ds = &Datastore{
				ExternalID: r.Storage,
				Name:       r.Storage,
				Type:       r.PluginType,
				Shared:     r.Shared == 1,
				Content:    lo.Compact(strings.Split(r.Content, ",")),
			}
			byID[r.Storage] = ds
			order = append(order, r.Storage)
		}

		if r.Node != "" && !slices.Contains(ds.Nodes, r.Node) {
			ds.Nodes = append(ds.Nodes, r.Node)
		}

		if r.Status == "available" {
			ds.Online = true
		}

		// shared storages report the same capacity on every node
		if ds.Shared {
			ds.TotalBytes = max(ds.TotalBytes, int64(r.MaxDisk))
			ds.UsedBytes = max(ds.UsedBytes, int64(r.Disk))
		} else {
			ds.TotalBytes += int64(r.MaxDisk)
			ds.UsedBytes += int64(r.Disk)
		}
	}

	return lo.Map(order, func(id string, _ int) Datastore {
		ds := byID[id]
		sort.Strings(ds.Nodes)

		return *ds
	})
}

// VolumeFormat derives an image type from a volume id or its reported format.
func VolumeFormat(volid, format string) string {
	switch f := strings.ToLower(format); f {
	case "iso", "qcow2", "raw":
		return f
	}

	name := strings.ToLower(volid)

	switch {
	case strings.HasSuffix(name, ".iso"):
		return "iso"
	case strings.HasSuffix(name, ".qcow2"):
		return "qcow2"
	case strings.HasSuffix(name, ".raw"):
		return "raw"
	}

	return "disk"
}

// BootDisk returns the volume id of the disk a VM boots from.
// It follows the boot order and falls back to the first disk by name.
func BootDisk(boot string, disks map[string]string) string {
	volume := func(key string) string {
		disk, ok := disks[key]
		if !ok {
			return ""
		}

		volid, _, _ := strings.Cut(disk, ",")
		if volid == "none" || strings.Contains(disk, "media=cdrom") {
			return ""
		}

		return volid
	}

	for _, opt := range strings.Split(boot, ",") {
		order, ok := strings.CutPrefix(opt, "order=")
		if !ok {
			continue
		}

		for _, dev := range strings.Split(order, ";") {
			if v := volume(dev); v != "" {
				return v
			}
		}
	}

	keys := lo.Keys(disks)
	sort.Strings(keys)

	for _, key := range keys {
		if v := volume(key); v != "" {
			return v
		}
	}

	return ""
}

// TemplateImage converts a VM template into an image.
func TemplateImage(r *proxmox.ClusterResource, bootDisk string) Image {
	return Image{
		ExternalID: strconv.FormatUint(r.VMID, 10),
		Name:       r.Name,
		DiskID:     bootDisk,
		Format:     VolumeFormat(bootDisk, ""),
		Node:       r.Node,
		SizeBytes:  int64(r.MaxDisk),
	}
}

// SnapshotExternalID returns the identity of a VM snapshot.
func SnapshotExternalID(vmid, name string) string {
	return vmid + "/" + name
}
