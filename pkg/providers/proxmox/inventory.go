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
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

type clusterStatus struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	IP     string `json:"ip,omitempty"`
	Online int    `json:"online,omitempty"`
}

type storageContent struct {
	Volid  string `json:"volid"`
	Format string `json:"format"`
	Size   int64  `json:"size"`
}

type vmSnapshot struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parent      string `json:"parent,omitempty"`
	SnapTime    int64  `json:"snaptime,omitempty"`
}

// ListHosts lists the cluster nodes.
func (c *APIClient) ListHosts(ctx context.Context) ([]Host, error) {
	nodes, err := c.resources(ctx, "node")
	if err != nil {
		return nil, err
	}

	addresses := map[string]string{}

	status := []clusterStatus{}
	if err := c.Get(ctx, "/cluster/status", &status); err != nil {
		log.FromContext(ctx).V(1).Info("cannot get cluster status, node addresses are skipped", "error", err.Error())
	}

	for _, s := range status {
		if s.Type == "node" && s.IP != "" {
			addresses[s.Name] = s.IP
		}
	}

	hosts := make([]Host, 0, len(nodes))

	for _, r := range nodes {
		if r.Type != "node" {
			continue
		}

		h := HostFromResource(r)
		h.ConsoleAddress = addresses[r.Node]
		hosts = append(hosts, h)
	}

	return hosts, nil
}

// ListVirtualMachines lists the QEMU guests, templates included.
func (c *APIClient) ListVirtualMachines(ctx context.Context) ([]VirtualMachine, error) {
	vms, err := c.resources(ctx, "vm")
	if err != nil {
		return nil, err
	}

	out := make([]VirtualMachine, 0, len(vms))

	for _, r := range vms {
		if r.Type != "qemu" {
			continue
		}

		c.vmNode.SetDefault(strconv.FormatUint(r.VMID, 10), r.Node)
		out = append(out, VirtualMachineFromResource(r))
	}

	return out, nil
}

// ListDatastores lists the storages aggregated across nodes.
func (c *APIClient) ListDatastores(ctx context.Context) ([]Datastore, error) {
	storages, err := c.resources(ctx, "storage")
	if err != nil {
		return nil, err
	}

	return DatastoresFromResources(storages), nil
}

// ListNetworks lists the SDN vnets with the IP configuration of their subnets.
func (c *APIClient) ListNetworks(ctx context.Context) ([]Network, error) {
	zones := []SDNZone{}
	if err := c.Get(ctx, "/cluster/sdn/zones", &zones); err != nil {
		return nil, fmt.Errorf("could not list sdn zones: %w", ClassifyError(err))
	}

	vnets := []SDNVnet{}
	if err := c.Get(ctx, "/cluster/sdn/vnets", &vnets); err != nil {
		return nil, fmt.Errorf("could not list sdn vnets: %w", ClassifyError(err))
	}

	out := make([]Network, 0, len(vnets))

	for _, vnet := range vnets {
		subnets := []SDNSubnet{}
		if err := c.Get(ctx, fmt.Sprintf("/cluster/sdn/vnets/%s/subnets", vnet.Vnet), &subnets); err != nil {
			return nil, fmt.Errorf("could not list subnets of vnet %s: %w", vnet.Vnet, ClassifyError(err))
		}

		zone, _ := lo.Find(zones, func(z SDNZone) bool { return z.Zone == vnet.Zone })

		n, err := NetworkFromSDN(vnet, &zone, subnets)
		if err != nil {
			return nil, err
		}

		out = append(out, n)
	}

	return out, nil
}

// ListImages lists ISO volumes and VM templates.
// Any read failure fails the listing, a partial image set is never returned.
func (c *APIClient) ListImages(ctx context.Context) ([]Image, error) {
	storages, err := c.resources(ctx, "storage")
	if err != nil {
		return nil, err
	}

	images := []Image{}
	seen := map[string]bool{}

	for _, st := range storages {
		if st.Status != "available" || !lo.Contains(strings.Split(st.Content, ","), "iso") {
			continue
		}

		// shared storages show up once per node
		if st.Shared == 1 && seen[st.Storage] {
			continue
		}

		seen[st.Storage] = true

		content := []storageContent{}
		if err := c.Client.GetWithParams(ctx, fmt.Sprintf("/nodes/%s/storage/%s/content", st.Node, st.Storage),
			map[string]interface{}{"content": "iso"}, &content); err != nil {
			return nil, fmt.Errorf("could not list content of storage %s on %s: %w", st.Storage, st.Node, ClassifyError(err))
		}

		for _, item := range content {
			_, name, _ := strings.Cut(item.Volid, "/")

			images = append(images, Image{
				ExternalID: item.Volid,
				Name:       name,
				DiskID:     item.Volid,
				Format:     VolumeFormat(item.Volid, item.Format),
				Node:       st.Node,
				SizeBytes:  item.Size,
			})
		}
	}

	vms, err := c.resources(ctx, "vm")
	if err != nil {
		return nil, err
	}

	for _, r := range vms {
		if r.Type != "qemu" || r.Template != 1 {
			continue
		}

		node, err := c.Node(ctx, r.Node)
		if err != nil {
			return nil, fmt.Errorf("unable to find node with name %s: %w", r.Node, ClassifyError(err))
		}

		// a missing template would read as deleted, so the whole listing fails instead
		vm, err := node.VirtualMachine(ctx, int(r.VMID))
		if err != nil {
			return nil, fmt.Errorf("unable to get config of template %d on %s: %w", r.VMID, r.Node, ClassifyError(err))
		}

		bootDisk := ""
		if vm.VirtualMachineConfig != nil {
			bootDisk = BootDisk(vm.VirtualMachineConfig.Boot, vm.VirtualMachineConfig.MergeDisks())
		}

		images = append(images, TemplateImage(r, bootDisk))
	}

	return images, nil
}

// ListSnapshots lists the snapshots of every VM, without the "current" entry.
func (c *APIClient) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	vms, err := c.ListVirtualMachines(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(vms, func(i, j int) bool { return vms[i].VMID < vms[j].VMID })

	out := []Snapshot{}

	for _, vm := range vms {
		if vm.Template {
			continue
		}

		snaps := []vmSnapshot{}
		if err := c.Get(ctx, fmt.Sprintf("/nodes/%s/qemu/%d/snapshot", vm.Node, vm.VMID), &snaps); err != nil {
			return nil, fmt.Errorf("could not list snapshots of vm %d: %w", vm.VMID, ClassifyError(err))
		}

		out = append(out, snapshotsFrom(vm, snaps)...)
	}

	return out, nil
}

func snapshotsFrom(vm VirtualMachine, snaps []vmSnapshot) []Snapshot {
	out := make([]Snapshot, 0, len(snaps))

	for _, s := range snaps {
		if s.Name == SnapshotCurrent {
			continue
		}

		out = append(out, Snapshot{
			ExternalID:    SnapshotExternalID(vm.ExternalID, s.Name),
			Name:          s.Name,
			Description:   s.Description,
			VMID:          vm.ExternalID,
			Node:          vm.Node,
			Parent:        s.Parent,
			CreatedMicros: s.SnapTime * 1_000_000,
		})
	}

	return out
}
