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

// Package fake provides in-memory fakes for tests.
package fake

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
)

// Cluster is a fake Proxmox cluster. Set the exported fields to shape its inventory.
type Cluster struct {
	mu sync.Mutex

	Hosts           []goproxmox.Host
	Networks        []goproxmox.Network
	Images          []goproxmox.Image
	Snapshots       []goproxmox.Snapshot
	VirtualMachines []goproxmox.VirtualMachine
	Datastores      []goproxmox.Datastore

	// VerifyErr is returned by Verify.
	VerifyErr error
	// ListErr is returned by the list call named by its key, e.g. "hosts".
	ListErr map[string]error

	calls map[string]int
	tasks int
}

var _ goproxmox.Cluster = &Cluster{}

// NewCluster returns an empty fake cluster.
func NewCluster() *Cluster {
	return &Cluster{
		ListErr: map[string]error{},
		calls:   map[string]int{},
	}
}

// Calls returns how many times a method was called.
func (c *Cluster) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls[name]
}

func (c *Cluster) call(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.calls == nil {
		c.calls = map[string]int{}
	}

	c.calls[name]++

	return c.ListErr[name]
}

func (c *Cluster) Verify(_ context.Context) error {
	_ = c.call("verify")

	return c.VerifyErr
}

func (c *Cluster) ListHosts(_ context.Context) ([]goproxmox.Host, error) {
	if err := c.call("hosts"); err != nil {
		return nil, err
	}

	return append([]goproxmox.Host{}, c.Hosts...), nil
}

func (c *Cluster) ListNetworks(_ context.Context) ([]goproxmox.Network, error) {
	if err := c.call("networks"); err != nil {
		return nil, err
	}

	return append([]goproxmox.Network{}, c.Networks...), nil
}

func (c *Cluster) ListImages(_ context.Context) ([]goproxmox.Image, error) {
	if err := c.call("images"); err != nil {
		return nil, err
	}

	return append([]goproxmox.Image{}, c.Images...), nil
}

func (c *Cluster) ListSnapshots(_ context.Context) ([]goproxmox.Snapshot, error) {
	if err := c.call("snapshots"); err != nil {
		return nil, err
	}

	return append([]goproxmox.Snapshot{}, c.Snapshots...), nil
}

func (c *Cluster) ListVirtualMachines(_ context.Context) ([]goproxmox.VirtualMachine, error) {
	if err := c.call("vms"); err != nil {
		return nil, err
	}

	return append([]goproxmox.VirtualMachine{}, c.VirtualMachines...), nil
}

func (c *Cluster) ListDatastores(_ context.Context) ([]goproxmox.Datastore, error) {
	if err := c.call("datastores"); err != nil {
		return nil, err
	}

	return append([]goproxmox.Datastore{}, c.Datastores...), nil
}

func (c *Cluster) CreateSnapshot(_ context.Context, vmID uint64, name, description string) (*goproxmox.Task, error) {
	if err := c.call("createSnapshot"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	vm, ok := c.findVM(vmID)
	if !ok {
		return nil, goproxmox.ErrVirtualMachineNotFound
	}

	c.Snapshots = append(c.Snapshots, goproxmox.Snapshot{
		ExternalID:  goproxmox.SnapshotExternalID(vm.ExternalID, name),
		Name:        name,
		Description: description,
		VMID:        vm.ExternalID,
		Node:        vm.Node,
	})

	return c.task(vm.Node, "qmsnapshot"), nil
}

func (c *Cluster) DeleteSnapshot(_ context.Context, vmID uint64, name string) (*goproxmox.Task, error) {
	if err := c.call("deleteSnapshot"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	vm, ok := c.findVM(vmID)
	if !ok {
		return nil, goproxmox.ErrVirtualMachineNotFound
	}

	id := goproxmox.SnapshotExternalID(vm.ExternalID, name)
	out := c.Snapshots[:0]

	for _, s := range c.Snapshots {
		if s.ExternalID != id {
			out = append(out, s)
		}
	}

	c.Snapshots = out

	return c.task(vm.Node, "qmdelsnapshot"), nil
}

func (c *Cluster) GetTask(_ context.Context, upid string) (*goproxmox.Task, error) {
	if err := c.call("getTask"); err != nil {
		return nil, err
	}

	return &goproxmox.Task{UPID: upid, Status: "stopped", ExitStatus: "OK", Completed: true}, nil
}

func (c *Cluster) StopVM(_ context.Context, vmID uint64) (*goproxmox.Task, error) {
	if err := c.call("stopVM"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.VirtualMachines {
		if c.VirtualMachines[i].VMID == vmID {
			c.VirtualMachines[i].Status = "stopped"

			return c.task(c.VirtualMachines[i].Node, "qmstop"), nil
		}
	}

	return nil, goproxmox.ErrVirtualMachineNotFound
}

func (c *Cluster) DeleteServer(_ context.Context, vmID uint64) (*goproxmox.Task, error) {
	if err := c.call("deleteServer"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	vm, ok := c.findVM(vmID)
	if !ok {
		return nil, goproxmox.ErrVirtualMachineNotFound
	}

	out := c.VirtualMachines[:0]

	for _, v := range c.VirtualMachines {
		if v.VMID != vmID {
			out = append(out, v)
		}
	}

	c.VirtualMachines = out

	return c.task(vm.Node, "qmdestroy"), nil
}

func (c *Cluster) findVM(vmID uint64) (goproxmox.VirtualMachine, bool) {
	for _, v := range c.VirtualMachines {
		if v.VMID == vmID {
			return v, true
		}
	}

	return goproxmox.VirtualMachine{}, false
}

func (c *Cluster) task(node, kind string) *goproxmox.Task {
	c.tasks++

	return &goproxmox.Task{
		UPID:       fmt.Sprintf("UPID:%s:%08X:%s:%s:root@pam:", node, c.tasks, kind, strconv.Itoa(c.tasks)),
		Node:       node,
		Type:       kind,
		Status:     "stopped",
		ExitStatus: "OK",
		Completed:  true,
	}
}
