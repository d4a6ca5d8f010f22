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
	"strconv"
	"time"

	"github.com/luthermonson/go-proxmox"
	"github.com/patrickmn/go-cache"
)

const taskTimeoutSeconds = 5 * 60

// Inventory lists the resources of one cluster. Every call returns the full current set.
type Inventory interface {
	ListHosts(ctx context.Context) ([]Host, error)
	ListNetworks(ctx context.Context) ([]Network, error)
	ListImages(ctx context.Context) ([]Image, error)
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
	ListVirtualMachines(ctx context.Context) ([]VirtualMachine, error)
	ListDatastores(ctx context.Context) ([]Datastore, error)
}

// Commander runs lifecycle commands against one cluster.
type Commander interface {
	CreateSnapshot(ctx context.Context, vmID uint64, name, description string) (*Task, error)
	DeleteSnapshot(ctx context.Context, vmID uint64, name string) (*Task, error)
	GetTask(ctx context.Context, upid string) (*Task, error)
	StopVM(ctx context.Context, vmID uint64) (*Task, error)
	DeleteServer(ctx context.Context, vmID uint64) (*Task, error)
}

// Cluster is a connected Proxmox cluster.
type Cluster interface {
	Inventory
	Commander

	Verify(ctx context.Context) error
}

var _ Cluster = &APIClient{}

// APIClient Proxmox API client object.
type APIClient struct {
	*proxmox.Client

	// vmNode caches the node a VM was last seen on, keyed by vmid.
	vmNode *cache.Cache
}

// NewAPIClient initializes a GO-Proxmox API client.
func NewAPIClient(url string, options ...proxmox.Option) *APIClient {
	return &APIClient{
		Client: proxmox.NewClient(url, options...),
		vmNode: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Verify checks that the API is reachable and accepts the credentials.
func (c *APIClient) Verify(ctx context.Context) error {
	if _, err := c.Version(ctx); err != nil {
		return ClassifyError(err)
	}

	if _, err := c.resources(ctx, "node"); err != nil {
		return ClassifyError(err)
	}

	return nil
}

// FindVMByID tries to find a VM by its ID on the whole cluster.
func (c *APIClient) FindVMByID(ctx context.Context, vmID uint64) (*proxmox.ClusterResource, error) {
	vmResources, err := c.resources(ctx, "vm")
	if err != nil {
		return nil, err
	}

	for _, vm := range vmResources {
		if vm.VMID == vmID {
			c.vmNode.SetDefault(strconv.FormatUint(vmID, 10), vm.Node)

			return vm, nil
		}
	}

	return nil, ErrVirtualMachineNotFound
}

func (c *APIClient) resources(ctx context.Context, kind string) ([]*proxmox.ClusterResource, error) {
	cluster, err := c.Cluster(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot get cluster status: %w", ClassifyError(err))
	}

	res, err := cluster.Resources(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("could not list %s resources: %w", kind, ClassifyError(err))
	}

	return res, nil
}

func (c *APIClient) vmLocation(ctx context.Context, vmID uint64) (string, error) {
	if node, ok := c.vmNode.Get(strconv.FormatUint(vmID, 10)); ok {
		return node.(string), nil
	}

	vm, err := c.FindVMByID(ctx, vmID)
	if err != nil {
		return "", err
	}

	return vm.Node, nil
}

func (c *APIClient) waitTask(ctx context.Context, upid proxmox.UPID) (*Task, error) {
	task := proxmox.NewTask(upid, c.Client)
	if err := task.WaitFor(ctx, taskTimeoutSeconds); err != nil {
		return nil, fmt.Errorf("task %s: %w", upid, err)
	}

	res := taskFrom(task)
	if task.IsFailed {
		return res, fmt.Errorf("task %s: %w: %s", upid, ErrTaskFailed, task.ExitStatus)
	}

	return res, nil
}

func taskFrom(task *proxmox.Task) *Task {
	return &Task{
		UPID:       string(task.UPID),
		Node:       task.Node,
		Type:       task.Type,
		Status:     task.Status,
		ExitStatus: task.ExitStatus,
		Completed:  task.IsCompleted,
		Failed:     task.IsFailed,
	}
}
