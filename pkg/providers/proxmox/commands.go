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
	"net/url"
	"strconv"

	"github.com/luthermonson/go-proxmox"
)

// CreateSnapshot takes a snapshot of a VM and waits for the task.
func (c *APIClient) CreateSnapshot(ctx context.Context, vmID uint64, name, description string) (*Task, error) {
	nodeName, err := c.vmLocation(ctx, vmID)
	if err != nil {
		return nil, err
	}

	data := map[string]interface{}{"snapname": name}
	if description != "" {
		data["description"] = description
	}

	var upid proxmox.UPID
	if err := c.Post(ctx, fmt.Sprintf("/nodes/%s/qemu/%d/snapshot", nodeName, vmID), &data, &upid); err != nil {
		return nil, fmt.Errorf("unable to create snapshot %s of vm %d: %w", name, vmID, ClassifyError(err))
	}

	return c.waitTask(ctx, upid)
}

// DeleteSnapshot removes a VM snapshot and waits for the task.
func (c *APIClient) DeleteSnapshot(ctx context.Context, vmID uint64, name string) (*Task, error) {
	nodeName, err := c.vmLocation(ctx, vmID)
	if err != nil {
		return nil, err
	}

	var upid proxmox.UPID
	if err := c.Delete(ctx, fmt.Sprintf("/nodes/%s/qemu/%d/snapshot/%s", nodeName, vmID, url.PathEscape(name)), &upid); err != nil {
		return nil, fmt.Errorf("unable to delete snapshot %s of vm %d: %w", name, vmID, ClassifyError(err))
	}

	return c.waitTask(ctx, upid)
}

// GetTask returns the current state of a task.
func (c *APIClient) GetTask(ctx context.Context, upid string) (*Task, error) {
	task := proxmox.NewTask(proxmox.UPID(upid), c.Client)
	if err := task.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to get task %s: %w", upid, ClassifyError(err))
	}

	return taskFrom(task), nil
}

// StopVM stops a VM and waits for the task.
func (c *APIClient) StopVM(ctx context.Context, vmID uint64) (*Task, error) {
	vm, err := c.virtualMachine(ctx, vmID)
	if err != nil {
		return nil, err
	}

	task, err := vm.Stop(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to stop vm %d: %w", vmID, ClassifyError(err))
	}

	return c.waitTask(ctx, task.UPID)
}

// DeleteServer stops a running VM and removes it.
func (c *APIClient) DeleteServer(ctx context.Context, vmID uint64) (*Task, error) {
	vm, err := c.virtualMachine(ctx, vmID)
	if err != nil {
		return nil, err
	}

	if vm.IsRunning() {
		task, err := vm.Stop(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to stop vm %d: %w", vmID, ClassifyError(err))
		}

		if _, err := c.waitTask(ctx, task.UPID); err != nil {
			return nil, err
		}
	}

	task, err := vm.Delete(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot delete vm with id %d: %w", vmID, ClassifyError(err))
	}

	res, err := c.waitTask(ctx, task.UPID)
	if err == nil {
		c.vmNode.Delete(strconv.FormatUint(vmID, 10))
	}

	return res, err
}

func (c *APIClient) virtualMachine(ctx context.Context, vmID uint64) (*proxmox.VirtualMachine, error) {
	nodeName, err := c.vmLocation(ctx, vmID)
	if err != nil {
		return nil, err
	}

	node, err := c.Node(ctx, nodeName)
	if err != nil {
		return nil, fmt.Errorf("unable to find node with name %s: %w", nodeName, ClassifyError(err))
	}

	vm, err := node.VirtualMachine(ctx, int(vmID))
	if err != nil {
		return nil, fmt.Errorf("unable to find vm with id %d: %w", vmID, ClassifyError(err))
	}

	return vm, nil
}
