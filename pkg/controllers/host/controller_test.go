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

package host_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/controllers/host"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store/memory"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/syncer"
	"github.com/sergelogvinov/proxmox-inventory-sync/test/fake"

	"k8s.io/klog/v2/ktesting"
	"k8s.io/utils/ptr"
)

const mib = 1024 * 1024

func TestNewHost(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)

	s := memory.New()
	cloud := &models.Cloud{ID: 2, AccountID: 5}
	cluster := fake.NewCluster()
	cluster.Hosts = []goproxmox.Host{
		{ExternalID: "pve-1", Name: "pve-1", Status: "online", Cores: 16, MemoryCapacityMiB: 65536, DiskBytes: 1 << 40, ConsoleAddress: "10.0.0.11"},
		{ExternalID: "pve-2", Name: "pve-2", Status: "offline", Cores: 8, MemoryCapacityMiB: 32768},
	}

	stats, err := host.NewController(s).Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)
	assert.Equal(t, syncer.Stats{Added: 2}, stats)

	hosts, err := s.Servers().Find(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 2)

	assert.Equal(t, models.ServerTypeHypervisor, hosts[0].ServerType)
	assert.Equal(t, int64(5), hosts[0].AccountID)
	assert.Equal(t, "proxmox.host.2", hosts[0].Category)
	assert.Equal(t, models.PowerStateOn, hosts[0].PowerState)
	assert.Equal(t, int64(65536*mib), hosts[0].MaxMemory)
	assert.Equal(t, "10.0.0.11", hosts[0].ConsoleHost)
	assert.Equal(t, host.ConsoleTypeSSH, hosts[0].ConsoleType)

	assert.Equal(t, models.PowerStateOff, hosts[1].PowerState)
	assert.Empty(t, hosts[1].ConsoleHost)
	assert.Empty(t, hosts[1].ConsoleType)
}

func TestHostUpdate(t *testing.T) {
	for _, tc := range []struct {
		msg       string
		existing  models.ComputeServer
		remote    goproxmox.Host
		expMemory int64
		expCores  int64
		expPower  string
	}{
		{
			msg:       "memory-does-not-shrink",
			existing:  models.ComputeServer{MaxMemory: 8192 * mib, MaxCores: 4},
			remote:    goproxmox.Host{Status: "online", MemoryCapacityMiB: 4096, Cores: 4},
			expMemory: 8192 * mib,
			expCores:  4,
			expPower:  models.PowerStateOn,
		},
		{
			msg:       "capacity-grows",
			existing:  models.ComputeServer{MaxMemory: 4096 * mib, MaxCores: 4},
			remote:    goproxmox.Host{Status: "Normal", MemoryCapacityMiB: 8192, Cores: 12},
			expMemory: 8192 * mib,
			expCores:  12,
			expPower:  models.PowerStateOn,
		},
		{
			msg:       "node-down",
			existing:  models.ComputeServer{MaxMemory: 4096 * mib, MaxCores: 4, PowerState: models.PowerStateOn},
			remote:    goproxmox.Host{Status: "offline"},
			expMemory: 4096 * mib,
			expCores:  4,
			expPower:  models.PowerStateOff,
		},
	} {
		t.Run(tc.msg, func(t *testing.T) {
			t.Parallel()

			_, ctx := ktesting.NewTestContext(t)

			s := memory.New()
			cloud := &models.Cloud{ID: 1}
			cluster := fake.NewCluster()

			existing := tc.existing
			existing.CloudID = cloud.ID
			existing.ExternalID = "pve-1"
			existing.ServerType = models.ServerTypeHypervisor
			require.NoError(t, s.Servers().Create(ctx, []*models.ComputeServer{&existing}))

			tc.remote.ExternalID = "pve-1"
			tc.remote.Name = "pve-1"
			cluster.Hosts = []goproxmox.Host{tc.remote}

			stats, err := host.NewController(s).Reconcile(ctx, cloud, cluster)
			require.NoError(t, err)
			assert.Equal(t, syncer.Stats{Updated: 1}, stats)

			res, err := s.Servers().Get(ctx, []int64{existing.ID})
			require.NoError(t, err)
			require.Len(t, res, 1)

			assert.Equal(t, tc.expMemory, res[0].MaxMemory)
			assert.Equal(t, tc.expCores, res[0].MaxCores)
			assert.Equal(t, tc.expPower, res[0].PowerState)
		})
	}
}

func TestHostUsedMemory(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)

	s := memory.New()
	cloud := &models.Cloud{ID: 1}
	cluster := fake.NewCluster()
	cluster.Hosts = []goproxmox.Host{{ExternalID: "pve-1", Name: "pve-1", Status: "online", MemoryCapacityMiB: 16384}}

	ctrl := host.NewController(s)

	_, err := ctrl.Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)

	hosts, err := s.Servers().Find(ctx, store.Eq("server_type", models.ServerTypeHypervisor))
	require.NoError(t, err)
	require.Len(t, hosts, 1)

	require.NoError(t, s.Servers().Create(ctx, []*models.ComputeServer{
		{CloudID: 1, ServerType: models.ServerTypeVM, ExternalID: "100", ParentServerID: ptr.To(hosts[0].ID), MaxMemory: 2048 * mib},
		{CloudID: 1, ServerType: models.ServerTypeVM, ExternalID: "101", ParentServerID: ptr.To(hosts[0].ID), MaxMemory: 1024 * mib},
		{CloudID: 1, ServerType: models.ServerTypeVM, ExternalID: "102", MaxMemory: 4096 * mib},
	}))

	_, err = ctrl.Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)

	res, err := s.Servers().Get(ctx, []int64{hosts[0].ID})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, int64(3072*mib), res[0].UsedMemory)

	s.ResetCalls()

	_, err = ctrl.Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)
	assert.Zero(t, s.Calls()["servers.save"])
}

func TestHostDelete(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)

	s := memory.New()
	cloud := &models.Cloud{ID: 1}
	cluster := fake.NewCluster()
	cluster.Hosts = []goproxmox.Host{{ExternalID: "pve-1", Name: "pve-1", Status: "online"}}

	ctrl := host.NewController(s)

	_, err := ctrl.Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)

	hosts, err := s.Servers().Find(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 1)

	vm := &models.ComputeServer{CloudID: 1, ServerType: models.ServerTypeVM, ExternalID: "100", ParentServerID: ptr.To(hosts[0].ID)}
	require.NoError(t, s.Servers().Create(ctx, []*models.ComputeServer{vm}))

	cluster.Hosts = nil

	stats, err := ctrl.Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)
	assert.Equal(t, syncer.Stats{Deleted: 1}, stats)

	res, err := s.Servers().Find(ctx)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, vm.ID, res[0].ID)
	assert.Nil(t, res[0].ParentServerID)
}

func TestHostListError(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)

	cluster := fake.NewCluster()
	cluster.ListErr["hosts"] = goproxmox.ErrUnreachable

	_, err := host.NewController(memory.New()).Reconcile(ctx, &models.Cloud{ID: 1}, cluster)
	assert.ErrorIs(t, err, goproxmox.ErrUnreachable)
}
