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

package operator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/operator"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	pxpool "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmoxpool"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store/memory"
	"github.com/sergelogvinov/proxmox-inventory-sync/test/fake"

	"k8s.io/klog/v2/ktesting"
	clocktesting "k8s.io/utils/clock/testing"
)

const apiURL = "https://pve.example.com:8006/api2/json"

var now = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T, clusters map[string]goproxmox.Cluster) (context.Context, *memory.Store, *operator.Refresher) {
	t.Helper()

	_, ctx := ktesting.NewTestContext(t)

	s := memory.New()

	for name := range clusters {
		require.NoError(t, s.Clouds().Create(ctx, []*models.Cloud{
			{Name: name, TypeCode: models.CloudTypeProxmox, APIURL: apiURL, AccountID: 1, Enabled: true},
		}))
	}

	clk := clocktesting.NewFakeClock(now)
	r := operator.NewRefresher(s, pxpool.NewProxmoxPoolFromClients(clusters), clk, 2)

	return ctx, s, r
}

func cloud(ctx context.Context, t *testing.T, s store.Store, name string) *models.Cloud {
	t.Helper()

	clouds, err := s.Clouds().Find(ctx, store.Eq("name", name))
	require.NoError(t, err)
	require.Len(t, clouds, 1)

	return clouds[0]
}

func inventory() *fake.Cluster {
	c := fake.NewCluster()
	c.Hosts = []goproxmox.Host{{ExternalID: "pve-1", Name: "pve-1", Status: "online", Cores: 8, MemoryCapacityMiB: 16384}}
	c.VirtualMachines = []goproxmox.VirtualMachine{{ExternalID: "100", VMID: 100, Name: "web", Node: "pve-1", Status: "running"}}
	c.Snapshots = []goproxmox.Snapshot{{ExternalID: "100/daily", Name: "daily", VMID: "100"}}
	c.Networks = []goproxmox.Network{{ExternalID: "vmbr0", Name: "vmbr0"}}

	return c
}

func TestRefresh(t *testing.T) {
	cluster := inventory()
	ctx, s, r := setup(t, map[string]goproxmox.Cluster{"lab": cluster})

	lab := cloud(ctx, t, s, "lab")
	require.NoError(t, s.Alarms().Create(ctx, []*models.Alarm{{CloudID: lab.ID, Code: operator.AlarmCodeOffline, Active: true}}))

	require.NoError(t, r.Refresh(ctx, "lab"))

	lab = cloud(ctx, t, s, "lab")
	assert.Equal(t, models.CloudStatusOK, lab.Status)
	assert.Empty(t, lab.StatusMessage)
	assert.Equal(t, operator.RegionCode(apiURL), lab.RegionCode)
	require.NotNil(t, lab.LastSync)
	assert.True(t, now.Equal(*lab.LastSync))

	servers, err := s.Servers().Find(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, models.ServerTypeHypervisor, servers[0].ServerType)
	require.NotNil(t, servers[1].ParentServerID, "the guest links to the host synced before it")
	assert.Equal(t, servers[0].ID, *servers[1].ParentServerID)

	snaps, err := s.Snapshots().Find(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, servers[1].ID, *snaps[0].ServerID)

	alarms, err := s.Alarms().Find(ctx, store.Eq("active", true))
	require.NoError(t, err)
	assert.Empty(t, alarms)
}

func TestRefreshOffline(t *testing.T) {
	for _, tc := range []struct {
		msg     string
		err     error
		expCode string
	}{
		{
			msg:     "unreachable",
			err:     goproxmox.ErrUnreachable,
			expCode: operator.AlarmCodeOffline,
		},
		{
			msg:     "credentials",
			err:     goproxmox.ErrInvalidCredentials,
			expCode: operator.AlarmCodeCredentials,
		},
	} {
		t.Run(tc.msg, func(t *testing.T) {
			t.Parallel()

			cluster := inventory()
			cluster.VerifyErr = tc.err

			ctx, s, r := setup(t, map[string]goproxmox.Cluster{"lab": cluster})

			err := r.Refresh(ctx, "lab")
			assert.ErrorIs(t, err, tc.err)

			lab := cloud(ctx, t, s, "lab")
			assert.Equal(t, models.CloudStatusOffline, lab.Status)

			alarms, err := s.Alarms().Find(ctx, store.Eq("active", true))
			require.NoError(t, err)
			require.Len(t, alarms, 1)
			assert.Equal(t, tc.expCode, alarms[0].Code)
			assert.Equal(t, lab.StatusMessage, alarms[0].Message)

			assert.Zero(t, cluster.Calls("hosts"), "no pass runs on an offline cloud")

			// a second failure keeps a single alarm
			require.Error(t, r.Refresh(ctx, "lab"))

			alarms, err = s.Alarms().Find(ctx)
			require.NoError(t, err)
			assert.Len(t, alarms, 1)
		})
	}
}

func TestRefreshPassError(t *testing.T) {
	cluster := inventory()
	cluster.ListErr["networks"] = goproxmox.ErrUnreachable

	ctx, s, r := setup(t, map[string]goproxmox.Cluster{"lab": cluster})

	require.NoError(t, r.Refresh(ctx, "lab"))

	lab := cloud(ctx, t, s, "lab")
	assert.Equal(t, models.CloudStatusOK, lab.Status)
	assert.Equal(t, "1 of 6 passes failed", lab.StatusMessage)

	servers, err := s.Servers().Find(ctx)
	require.NoError(t, err)
	assert.Len(t, servers, 2, "sibling passes still run")
}

func TestRefreshRegionRewrite(t *testing.T) {
	ctx, s, r := setup(t, map[string]goproxmox.Cluster{"lab": fake.NewCluster()})

	lab := cloud(ctx, t, s, "lab")
	lab.RegionCode = "old"
	require.NoError(t, s.Clouds().Save(ctx, []*models.Cloud{lab}))

	require.NoError(t, s.ServicePlans().Create(ctx, []*models.ServicePlan{
		{Code: "small", RegionCode: "old"},
		{Code: "large", RegionCode: "other"},
	}))

	require.NoError(t, r.Refresh(ctx, "lab"))

	plans, err := s.ServicePlans().Find(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, operator.RegionCode(apiURL), plans[0].RegionCode)
	assert.Equal(t, "other", plans[1].RegionCode)
}

type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
	cluster goproxmox.Cluster
}

func (p *blockingProvider) GetProxmoxCluster(_ string) (goproxmox.Cluster, error) {
	close(p.entered)
	<-p.release

	return p.cluster, nil
}

func TestRefreshInProgress(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)

	s := memory.New()
	require.NoError(t, s.Clouds().Create(ctx, []*models.Cloud{{Name: "lab", TypeCode: models.CloudTypeProxmox, Enabled: true}}))

	p := &blockingProvider{entered: make(chan struct{}), release: make(chan struct{}), cluster: fake.NewCluster()}
	r := operator.NewRefresher(s, p, clocktesting.NewFakeClock(now), 1)

	done := make(chan error)

	go func() {
		done <- r.Refresh(ctx, "lab")
	}()

	<-p.entered
	assert.ErrorIs(t, r.Refresh(ctx, "lab"), operator.ErrRefreshInProgress)

	close(p.release)
	require.NoError(t, <-done)
}

func TestRefreshNotFound(t *testing.T) {
	ctx, _, r := setup(t, map[string]goproxmox.Cluster{"lab": fake.NewCluster()})

	assert.ErrorIs(t, r.Refresh(ctx, "missing"), operator.ErrCloudNotFound)
}

func TestRefreshAll(t *testing.T) {
	offline := fake.NewCluster()
	offline.VerifyErr = goproxmox.ErrUnreachable

	ctx, s, r := setup(t, map[string]goproxmox.Cluster{"a": inventory(), "b": offline, "c": fake.NewCluster()})

	err := r.RefreshAll(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"b"}, operator.FailedClouds(err))

	assert.Equal(t, models.CloudStatusOK, cloud(ctx, t, s, "a").Status)
	assert.Equal(t, models.CloudStatusOffline, cloud(ctx, t, s, "b").Status)
	assert.Equal(t, models.CloudStatusOK, cloud(ctx, t, s, "c").Status)
}

func TestRegionCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, operator.RegionCode(apiURL), operator.RegionCode(" "+apiURL+"/"))
	assert.NotEqual(t, operator.RegionCode(apiURL), operator.RegionCode("https://other:8006/api2/json"))
	assert.Len(t, operator.RegionCode(apiURL), 64)
}

func TestRefreshMissingClient(t *testing.T) {
	ctx, s, r := setup(t, map[string]goproxmox.Cluster{"lab": fake.NewCluster()})

	require.NoError(t, s.Clouds().Create(ctx, []*models.Cloud{
		{Name: "orphan", TypeCode: models.CloudTypeProxmox, APIURL: apiURL, Enabled: true},
	}))

	err := r.Refresh(ctx, "orphan")
	require.ErrorIs(t, err, pxpool.ErrClusterNotFound)

	orphan := cloud(ctx, t, s, "orphan")
	assert.Equal(t, models.CloudStatusOffline, orphan.Status)
	assert.NotEmpty(t, orphan.StatusMessage)

	alarms, err := s.Alarms().Find(ctx, store.Eq("cloud_id", orphan.ID), store.Eq("active", true))
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, operator.AlarmCodeOffline, alarms[0].Code)
}

func TestRegisterCloudsWaitsForRefresh(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)

	s := memory.New()
	require.NoError(t, s.Clouds().Create(ctx, []*models.Cloud{
		{Name: "lab", TypeCode: models.CloudTypeProxmox, APIURL: apiURL, AccountID: 1, Enabled: true},
	}))

	p := &blockingProvider{entered: make(chan struct{}), release: make(chan struct{}), cluster: inventory()}
	r := operator.NewRefresher(s, p, clocktesting.NewFakeClock(now), 1)

	refreshed := make(chan error)

	go func() {
		refreshed <- r.Refresh(ctx, "lab")
	}()

	<-p.entered

	registered := make(chan error)

	go func() {
		_, err := r.RegisterClouds(ctx, []*pxpool.ProxmoxCluster{{Name: "lab", URL: "https://moved:8006/api2/json", AccountID: 7}})
		registered <- err
	}()

	select {
	case <-registered:
		t.Fatal("clouds registered while the cloud is refreshing")
	case <-time.After(200 * time.Millisecond):
	}

	close(p.release)
	require.NoError(t, <-refreshed)
	require.NoError(t, <-registered)

	lab := cloud(ctx, t, s, "lab")
	assert.Equal(t, "https://moved:8006/api2/json", lab.APIURL)
	assert.Equal(t, int64(7), lab.AccountID)
	assert.True(t, lab.Enabled)
	assert.Equal(t, models.CloudStatusOK, lab.Status)
}
