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
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/operator"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	pxpool "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmoxpool"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store/memory"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/utils/reconciler"
	"github.com/sergelogvinov/proxmox-inventory-sync/test/fake"

	"k8s.io/klog/v2/ktesting"
)

func TestRegisterClouds(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)

	s := memory.New()
	require.NoError(t, s.Clouds().Create(ctx, []*models.Cloud{
		{Name: "lab", TypeCode: models.CloudTypeProxmox, APIURL: "https://old:8006", Enabled: true},
		{Name: "gone", TypeCode: models.CloudTypeProxmox, Enabled: true},
	}))

	clouds, err := operator.RegisterClouds(ctx, s, []*pxpool.ProxmoxCluster{
		{Name: "lab", URL: "https://new:8006", AccountID: 4},
		{Name: "prod", URL: "https://prod:8006", OwnerID: 2},
		{Name: "test", URL: "https://test:8006", Disabled: true},
	})
	require.NoError(t, err)

	names := []string{}
	for _, c := range clouds {
		names = append(names, c.Name)
	}

	assert.Equal(t, []string{"lab", "prod"}, names)
	assert.Equal(t, "https://new:8006", clouds[0].APIURL)
	assert.Equal(t, int64(4), clouds[0].AccountID)
	assert.Equal(t, int64(2), clouds[1].OwnerID)
	assert.Equal(t, models.CloudTypeProxmox, clouds[1].TypeCode)

	all, err := s.Clouds().Find(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	s.ResetCalls()

	_, err = operator.RegisterClouds(ctx, s, []*pxpool.ProxmoxCluster{
		{Name: "lab", URL: "https://new:8006", AccountID: 4},
		{Name: "prod", URL: "https://prod:8006", OwnerID: 2},
		{Name: "test", URL: "https://test:8006", Disabled: true},
	})
	require.NoError(t, err)
	assert.Zero(t, s.Calls()["clouds.save"])
	assert.Zero(t, s.Calls()["clouds.create"])
}

type sender struct {
	mu      sync.Mutex
	retried []reconciler.Event
}

func (s *sender) SendEvent(reconciler.Event) {}

func (s *sender) RetryEvent(event reconciler.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retried = append(s.retried, event)
}

func writeConfig(t *testing.T, path string, names ...string) {
	t.Helper()

	data := "clusters:\n"
	for _, name := range names {
		data += "  - name: " + name + "\n    url: https://" + name + ":8006/api2/json\n    token_id: root@pam!sync\n    token_secret: secret\n"
	}

	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
}

func TestOperatorReconcile(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "lab")

	offline := fake.NewCluster()
	offline.VerifyErr = goproxmox.ErrUnreachable

	clusters := map[string]goproxmox.Cluster{"lab": inventory(), "prod": offline}
	newPool := func(cfg []*pxpool.ProxmoxCluster) (*pxpool.ProxmoxPool, error) {
		clients := map[string]goproxmox.Cluster{}
		for _, c := range cfg {
			clients[c.Name] = clusters[c.Name]
		}

		return pxpool.NewProxmoxPoolFromClients(clients), nil
	}

	s := memory.New()
	o := operator.NewOperatorWithStore(s, path, 2, newPool)
	require.NoError(t, o.Reload(ctx))
	assert.Equal(t, []string{"lab"}, o.Pool().GetClusters())

	snd := &sender{}

	require.NoError(t, o.Reconcile(ctx, snd, reconciler.Event{Type: reconciler.TimerEvent, Key: "sync"}))
	assert.Empty(t, snd.retried)

	writeConfig(t, path, "lab", "prod")

	require.NoError(t, o.Reconcile(ctx, snd, reconciler.Event{Type: reconciler.FileEvent, Key: path}))
	assert.Equal(t, []string{"lab", "prod"}, o.Pool().GetClusters())
	assert.Equal(t, []reconciler.Event{{Type: reconciler.CloudEvent, Key: "prod"}}, snd.retried)

	assert.ErrorIs(t, o.Reconcile(ctx, snd, reconciler.Event{Type: reconciler.CloudEvent, Key: "prod"}), goproxmox.ErrUnreachable)
	assert.NoError(t, o.Reconcile(ctx, snd, reconciler.Event{Type: reconciler.CloudEvent, Key: "removed"}))
}

func TestReloadAllDisabled(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "lab")

	cluster := inventory()
	newPool := func(cfg []*pxpool.ProxmoxCluster) (*pxpool.ProxmoxPool, error) {
		if len(cfg) == 0 {
			return nil, pxpool.ErrClustersNotFound
		}

		return pxpool.NewProxmoxPoolFromClients(map[string]goproxmox.Cluster{"lab": cluster}), nil
	}

	s := memory.New()
	o := operator.NewOperatorWithStore(s, path, 2, newPool)
	require.NoError(t, o.Reload(ctx))
	assert.Equal(t, []string{"lab"}, o.Pool().GetClusters())

	require.NoError(t, os.WriteFile(path, []byte("clusters:\n  - name: lab\n    url: https://lab:8006/api2/json\n    token_id: root@pam!sync\n    token_secret: secret\n    disabled: true\n"), 0o600))

	require.NoError(t, o.Reload(ctx))
	assert.Empty(t, o.Pool().GetClusters())

	enabled, err := operator.EnabledClouds(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	snd := &sender{}
	require.NoError(t, o.Reconcile(ctx, snd, reconciler.Event{Type: reconciler.TimerEvent, Key: "sync"}))
	assert.Empty(t, snd.retried)
	assert.Zero(t, cluster.Calls("verify"))
}
