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

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store/memory"
)

func TestRewriteRegionCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.ImageLocations().Create(ctx, []*models.ImageLocation{
		{CloudID: 1, ExternalID: "d1", ImageRegion: "old"},
		{CloudID: 2, ExternalID: "d2", ImageRegion: "other"},
	}))
	require.NoError(t, s.Images().Create(ctx, []*models.Image{{ExternalID: "d1", ImageRegion: "old"}}))
	require.NoError(t, s.ServicePlans().Create(ctx, []*models.ServicePlan{{Code: "small", RegionCode: "old"}}))

	n, err := store.RewriteRegionCode(ctx, s, "old", "new")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	locations, err := s.ImageLocations().Find(ctx, store.Eq("image_region", "new"))
	require.NoError(t, err)
	assert.Len(t, locations, 1)

	untouched, err := s.ImageLocations().Find(ctx, store.Eq("image_region", "other"))
	require.NoError(t, err)
	assert.Len(t, untouched, 1)

	plans, err := s.ServicePlans().Find(ctx, store.Eq("region_code", "new"))
	require.NoError(t, err)
	assert.Len(t, plans, 1)

	n, err = store.RewriteRegionCode(ctx, s, "", "new")
	require.NoError(t, err)
	assert.Zero(t, n)
}
