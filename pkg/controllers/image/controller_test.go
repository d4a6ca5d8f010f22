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

package image_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/controllers/image"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store/memory"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/syncer"
	"github.com/sergelogvinov/proxmox-inventory-sync/test/fake"

	"k8s.io/klog/v2/ktesting"
	"k8s.io/utils/ptr"
)

func setup(t *testing.T) (context.Context, *memory.Store, *models.Cloud, *fake.Cluster) {
	t.Helper()

	_, ctx := ktesting.NewTestContext(t)

	s := memory.New()
	cloud := &models.Cloud{Name: "lab", TypeCode: models.CloudTypeProxmox, OwnerID: 5, RegionCode: "r1"}
	require.NoError(t, s.Clouds().Create(ctx, []*models.Cloud{cloud}))

	return ctx, s, cloud, fake.NewCluster()
}

func TestNewImage(t *testing.T) {
	ctx, s, cloud, cluster := setup(t)
	cluster.Images = []goproxmox.Image{{ExternalID: "a", Name: "ubuntu", DiskID: "d1", Format: models.ImageTypeQCOW2}}

	stats, err := image.NewController(s).Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)
	assert.Equal(t, syncer.Stats{Added: 1}, stats)

	images, err := s.Images().Find(ctx)
	require.NoError(t, err)
	require.Len(t, images, 1)

	locations, err := s.ImageLocations().Find(ctx)
	require.NoError(t, err)
	require.Len(t, locations, 1)

	assert.Equal(t, "d1", images[0].ExternalID)
	assert.Equal(t, "ubuntu", images[0].Name)
	assert.Equal(t, cloud.ImageCategory(), images[0].Category)
	assert.Equal(t, ptr.To(cloud.OwnerID), images[0].OwnerID)

	assert.Equal(t, "d1", locations[0].ExternalID)
	assert.Equal(t, "ubuntu", locations[0].ImageName)
	assert.Equal(t, images[0].ID, locations[0].ImageID)
	assert.Equal(t, cloud.ID, locations[0].CloudID)
	assert.Equal(t, "r1", locations[0].ImageRegion)
}

func TestIdempotent(t *testing.T) {
	ctx, s, cloud, cluster := setup(t)
	cluster.Images = []goproxmox.Image{
		{ExternalID: "local:iso/debian.iso", Name: "debian.iso", DiskID: "local:iso/debian.iso", Format: models.ImageTypeISO},
		{ExternalID: "9000", Name: "ubuntu", DiskID: "local-lvm:base-9000-disk-0", Format: models.ImageTypeDisk},
		{ExternalID: "local:iso/tool.img", Name: "tool.img", Format: "vmdk"},
	}

	ctrl := image.NewController(s)

	_, err := ctrl.Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)

	s.ResetCalls()

	stats, err := ctrl.Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)
	assert.Equal(t, syncer.Stats{Updated: 2}, stats)

	calls := s.Calls()
	for _, op := range []string{"images.create", "images.save", "images.remove", "imageLocations.create", "imageLocations.save", "imageLocations.remove"} {
		assert.Zero(t, calls[op], op)
	}

	images, err := s.Images().Find(ctx)
	require.NoError(t, err)
	assert.Len(t, images, 2)
}

func TestExistingImageFromOtherCloud(t *testing.T) {
	ctx, s, cloud, cluster := setup(t)

	shared := &models.Image{ExternalID: "d1", Name: "ubuntu-22.04", ImageType: models.ImageTypeQCOW2, Category: "proxmox.image.99"}
	foreign := &models.Image{ExternalID: "d2", Name: "debian", ImageType: models.ImageTypeQCOW2, OwnerID: ptr.To[int64](77)}
	require.NoError(t, s.Images().Create(ctx, []*models.Image{shared, foreign}))
	require.NoError(t, s.ImageLocations().Create(ctx, []*models.ImageLocation{{ImageID: shared.ID, CloudID: 99, ExternalID: "d1", ImageName: "ubuntu-22.04"}}))

	cluster.Images = []goproxmox.Image{
		{ExternalID: "9000", Name: "ubuntu", DiskID: "d1", Format: models.ImageTypeQCOW2},
		{ExternalID: "9001", Name: "debian", DiskID: "d2", Format: models.ImageTypeQCOW2},
	}

	_, err := image.NewController(s).Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)

	images, err := s.Images().Find(ctx)
	require.NoError(t, err)
	require.Len(t, images, 3, "an image owned by someone else is not reused")

	locations, err := s.ImageLocations().Find(ctx, store.Eq("cloud_id", cloud.ID))
	require.NoError(t, err)
	require.Len(t, locations, 2)

	byName := map[string]*models.ImageLocation{}
	for _, l := range locations {
		byName[l.ImageName] = l
	}

	require.Contains(t, byName, "ubuntu")
	require.Contains(t, byName, "debian")
	assert.Equal(t, shared.ID, byName["ubuntu"].ImageID, "the location links the existing image")
	assert.Equal(t, images[2].ID, byName["debian"].ImageID)
}

func TestLocationUpdate(t *testing.T) {
	tests := []struct {
		name         string
		otherClouds  int
		remote       goproxmox.Image
		expLocation  models.ImageLocation
		expImageName string
	}{
		{
			name:         "rename-single-location",
			remote:       goproxmox.Image{ExternalID: "9000", Name: "ubuntu-24.04", DiskID: "d1", Format: models.ImageTypeDisk},
			expLocation:  models.ImageLocation{ExternalID: "d1", ImageName: "ubuntu-24.04", ImageRegion: "r1"},
			expImageName: "ubuntu-24.04",
		},
		{
			name:         "rename-shared-image",
			otherClouds:  1,
			remote:       goproxmox.Image{ExternalID: "9000", Name: "ubuntu-24.04", DiskID: "d1", Format: models.ImageTypeDisk},
			expLocation:  models.ImageLocation{ExternalID: "d1", ImageName: "ubuntu-24.04", ImageRegion: "r1"},
			expImageName: "ubuntu",
		},
		{
			name:         "disk-moved",
			remote:       goproxmox.Image{ExternalID: "9000", Name: "ubuntu", DiskID: "d1-new", Format: models.ImageTypeDisk},
			expLocation:  models.ImageLocation{ExternalID: "d1-new", ImageName: "ubuntu", ImageRegion: "r1"},
			expImageName: "ubuntu",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, s, cloud, cluster := setup(t)

			img := &models.Image{ExternalID: "d1", Name: "ubuntu", ImageType: models.ImageTypeDisk, Category: cloud.ImageCategory()}
			require.NoError(t, s.Images().Create(ctx, []*models.Image{img}))

			locations := []*models.ImageLocation{{ImageID: img.ID, CloudID: cloud.ID, ExternalID: "d1", ImageName: "ubuntu", ImageRegion: "old"}}
			for i := range tt.otherClouds {
				locations = append(locations, &models.ImageLocation{ImageID: img.ID, CloudID: int64(100 + i), ExternalID: "d1", ImageName: "ubuntu"})
			}

			require.NoError(t, s.ImageLocations().Create(ctx, locations))

			cluster.Images = []goproxmox.Image{tt.remote}

			stats, err := image.NewController(s).Reconcile(ctx, cloud, cluster)
			require.NoError(t, err)
			assert.Equal(t, syncer.Stats{Updated: 1}, stats)

			got, err := s.ImageLocations().Get(ctx, []int64{locations[0].ID})
			require.NoError(t, err)
			require.Len(t, got, 1)

			assert.Equal(t, tt.expLocation.ExternalID, got[0].ExternalID)
			assert.Equal(t, tt.expLocation.ImageName, got[0].ImageName)
			assert.Equal(t, tt.expLocation.ImageRegion, got[0].ImageRegion)

			images, err := s.Images().Get(ctx, []int64{img.ID})
			require.NoError(t, err)
			require.Len(t, images, 1)
			assert.Equal(t, tt.expImageName, images[0].Name)
		})
	}
}

func TestOrphanPurge(t *testing.T) {
	ctx, s, cloud, cluster := setup(t)

	ctrl := image.NewController(s)

	cluster.Images = []goproxmox.Image{
		{ExternalID: "a", Name: "ubuntu", DiskID: "d1", Format: models.ImageTypeQCOW2},
		{ExternalID: "b", Name: "debian", DiskID: "d2", Format: models.ImageTypeQCOW2},
	}

	_, err := ctrl.Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)

	uploaded := &models.Image{ExternalID: "u1", Name: "uploaded", Category: cloud.ImageCategory(), UserUploaded: true}
	system := &models.Image{ExternalID: "s1", Name: "system", Category: cloud.ImageCategory(), SystemImage: true}
	foreign := &models.Image{ExternalID: "f1", Name: "foreign", Category: cloud.ImageCategory(), OwnerID: ptr.To[int64](77)}
	require.NoError(t, s.Images().Create(ctx, []*models.Image{uploaded, system, foreign}))

	cluster.Images = cluster.Images[:1]

	stats, err := ctrl.Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)
	assert.Equal(t, syncer.Stats{Updated: 1, Deleted: 1}, stats)

	images, err := s.Images().Find(ctx)
	require.NoError(t, err)

	names := []string{}
	for _, img := range images {
		names = append(names, img.Name)
	}

	assert.ElementsMatch(t, []string{"ubuntu", "uploaded", "system", "foreign"}, names)

	locations, err := s.ImageLocations().Find(ctx)
	require.NoError(t, err)
	require.Len(t, locations, 1)

	// every purgeable image of the cloud keeps at least one location
	for _, img := range images {
		if img.UserUploaded || img.SystemImage || img.OwnerID != nil && *img.OwnerID != cloud.OwnerID {
			continue
		}

		locs, err := s.ImageLocations().Find(ctx, store.Eq("image_id", img.ID))
		require.NoError(t, err)
		assert.NotEmpty(t, locs, img.Name)
	}
}

func TestListErrorKeepsImages(t *testing.T) {
	ctx, s, cloud, cluster := setup(t)

	ctrl := image.NewController(s)

	cluster.Images = []goproxmox.Image{{ExternalID: "9000", Name: "ubuntu", DiskID: "local-lvm:base-9000-disk-0", Format: models.ImageTypeDisk}}

	_, err := ctrl.Reconcile(ctx, cloud, cluster)
	require.NoError(t, err)

	s.ResetCalls()

	cluster.ListErr["images"] = goproxmox.ErrUnreachable

	stats, err := ctrl.Reconcile(ctx, cloud, cluster)
	require.ErrorIs(t, err, goproxmox.ErrUnreachable)
	assert.Equal(t, syncer.Stats{}, stats)

	calls := s.Calls()
	assert.Zero(t, calls["images.remove"])
	assert.Zero(t, calls["imageLocations.remove"])

	images, err := s.Images().Find(ctx)
	require.NoError(t, err)
	assert.Len(t, images, 1)
}
