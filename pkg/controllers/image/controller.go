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

// Package image reconciles ISO volumes and VM templates in two tiers.
// Image locations are the per-cloud occurrences and are matched first; remote
// images without a location are then matched against the cloud independent images.
package image

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/syncer"

	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const imageStatusActive = "Active"

type Controller struct {
	store store.Store
}

func NewController(s store.Store) *Controller {
	return &Controller{store: s}
}

func (c *Controller) Name() string {
	return "image"
}

// Reconcile executes the image pass for one cloud and purges orphaned images afterwards.
func (c *Controller) Reconcile(ctx context.Context, cloud *models.Cloud, inv goproxmox.Inventory) (syncer.Stats, error) {
	ctx = log.IntoContext(ctx, log.FromContext(ctx).WithName(c.Name()))

	remote, err := inv.ListImages(ctx)
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list images: %w", err)
	}

	remote = lo.Filter(remote, func(r goproxmox.Image, _ int) bool {
		return lo.Contains(models.SyncedImageTypes, r.Format)
	})

	existing, err := c.store.ImageLocations().Projections(ctx, store.Eq("cloud_id", cloud.ID))
	if err != nil {
		return syncer.Stats{}, fmt.Errorf("failed to list image locations: %w", err)
	}

	plan := syncer.Diff(existing, remote, matches)

	log.FromContext(ctx).V(1).Info("Image location plan", "plan", plan.String())

	stats, errs := syncer.Apply(ctx, plan, c.store.ImageLocations().Get, (*models.ImageLocation).GetID, syncer.Handlers[goproxmox.Image, models.ImageLocation]{
		OnAdd: func(ctx context.Context, adds []goproxmox.Image) error {
			return c.addImages(ctx, cloud, adds)
		},
		OnUpdate: func(ctx context.Context, updates []syncer.Pair[goproxmox.Image, models.ImageLocation]) error {
			return c.updateLocations(ctx, cloud, updates)
		},
		OnDelete: func(ctx context.Context, deletes []models.Projection) error {
			locations, err := c.store.ImageLocations().Get(ctx, models.IDs(deletes))
			if err != nil {
				return err
			}

			return c.store.ImageLocations().Remove(ctx, locations)
		},
	})

	return stats, multierr.Append(errs, c.purgeOrphans(ctx, cloud))
}

// matches compares external id, name and disk id.
func matches(e models.Projection, r goproxmox.Image) bool {
	return (r.ExternalID != "" && e.ExternalID == r.ExternalID) ||
		(r.Name != "" && e.Name == r.Name) ||
		(r.DiskID != "" && e.ExternalID == r.DiskID)
}

// addImages matches the remote images without a location against the images visible to this cloud.
func (c *Controller) addImages(ctx context.Context, cloud *models.Cloud, adds []goproxmox.Image) error {
	existing, err := c.store.Images().Projections(ctx,
		store.In("image_type", models.SyncedImageTypes),
		store.Or(store.IsNull("owner_id"), store.Eq("owner_id", cloud.OwnerID)),
	)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	plan := syncer.Diff(existing, adds, matches)

	log.FromContext(ctx).V(1).Info("Image plan", "plan", plan.String())

	_, err = syncer.Apply(ctx, syncer.Plan[goproxmox.Image]{Adds: plan.Adds, Updates: plan.Updates}, c.store.Images().Get, (*models.Image).GetID,
		syncer.Handlers[goproxmox.Image, models.Image]{
			OnAdd: func(ctx context.Context, adds []goproxmox.Image) error {
				images := lo.Map(adds, func(r goproxmox.Image, _ int) *models.Image {
					return newImage(cloud, r)
				})

				// images first, the locations reference them
				if err := c.store.Images().Create(ctx, images); err != nil {
					return fmt.Errorf("failed to create images: %w", err)
				}

				locations := make([]*models.ImageLocation, 0, len(adds))
				for i, r := range adds {
					locations = append(locations, newLocation(cloud, images[i], r))
				}

				return c.store.ImageLocations().Create(ctx, locations)
			},
			OnUpdate: func(ctx context.Context, pairs []syncer.Pair[goproxmox.Image, models.Image]) error {
				locations := lo.Map(pairs, func(p syncer.Pair[goproxmox.Image, models.Image], _ int) *models.ImageLocation {
					return newLocation(cloud, p.Local, p.Remote)
				})

				return c.store.ImageLocations().Create(ctx, locations)
			},
		})

	return err
}

func (c *Controller) updateLocations(ctx context.Context, cloud *models.Cloud, updates []syncer.Pair[goproxmox.Image, models.ImageLocation]) error {
	renamed := lo.FilterMap(updates, func(u syncer.Pair[goproxmox.Image, models.ImageLocation], _ int) (int64, bool) {
		return u.Local.ImageID, u.Remote.Name != u.Local.ImageName
	})
	renamed = lo.Uniq(renamed)

	var (
		images    map[int64]*models.Image
		locations map[int64]int
	)

	if len(renamed) > 0 {
		recs, err := c.store.Images().Get(ctx, renamed)
		if err != nil {
			return fmt.Errorf("failed to load images: %w", err)
		}

		images = lo.KeyBy(recs, (*models.Image).GetID)

		known, err := c.store.ImageLocations().Projections(ctx, store.In("image_id", renamed))
		if err != nil {
			return fmt.Errorf("failed to count image locations: %w", err)
		}

		locations = lo.CountValuesBy(known, func(p models.Projection) int64 { return p.RefID })
	}

	saveLocations := []*models.ImageLocation{}
	saveImages := map[int64]*models.Image{}

	for _, u := range updates {
		loc, r := u.Local, u.Remote
		before := syncer.Fingerprint(loc)

		if r.Name != loc.ImageName {
			loc.ImageName = r.Name

			// a shared image keeps the name it was given
			if img, ok := images[loc.ImageID]; ok && locations[loc.ImageID] < 2 && img.Name != r.Name {
				img.Name = r.Name
				saveImages[img.ID] = img
			}
		}

		if r.DiskID != "" && r.DiskID != loc.ExternalID {
			loc.ExternalID = r.DiskID
		}

		loc.ImageRegion = cloud.RegionCode

		if syncer.Changed(before, loc) {
			saveLocations = append(saveLocations, loc)
		}
	}

	return multierr.Append(
		c.store.ImageLocations().Save(ctx, saveLocations),
		c.store.Images().Save(ctx, lo.Values(saveImages)),
	)
}

// purgeOrphans removes the discovered images of this cloud that have no location left.
func (c *Controller) purgeOrphans(ctx context.Context, cloud *models.Cloud) error {
	candidates, err := c.store.Images().Find(ctx,
		store.Eq("category", cloud.ImageCategory()),
		store.Eq("user_uploaded", false),
		store.Eq("system_image", false),
		store.Or(store.IsNull("owner_id"), store.Eq("owner_id", cloud.OwnerID)),
	)
	if err != nil {
		return fmt.Errorf("failed to list image candidates: %w", err)
	}

	if len(candidates) == 0 {
		return nil
	}

	ids := lo.Map(candidates, func(i *models.Image, _ int) int64 { return i.ID })

	locations, err := c.store.ImageLocations().Projections(ctx, store.In("image_id", ids))
	if err != nil {
		return fmt.Errorf("failed to list image locations: %w", err)
	}

	used := lo.SliceToMap(locations, func(p models.Projection) (int64, bool) { return p.RefID, true })

	orphans := lo.Filter(candidates, func(i *models.Image, _ int) bool { return !used[i.ID] })
	if len(orphans) == 0 {
		return nil
	}

	log.FromContext(ctx).V(1).Info("Purging orphaned images", "count", len(orphans))

	return c.store.Images().Remove(ctx, orphans)
}

func newImage(cloud *models.Cloud, r goproxmox.Image) *models.Image {
	img := &models.Image{
		ExternalID:  diskID(r),
		Name:        r.Name,
		Code:        cloud.Category("image") + "." + diskID(r),
		Category:    cloud.ImageCategory(),
		ImageType:   r.Format,
		ImageRegion: cloud.RegionCode,
		MinDisk:     r.SizeBytes,
		Status:      imageStatusActive,
	}

	if cloud.OwnerID != 0 {
		img.OwnerID = ptr.To(cloud.OwnerID)
	}

	return img
}

func newLocation(cloud *models.Cloud, img *models.Image, r goproxmox.Image) *models.ImageLocation {
	return &models.ImageLocation{
		ImageID:     img.ID,
		CloudID:     cloud.ID,
		Code:        cloud.Category("image") + "." + diskID(r),
		ExternalID:  diskID(r),
		ImageName:   r.Name,
		ImageRegion: cloud.RegionCode,
	}
}

func diskID(r goproxmox.Image) string {
	if r.DiskID != "" {
		return r.DiskID
	}

	return r.ExternalID
}
