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

package store

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
)

// RewriteRegionCode moves every region-tagged record from one region code to another.
// It returns the number of rewritten records.
func RewriteRegionCode(ctx context.Context, s Store, from, to string) (int, error) {
	if from == "" || from == to {
		return 0, nil
	}

	var (
		total int
		errs  error
	)

	locations, err := s.ImageLocations().Find(ctx, Eq("image_region", from))
	if err != nil {
		return 0, fmt.Errorf("failed to list image locations in region %s: %w", from, err)
	}

	lo.ForEach(locations, func(l *models.ImageLocation, _ int) { l.ImageRegion = to })
	errs = multierr.Append(errs, s.ImageLocations().Save(ctx, locations))
	total += len(locations)

	images, err := s.Images().Find(ctx, Eq("image_region", from))
	if err != nil {
		return total, multierr.Append(errs, fmt.Errorf("failed to list images in region %s: %w", from, err))
	}

	lo.ForEach(images, func(i *models.Image, _ int) { i.ImageRegion = to })
	errs = multierr.Append(errs, s.Images().Save(ctx, images))
	total += len(images)

	plans, err := s.ServicePlans().Find(ctx, Eq("region_code", from))
	if err != nil {
		return total, multierr.Append(errs, fmt.Errorf("failed to list service plans in region %s: %w", from, err))
	}

	lo.ForEach(plans, func(p *models.ServicePlan, _ int) { p.RegionCode = to })
	errs = multierr.Append(errs, s.ServicePlans().Save(ctx, plans))
	total += len(plans)

	return total, errs
}
