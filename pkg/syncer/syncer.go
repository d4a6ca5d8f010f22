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

// Package syncer matches local identity projections against remote items and
// drives the add, update and delete handlers of a reconciliation pass.
package syncer

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Match reports whether a local projection and a remote item describe the same resource.
type Match[R any] func(existing models.Projection, remote R) bool

// Update is a remote item paired with the projection it matched.
type Update[R any] struct {
	Existing models.Projection
	Remote   R
}

// Plan is the result of a diff.
type Plan[R any] struct {
	Adds    []R
	Updates []Update[R]
	Deletes []models.Projection
}

// Empty reports whether the plan has nothing to do.
func (p Plan[R]) Empty() bool {
	return len(p.Adds) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

func (p Plan[R]) String() string {
	return fmt.Sprintf("adds=%d updates=%d deletes=%d", len(p.Adds), len(p.Updates), len(p.Deletes))
}

// Diff splits remote items into adds and updates and collects the unmatched projections as deletes.
// Every remote item takes the first projection it matches that no earlier item took.
// Remote duplicates of an already matched projection end up in Adds.
func Diff[R any](existing []models.Projection, remote []R, match Match[R]) Plan[R] {
	plan := Plan[R]{
		Adds:    []R{},
		Updates: []Update[R]{},
		Deletes: []models.Projection{},
	}

	consumed := make([]bool, len(existing))

	for _, r := range remote {
		found := -1

		for i, e := range existing {
			if consumed[i] {
				continue
			}

			if match(e, r) {
				found = i

				break
			}
		}

		if found < 0 {
			plan.Adds = append(plan.Adds, r)

			continue
		}

		consumed[found] = true
		plan.Updates = append(plan.Updates, Update[R]{Existing: existing[found], Remote: r})
	}

	for i, e := range existing {
		if !consumed[i] {
			plan.Deletes = append(plan.Deletes, e)
		}
	}

	return plan
}

// Pair is a hydrated local record with the remote item it matched.
type Pair[R any, L any] struct {
	Local  *L
	Remote R
}

// Loader loads full records by internal id.
type Loader[L any] func(ctx context.Context, ids []int64) ([]*L, error)

// Hydrate loads the local records of all updates with a single Loader call.
// Updates whose record disappeared are logged and skipped.
func Hydrate[R any, L any](ctx context.Context, updates []Update[R], load Loader[L], id func(*L) int64) ([]Pair[R, L], error) {
	if len(updates) == 0 {
		return []Pair[R, L]{}, nil
	}

	ids := make([]int64, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.Existing.ID)
	}

	records, err := load(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate %d records: %w", len(ids), err)
	}

	byID := make(map[int64]*L, len(records))
	for _, rec := range records {
		byID[id(rec)] = rec
	}

	logger := log.FromContext(ctx)
	pairs := make([]Pair[R, L], 0, len(updates))

	for _, u := range updates {
		rec, ok := byID[u.Existing.ID]
		if !ok {
			logger.Info("matched record not found, skipping", "id", u.Existing.ID, "externalID", u.Existing.ExternalID)

			continue
		}

		pairs = append(pairs, Pair[R, L]{Local: rec, Remote: u.Remote})
	}

	return pairs, nil
}

// Handlers are the callbacks of one reconciliation pass.
type Handlers[R any, L any] struct {
	OnAdd    func(ctx context.Context, adds []R) error
	OnUpdate func(ctx context.Context, updates []Pair[R, L]) error
	OnDelete func(ctx context.Context, deletes []models.Projection) error
}

// Stats counts the items handed to each handler.
type Stats struct {
	Added   int
	Updated int
	Deleted int
}

// Apply hydrates the updates of the plan and runs OnAdd, OnUpdate and OnDelete in that order.
// A failing handler does not stop the following ones and nothing is rolled back.
func Apply[R any, L any](ctx context.Context, plan Plan[R], load Loader[L], id func(*L) int64, h Handlers[R, L]) (Stats, error) {
	var (
		stats Stats
		errs  error
	)

	if h.OnAdd != nil && len(plan.Adds) > 0 {
		stats.Added = len(plan.Adds)
		errs = multierr.Append(errs, h.OnAdd(ctx, plan.Adds))
	}

	if h.OnUpdate != nil && len(plan.Updates) > 0 {
		pairs, err := Hydrate(ctx, plan.Updates, load, id)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			stats.Updated = len(pairs)
			errs = multierr.Append(errs, h.OnUpdate(ctx, pairs))
		}
	}

	if h.OnDelete != nil && len(plan.Deletes) > 0 {
		stats.Deleted = len(plan.Deletes)
		errs = multierr.Append(errs, h.OnDelete(ctx, plan.Deletes))
	}

	return stats, errs
}
