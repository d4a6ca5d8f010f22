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

package syncer_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/syncer"

	"k8s.io/klog/v2/ktesting"
)

type remote struct {
	ID   string
	Name string
}

type local struct {
	ID   int64
	Name string
}

func byExternalID(e models.Projection, r remote) bool {
	return e.ExternalID == r.ID
}

func localID(l *local) int64 { return l.ID }

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		existing []models.Projection
		remote   []remote
		adds     []string
		updates  map[string]int64
		deletes  []int64
	}{
		{
			name:    "empty",
			adds:    []string{},
			updates: map[string]int64{},
			deletes: []int64{},
		},
		{
			name:    "all-new",
			remote:  []remote{{ID: "a"}, {ID: "b"}},
			adds:    []string{"a", "b"},
			updates: map[string]int64{},
			deletes: []int64{},
		},
		{
			name:     "all-gone",
			existing: []models.Projection{{ID: 1, ExternalID: "a"}, {ID: 2, ExternalID: "b"}},
			adds:     []string{},
			updates:  map[string]int64{},
			deletes:  []int64{1, 2},
		},
		{
			name:     "mixed",
			existing: []models.Projection{{ID: 1, ExternalID: "a"}, {ID: 2, ExternalID: "b"}},
			remote:   []remote{{ID: "b"}, {ID: "c"}},
			adds:     []string{"c"},
			updates:  map[string]int64{"b": 2},
			deletes:  []int64{1},
		},
		{
			name:     "duplicate-remote",
			existing: []models.Projection{{ID: 1, ExternalID: "a"}},
			remote:   []remote{{ID: "a", Name: "first"}, {ID: "a", Name: "second"}},
			adds:     []string{"a"},
			updates:  map[string]int64{"a": 1},
			deletes:  []int64{},
		},
		{
			name:     "first-match-wins",
			existing: []models.Projection{{ID: 1, ExternalID: "a"}, {ID: 2, ExternalID: "a"}},
			remote:   []remote{{ID: "a"}},
			adds:     []string{},
			updates:  map[string]int64{"a": 1},
			deletes:  []int64{2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := syncer.Diff(tt.existing, tt.remote, byExternalID)

			adds := []string{}
			for _, a := range plan.Adds {
				adds = append(adds, a.ID)
			}

			updates := map[string]int64{}
			for _, u := range plan.Updates {
				updates[u.Remote.ID] = u.Existing.ID
			}

			deletes := []int64{}
			for _, d := range plan.Deletes {
				deletes = append(deletes, d.ID)
			}

			assert.Equal(t, tt.adds, adds)
			assert.Equal(t, tt.updates, updates)
			assert.Equal(t, tt.deletes, deletes)
		})
	}
}

func TestDiffPartition(t *testing.T) {
	t.Parallel()

	rnd := rand.New(rand.NewPCG(1, 2))

	for i := range 200 {
		existing := make([]models.Projection, rnd.IntN(12))
		for j := range existing {
			existing[j] = models.Projection{ID: int64(j + 1), ExternalID: fmt.Sprint(rnd.IntN(8))}
		}

		items := make([]remote, rnd.IntN(12))
		for j := range items {
			items[j] = remote{ID: fmt.Sprint(rnd.IntN(8))}
		}

		plan := syncer.Diff(existing, items, byExternalID)

		assert.Len(t, items, len(plan.Adds)+len(plan.Updates), "iteration %d", i)
		assert.Len(t, existing, len(plan.Updates)+len(plan.Deletes), "iteration %d", i)

		seen := map[int64]int{}
		for _, u := range plan.Updates {
			seen[u.Existing.ID]++
		}

		for _, d := range plan.Deletes {
			seen[d.ID]++

			for _, r := range items {
				if byExternalID(d, r) {
					assert.NotContains(t, plan.Adds, r, "iteration %d", i)
				}
			}
		}

		for _, e := range existing {
			assert.Equal(t, 1, seen[e.ID], "iteration %d projection %d", i, e.ID)
		}
	}
}

func TestHydrate(t *testing.T) {
	t.Parallel()

	_, ctx := ktesting.NewTestContext(t)

	calls := 0
	load := func(_ context.Context, ids []int64) ([]*local, error) {
		calls++

		assert.Equal(t, []int64{1, 2, 3}, ids)

		return []*local{{ID: 3, Name: "c"}, {ID: 1, Name: "a"}}, nil
	}

	updates := []syncer.Update[remote]{
		{Existing: models.Projection{ID: 1}, Remote: remote{ID: "x"}},
		{Existing: models.Projection{ID: 2}, Remote: remote{ID: "y"}},
		{Existing: models.Projection{ID: 3}, Remote: remote{ID: "z"}},
	}

	pairs, err := syncer.Hydrate(ctx, updates, load, localID)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	expected := []syncer.Pair[remote, local]{
		{Local: &local{ID: 1, Name: "a"}, Remote: remote{ID: "x"}},
		{Local: &local{ID: 3, Name: "c"}, Remote: remote{ID: "z"}},
	}
	if diff := cmp.Diff(expected, pairs); diff != "" {
		t.Errorf("unexpected pairs (-want +got):\n%s", diff)
	}

	_, err = syncer.Hydrate(ctx, updates, func(context.Context, []int64) ([]*local, error) {
		return nil, errors.New("db down")
	}, localID)
	assert.ErrorContains(t, err, "db down")
}

func TestApply(t *testing.T) {
	t.Parallel()

	_, ctx := ktesting.NewTestContext(t)

	plan := syncer.Plan[remote]{
		Adds:    []remote{{ID: "new"}},
		Updates: []syncer.Update[remote]{{Existing: models.Projection{ID: 1}, Remote: remote{ID: "a"}}},
		Deletes: []models.Projection{{ID: 2}},
	}

	load := func(_ context.Context, ids []int64) ([]*local, error) {
		out := []*local{}
		for _, id := range ids {
			out = append(out, &local{ID: id})
		}

		return out, nil
	}

	order := []string{}
	stats, err := syncer.Apply(ctx, plan, load, localID, syncer.Handlers[remote, local]{
		OnAdd: func(_ context.Context, adds []remote) error {
			order = append(order, "add")

			return errors.New("add failed")
		},
		OnUpdate: func(_ context.Context, pairs []syncer.Pair[remote, local]) error {
			order = append(order, "update")

			assert.Len(t, pairs, 1)

			return nil
		},
		OnDelete: func(_ context.Context, deletes []models.Projection) error {
			order = append(order, "delete")

			return errors.New("delete failed")
		},
	})

	assert.Equal(t, []string{"add", "update", "delete"}, order)
	assert.Equal(t, syncer.Stats{Added: 1, Updated: 1, Deleted: 1}, stats)
	assert.ErrorContains(t, err, "add failed")
	assert.ErrorContains(t, err, "delete failed")
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := &models.ComputeServer{ID: 1, Name: "pve-1", MaxMemory: 8192}
	before := syncer.Fingerprint(a)

	assert.False(t, syncer.Changed(before, a))

	a.MaxMemory = 16384
	assert.True(t, syncer.Changed(before, a))
}
