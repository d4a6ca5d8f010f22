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

package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"gorm.io/gorm/schema"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
)

type table[T any] struct {
	mu      sync.RWMutex
	seq     int64
	rows    map[int64]*T
	columns map[string]int
	ops     map[string]int
}

func newTable[T any]() *table[T] {
	naming := schema.NamingStrategy{}
	columns := map[string]int{}

	typ := reflect.TypeFor[T]()
	for i := range typ.NumField() {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}

		columns[naming.ColumnName("", f.Name)] = i
	}

	return &table[T]{
		rows:    map[int64]*T{},
		columns: columns,
		ops:     map[string]int{},
	}
}

func (t *table[T]) Find(_ context.Context, conds ...store.Cond) ([]*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ops["find"]++

	return t.find(conds), nil
}

func (t *table[T]) Get(_ context.Context, ids []int64) ([]*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ops["get"]++

	return t.find([]store.Cond{store.In("id", ids)}), nil
}

func (t *table[T]) Projections(_ context.Context, conds ...store.Cond) ([]models.Projection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ops["projections"]++

	rows := t.find(conds)
	out := make([]models.Projection, 0, len(rows))

	for _, row := range rows {
		rec, ok := any(row).(models.Record)
		if !ok {
			return nil, fmt.Errorf("%T has no projection", row)
		}

		out = append(out, rec.Project())
	}

	return out, nil
}

func (t *table[T]) Create(_ context.Context, records []*T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	t.ops["create"]++

	for _, rec := range records {
		t.seq++
		setID(rec, t.seq)
		t.rows[t.seq] = deepCopy(rec)
	}

	return nil
}

func (t *table[T]) Save(_ context.Context, records []*T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	t.ops["save"]++

	for _, rec := range records {
		id := getID(rec)
		if _, ok := t.rows[id]; !ok {
			return fmt.Errorf("record %T with id %d not found", rec, id)
		}

		t.rows[id] = deepCopy(rec)
	}

	return nil
}

func (t *table[T]) Remove(_ context.Context, records []*T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	t.ops["remove"]++

	for _, rec := range records {
		delete(t.rows, getID(rec))
	}

	return nil
}

func (t *table[T]) find(conds []store.Cond) []*T {
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := []*T{}

	for _, id := range ids {
		row := reflect.ValueOf(t.rows[id]).Elem()
		lookup := func(column string) (reflect.Value, bool) {
			i, ok := t.columns[column]
			if !ok {
				return reflect.Value{}, false
			}

			return row.Field(i), true
		}

		matched := true

		for _, c := range conds {
			if !c.Match(lookup) {
				matched = false

				break
			}
		}

		if matched {
			out = append(out, deepCopy(t.rows[id]))
		}
	}

	return out
}

func (t *table[T]) calls() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]int, len(t.ops))
	for k, v := range t.ops {
		out[k] = v
	}

	return out
}

func (t *table[T]) resetCalls() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ops = map[string]int{}
}

func getID[T any](rec *T) int64 {
	return reflect.ValueOf(rec).Elem().FieldByName("ID").Int()
}

func setID[T any](rec *T, id int64) {
	reflect.ValueOf(rec).Elem().FieldByName("ID").SetInt(id)
}
