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

// Package gormstore implements the persistence gateway on top of gorm.
package gormstore

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/multierr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
)

// Store is a gorm backed store.
type Store struct {
	db *gorm.DB

	clouds         *table[models.Cloud]
	alarms         *table[models.Alarm]
	plans          *table[models.ServicePlan]
	servers        *table[models.ComputeServer]
	networks       *table[models.Network]
	pools          *table[models.NetworkPool]
	images         *table[models.Image]
	imageLocations *table[models.ImageLocation]
	snapshots      *table[models.Snapshot]
	datastores     *table[models.Datastore]
}

var _ store.Store = &Store{}

// Open opens a sqlite database and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dsn, err)
	}

	return New(db)
}

// New wraps an opened gorm database and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&models.Cloud{},
		&models.Alarm{},
		&models.ServicePlan{},
		&models.ComputeServer{},
		&models.Network{},
		&models.NetworkPool{},
		&models.IPRange{},
		&models.Image{},
		&models.ImageLocation{},
		&models.Snapshot{},
		&models.Datastore{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{
		db:             db,
		clouds:         &table[models.Cloud]{db: db},
		alarms:         &table[models.Alarm]{db: db},
		plans:          &table[models.ServicePlan]{db: db},
		servers:        &table[models.ComputeServer]{db: db},
		networks:       &table[models.Network]{db: db},
		pools:          &table[models.NetworkPool]{db: db, preload: []string{"Ranges"}},
		images:         &table[models.Image]{db: db},
		imageLocations: &table[models.ImageLocation]{db: db},
		snapshots:      &table[models.Snapshot]{db: db},
		datastores:     &table[models.Datastore]{db: db},
	}, nil
}

func (s *Store) Clouds() store.Table[models.Cloud]                 { return s.clouds }
func (s *Store) Alarms() store.Table[models.Alarm]                 { return s.alarms }
func (s *Store) ServicePlans() store.Table[models.ServicePlan]     { return s.plans }
func (s *Store) Servers() store.Table[models.ComputeServer]        { return s.servers }
func (s *Store) Networks() store.Table[models.Network]             { return s.networks }
func (s *Store) NetworkPools() store.Table[models.NetworkPool]     { return s.pools }
func (s *Store) Images() store.Table[models.Image]                 { return s.images }
func (s *Store) ImageLocations() store.Table[models.ImageLocation] { return s.imageLocations }
func (s *Store) Snapshots() store.Table[models.Snapshot]           { return s.snapshots }
func (s *Store) Datastores() store.Table[models.Datastore]         { return s.datastores }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

type table[T any] struct {
	db      *gorm.DB
	preload []string
}

func (t *table[T]) query(ctx context.Context, conds []store.Cond) *gorm.DB {
	q := t.db.WithContext(ctx).Model(new(T))

	for _, p := range t.preload {
		q = q.Preload(p)
	}

	for _, c := range conds {
		expr, args := c.SQL()
		q = q.Where(expr, args...)
	}

	return q
}

func (t *table[T]) Find(ctx context.Context, conds ...store.Cond) ([]*T, error) {
	out := []*T{}
	if err := t.query(ctx, conds).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}

	return out, nil
}

func (t *table[T]) Get(ctx context.Context, ids []int64) ([]*T, error) {
	if len(ids) == 0 {
		return []*T{}, nil
	}

	return t.Find(ctx, store.In("id", ids))
}

func (t *table[T]) Projections(ctx context.Context, conds ...store.Cond) ([]models.Projection, error) {
	rows, err := t.Find(ctx, conds...)
	if err != nil {
		return nil, err
	}

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

func (t *table[T]) Create(ctx context.Context, records []*T) error {
	if len(records) == 0 {
		return nil
	}

	return t.db.WithContext(ctx).Create(&records).Error
}

func (t *table[T]) Save(ctx context.Context, records []*T) error {
	var errs error

	db := t.db.WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true})

	for _, rec := range records {
		errs = multierr.Append(errs, db.Save(rec).Error)
	}

	return errs
}

func (t *table[T]) Remove(ctx context.Context, records []*T) error {
	var errs error

	for _, rec := range records {
		errs = multierr.Append(errs, t.db.WithContext(ctx).Select(clause.Associations).Delete(rec).Error)
	}

	return errs
}
