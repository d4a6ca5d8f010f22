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

package models

import (
	"fmt"
	"time"
)

// Cloud is a configured Proxmox cluster endpoint.
type Cloud struct {
	ID               int64  `gorm:"primaryKey"`
	Name             string `gorm:"uniqueIndex"`
	Code             string
	TypeCode         string `gorm:"index"`
	AccountID        int64
	OwnerID          int64
	APIURL           string
	RegionCode       string
	Status           string
	StatusMessage    string
	StatusDate       *time.Time
	LastSync         *time.Time
	LastSyncDuration int64
	Enabled          bool
}

func (c *Cloud) GetID() int64 { return c.ID }

func (c *Cloud) Project() Projection {
	return Projection{ID: c.ID, ExternalID: c.Code, Name: c.Name, TypeCode: c.TypeCode}
}

// ImageCategory returns the category stamped on images discovered by this cloud.
func (c *Cloud) ImageCategory() string {
	return fmt.Sprintf("%s.image.%d", CloudTypeProxmox, c.ID)
}

// Category returns the category prefix of records owned by this cloud.
func (c *Cloud) Category(kind string) string {
	return fmt.Sprintf("%s.%s.%d", CloudTypeProxmox, kind, c.ID)
}

// Alarm is a cloud health alarm raised by the refresh orchestrator.
type Alarm struct {
	ID        int64 `gorm:"primaryKey"`
	CloudID   int64 `gorm:"index"`
	Code      string
	Message   string
	Severity  string
	Active    bool
	StartDate time.Time
	EndDate   *time.Time
}

func (a *Alarm) GetID() int64 { return a.ID }

func (a *Alarm) Project() Projection {
	return Projection{ID: a.ID, ExternalID: a.Code, Name: a.Message, RefID: a.CloudID}
}

// ServicePlan is a region-tagged plan. Only its region code is managed by the sync.
type ServicePlan struct {
	ID         int64 `gorm:"primaryKey"`
	Code       string
	Name       string
	RegionCode string `gorm:"index"`
}

func (p *ServicePlan) GetID() int64 { return p.ID }

func (p *ServicePlan) Project() Projection {
	return Projection{ID: p.ID, ExternalID: p.Code, Name: p.Name}
}
