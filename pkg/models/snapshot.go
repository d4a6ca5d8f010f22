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

import "time"

type Snapshot struct {
	ID              int64  `gorm:"primaryKey"`
	CloudID         int64  `gorm:"index"`
	AccountID       int64
	ExternalID      string `gorm:"index"`
	Name            string
	Description     string
	ServerID        *int64 `gorm:"index"`
	VMExternalID    string
	SnapshotCreated *time.Time `hash:"ignore"`
	Category        string
}

func (s *Snapshot) GetID() int64 { return s.ID }

func (s *Snapshot) Project() Projection {
	var ref int64
	if s.ServerID != nil {
		ref = *s.ServerID
	}

	return Projection{ID: s.ID, ExternalID: s.ExternalID, Name: s.Name, RefID: ref}
}
