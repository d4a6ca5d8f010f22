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

const (
	ImageTypeQCOW2 = "qcow2"
	ImageTypeDisk  = "disk"
	ImageTypeRaw   = "raw"
	ImageTypeISO   = "iso"
)

// SyncedImageTypes are the image types the image pass is allowed to link to.
var SyncedImageTypes = []string{ImageTypeQCOW2, ImageTypeDisk, ImageTypeRaw, ImageTypeISO}

// Image is a cloud independent image. Its per-cloud occurrences are ImageLocations.
type Image struct {
	ID           int64  `gorm:"primaryKey"`
	ExternalID   string `gorm:"index"`
	Name         string
	Code         string
	Category     string `gorm:"index"`
	ImageType    string
	OwnerID      *int64 `gorm:"index"`
	UserUploaded bool
	SystemImage  bool
	ImageRegion  string `gorm:"index"`
	MinDisk      int64
	Status       string
}

func (i *Image) GetID() int64 { return i.ID }

func (i *Image) Project() Projection {
	return Projection{ID: i.ID, ExternalID: i.ExternalID, Name: i.Name, TypeCode: i.ImageType}
}

type ImageLocation struct {
	ID          int64 `gorm:"primaryKey"`
	ImageID     int64 `gorm:"index"`
	CloudID     int64 `gorm:"index"`
	Code        string
	ExternalID  string
	ImageName   string
	ImageRegion string `gorm:"index"`
}

func (l *ImageLocation) GetID() int64 { return l.ID }

func (l *ImageLocation) Project() Projection {
	return Projection{ID: l.ID, ExternalID: l.ExternalID, Name: l.ImageName, RefID: l.ImageID}
}
