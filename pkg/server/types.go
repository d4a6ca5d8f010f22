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

package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/operator"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	pxpool "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmoxpool"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CloudView is the API representation of a cloud.
type CloudView struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	APIURL           string      `json:"apiUrl"`
	RegionCode       string      `json:"regionCode"`
	Status           string      `json:"status"`
	StatusMessage    string      `json:"statusMessage,omitempty"`
	StatusDate       *time.Time  `json:"statusDate,omitempty"`
	LastSync         *time.Time  `json:"lastSync,omitempty"`
	LastSyncDuration int64       `json:"lastSyncDurationMs"`
	Enabled          bool        `json:"enabled"`
	Alarms           []AlarmView `json:"alarms,omitempty"`
}

// AlarmView is the API representation of an active alarm.
type AlarmView struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	StartDate time.Time `json:"startDate"`
}

// RefreshResponse is the result of a refresh of all clouds.
type RefreshResponse struct {
	Failed []string `json:"failed"`
}

// SnapshotRequest is the body of a snapshot creation.
type SnapshotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, operator.ErrCloudNotFound),
		errors.Is(err, pxpool.ErrClusterNotFound),
		errors.Is(err, goproxmox.ErrVirtualMachineNotFound):
		return http.StatusNotFound
	case errors.Is(err, operator.ErrRefreshInProgress):
		return http.StatusConflict
	case goproxmox.IsConnectivityError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, goproxmox.ErrTaskFailed):
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

func errorJSON(c echo.Context, message string, err error) error {
	return c.JSON(statusOf(err), ErrorResponse{Error: message, Details: err.Error()})
}
