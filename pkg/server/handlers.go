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
	"strconv"

	"github.com/jinzhu/copier"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/operator"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
)

// healthCheck handles GET /healthz
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// listClouds handles GET /api/v1/clouds
func (s *Server) listClouds(c echo.Context) error {
	clouds, err := s.store.Clouds().Find(c.Request().Context(), store.Eq("type_code", models.CloudTypeProxmox))
	if err != nil {
		return errorJSON(c, "failed to list clouds", err)
	}

	views := make([]CloudView, 0, len(clouds))

	for _, cloud := range clouds {
		view, err := s.cloudView(c, cloud)
		if err != nil {
			return errorJSON(c, "failed to list clouds", err)
		}

		views = append(views, view)
	}

	return c.JSON(http.StatusOK, views)
}

// getCloud handles GET /api/v1/clouds/:cloud
func (s *Server) getCloud(c echo.Context) error {
	cloud, err := s.findCloud(c)
	if err != nil {
		return errorJSON(c, "cloud not found", err)
	}

	view, err := s.cloudView(c, cloud)
	if err != nil {
		return errorJSON(c, "failed to get cloud", err)
	}

	return c.JSON(http.StatusOK, view)
}

// refreshCloud handles POST /api/v1/clouds/:cloud/refresh
func (s *Server) refreshCloud(c echo.Context) error {
	if err := s.refresher.Refresh(c.Request().Context(), c.Param("cloud")); err != nil {
		return errorJSON(c, "refresh failed", err)
	}

	return s.getCloud(c)
}

// refreshAll handles POST /api/v1/clouds/refresh
func (s *Server) refreshAll(c echo.Context) error {
	err := s.refresher.RefreshAll(c.Request().Context())

	failed := operator.FailedClouds(err)
	if err != nil && len(failed) == 0 {
		return errorJSON(c, "refresh failed", err)
	}

	return c.JSON(http.StatusOK, RefreshResponse{Failed: append([]string{}, failed...)})
}

// getTask handles GET /api/v1/clouds/:cloud/tasks/:upid
func (s *Server) getTask(c echo.Context) error {
	cluster, err := s.clusters.GetProxmoxCluster(c.Param("cloud"))
	if err != nil {
		return errorJSON(c, "cloud not found", err)
	}

	task, err := cluster.GetTask(c.Request().Context(), c.Param("upid"))
	if err != nil {
		return errorJSON(c, "failed to get task", err)
	}

	return c.JSON(http.StatusOK, task)
}

// stopVM handles POST /api/v1/clouds/:cloud/vms/:vmid/stop
func (s *Server) stopVM(c echo.Context) error {
	return s.vmCommand(c, "failed to stop vm", func(cluster goproxmox.Cluster, vmID uint64) (*goproxmox.Task, error) {
		return cluster.StopVM(c.Request().Context(), vmID)
	})
}

// deleteVM handles DELETE /api/v1/clouds/:cloud/vms/:vmid
func (s *Server) deleteVM(c echo.Context) error {
	return s.vmCommand(c, "failed to delete vm", func(cluster goproxmox.Cluster, vmID uint64) (*goproxmox.Task, error) {
		return cluster.DeleteServer(c.Request().Context(), vmID)
	})
}

// createSnapshot handles POST /api/v1/clouds/:cloud/vms/:vmid/snapshots
func (s *Server) createSnapshot(c echo.Context) error {
	var req SnapshotRequest

	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
	}

	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required"})
	}

	return s.vmCommand(c, "failed to create snapshot", func(cluster goproxmox.Cluster, vmID uint64) (*goproxmox.Task, error) {
		return cluster.CreateSnapshot(c.Request().Context(), vmID, req.Name, req.Description)
	})
}

// deleteSnapshot handles DELETE /api/v1/clouds/:cloud/vms/:vmid/snapshots/:snapshot
func (s *Server) deleteSnapshot(c echo.Context) error {
	return s.vmCommand(c, "failed to delete snapshot", func(cluster goproxmox.Cluster, vmID uint64) (*goproxmox.Task, error) {
		return cluster.DeleteSnapshot(c.Request().Context(), vmID, c.Param("snapshot"))
	})
}

func (s *Server) vmCommand(c echo.Context, message string, run func(goproxmox.Cluster, uint64) (*goproxmox.Task, error)) error {
	vmID, err := strconv.ParseUint(c.Param("vmid"), 10, 64)
	if err != nil || vmID == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid vm id", Details: c.Param("vmid")})
	}

	cluster, err := s.clusters.GetProxmoxCluster(c.Param("cloud"))
	if err != nil {
		return errorJSON(c, "cloud not found", err)
	}

	task, err := run(cluster, vmID)
	if err != nil {
		s.logger.Error(err, message, "cloud", c.Param("cloud"), "vmID", vmID)

		if task != nil {
			return c.JSON(statusOf(err), task)
		}

		return errorJSON(c, message, err)
	}

	return c.JSON(http.StatusOK, task)
}

func (s *Server) findCloud(c echo.Context) (*models.Cloud, error) {
	clouds, err := s.store.Clouds().Find(c.Request().Context(), store.Eq("name", c.Param("cloud")))
	if err != nil {
		return nil, err
	}

	if len(clouds) == 0 {
		return nil, operator.ErrCloudNotFound
	}

	return clouds[0], nil
}

func (s *Server) cloudView(c echo.Context, cloud *models.Cloud) (CloudView, error) {
	view := CloudView{}
	if err := copier.Copy(&view, cloud); err != nil {
		return CloudView{}, errors.Wrap(err, "failed to convert cloud")
	}

	alarms, err := s.store.Alarms().Find(c.Request().Context(), store.Eq("cloud_id", cloud.ID), store.Eq("active", true))
	if err != nil {
		return CloudView{}, err
	}

	if err := copier.Copy(&view.Alarms, alarms); err != nil {
		return CloudView{}, errors.Wrap(err, "failed to convert alarms")
	}

	return view, nil
}
