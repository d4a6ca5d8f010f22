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

// Package server serves the HTTP API of the inventory sync: cloud status,
// manual refreshes, VM commands and Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/operator"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"

	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

// Refresher runs cloud refreshes on demand.
type Refresher interface {
	Refresh(ctx context.Context, name string) error
	RefreshAll(ctx context.Context) error
}

type Server struct {
	echo      *echo.Echo
	store     store.Store
	refresher Refresher
	clusters  operator.ClusterProvider
	logger    logr.Logger
}

func New(logger logr.Logger, s store.Store, refresher Refresher, clusters operator.ClusterProvider) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		store:     s,
		refresher: refresher,
		clusters:  clusters,
		logger:    logger.WithName("server"),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error(v.Error, "Request failed", "method", v.Method, "uri", v.URI, "status", v.Status)

				return nil
			}

			s.logger.V(2).Info("Request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)

			return nil
		},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(crmetrics.Registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")

	v1.GET("/clouds", s.listClouds)
	v1.POST("/clouds/refresh", s.refreshAll)
	v1.GET("/clouds/:cloud", s.getCloud)
	v1.POST("/clouds/:cloud/refresh", s.refreshCloud)

	v1.GET("/clouds/:cloud/tasks/:upid", s.getTask)

	vms := v1.Group("/clouds/:cloud/vms/:vmid")
	vms.POST("/stop", s.stopVM)
	vms.DELETE("", s.deleteVM)
	vms.POST("/snapshots", s.createSnapshot)
	vms.DELETE("/snapshots/:snapshot", s.deleteSnapshot)
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves the API until the context is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Starting HTTP server", "address", addr)

		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")

	return s.echo.Shutdown(shutdownCtx)
}
