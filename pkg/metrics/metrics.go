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

// Package metrics exposes refresh and pass metrics of the inventory sync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/syncer"

	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const namespace = "proxmox_inventory"

const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultOffline  = "offline"
	ResultConflict = "conflict"
)

var (
	refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_total",
		Help:      "Total number of cloud refreshes by result",
	}, []string{"cloud", "result"})

	refreshDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "refresh_duration_seconds",
		Help:      "Duration of cloud refreshes",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	}, []string{"cloud"})

	passErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pass_errors_total",
		Help:      "Total number of failed reconciliation passes",
	}, []string{"cloud", "pass"})

	recordsChanged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_changed_total",
		Help:      "Total number of local records added, updated or deleted by a pass",
	}, []string{"cloud", "pass", "operation"})

	cloudOnline = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cloud_online",
		Help:      "Whether the cloud was reachable on its last refresh",
	}, []string{"cloud"})
)

func init() {
	crmetrics.Registry.MustRegister(
		refreshTotal,
		refreshDuration,
		passErrors,
		recordsChanged,
		cloudOnline,
	)
}

// RecordRefresh records a finished refresh of a cloud.
func RecordRefresh(cloud, result string, durationSeconds float64) {
	refreshTotal.WithLabelValues(cloud, result).Inc()

	if result != ResultConflict {
		refreshDuration.WithLabelValues(cloud).Observe(durationSeconds)
	}

	switch result {
	case ResultOffline:
		cloudOnline.WithLabelValues(cloud).Set(0)
	case ResultSuccess:
		cloudOnline.WithLabelValues(cloud).Set(1)
	}
}

// RecordPass records the outcome of one pass.
func RecordPass(cloud, pass string, stats syncer.Stats, err error) {
	if err != nil {
		passErrors.WithLabelValues(cloud, pass).Inc()
	}

	recordsChanged.WithLabelValues(cloud, pass, "add").Add(float64(stats.Added))
	recordsChanged.WithLabelValues(cloud, pass, "update").Add(float64(stats.Updated))
	recordsChanged.WithLabelValues(cloud, pass, "delete").Add(float64(stats.Deleted))
}
