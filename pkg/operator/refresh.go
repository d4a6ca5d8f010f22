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

package operator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/controllers"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/metrics"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/models"
	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/store"
	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/utils/locks"

	"k8s.io/utils/clock"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	AlarmCodeOffline     = "proxmox.cloud.offline"
	AlarmCodeCredentials = "proxmox.cloud.credentials"

	AlarmSeverityCritical = "critical"
)

var (
	// ErrRefreshInProgress is returned when the cloud is already being refreshed.
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrCloudNotFound is returned when no enabled cloud has the name.
	ErrCloudNotFound = errors.New("cloud not found")
)

// RefreshError is the failure of one cloud refresh.
type RefreshError struct {
	Cloud string
	Err   error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("cloud %s: %v", e.Cloud, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// ClusterProvider returns the inventory client of a cloud.
type ClusterProvider interface {
	GetProxmoxCluster(name string) (goproxmox.Cluster, error)
}

// Refresher runs the reconciliation passes of clouds.
type Refresher struct {
	store       store.Store
	clusters    ClusterProvider
	passes      []controllers.Controller
	locks       *locks.Locks
	clock       clock.Clock
	concurrency int
}

func NewRefresher(s store.Store, clusters ClusterProvider, clk clock.Clock, concurrency int) *Refresher {
	return &Refresher{
		store:       s,
		clusters:    clusters,
		passes:      controllers.NewControllers(s),
		locks:       locks.NewLocks(),
		clock:       clk,
		concurrency: max(concurrency, 1),
	}
}

// Refresh reconciles the inventory of one cloud.
// Pass failures are logged and counted, they do not fail the refresh.
func (r *Refresher) Refresh(ctx context.Context, name string) error {
	if !r.locks.TryLock(name) {
		metrics.RecordRefresh(name, metrics.ResultConflict, 0)

		return ErrRefreshInProgress
	}
	defer r.locks.Unlock(name)

	logger := log.FromContext(ctx).WithValues("cloud", name, "run", uuid.NewString())
	ctx = log.IntoContext(ctx, logger)

	clouds, err := r.store.Clouds().Find(ctx, store.Eq("name", name), store.Eq("enabled", true))
	if err != nil {
		return fmt.Errorf("failed to load cloud: %w", err)
	}

	if len(clouds) == 0 {
		return ErrCloudNotFound
	}

	cloud := clouds[0]
	start := r.clock.Now()

	logger.V(1).Info("Refreshing cloud")

	// every exit after this point leaves the cloud ok or offline, never syncing
	cluster, err := r.clusters.GetProxmoxCluster(name)
	if err != nil {
		err = fmt.Errorf("failed to get cluster client: %w", err)

		logger.Error(err, "Cloud has no cluster client")
		metrics.RecordRefresh(name, metrics.ResultOffline, r.clock.Since(start).Seconds())

		return multierr.Append(err, r.markOffline(ctx, cloud, err))
	}

	if err := r.setStatus(ctx, cloud, models.CloudStatusSyncing, ""); err != nil {
		return err
	}

	if err := cluster.Verify(ctx); err != nil {
		logger.Error(err, "Cloud is not reachable")
		metrics.RecordRefresh(name, metrics.ResultOffline, r.clock.Since(start).Seconds())

		return multierr.Append(err, r.markOffline(ctx, cloud, err))
	}

	if err := r.checkRegion(ctx, cloud); err != nil {
		// a stale region code only affects tagging, the inventory is still refreshed
		logger.Error(err, "Failed to rewrite region code")
	}

	failed := 0

	for _, pass := range r.passes {
		stats, err := pass.Reconcile(ctx, cloud, cluster)
		metrics.RecordPass(name, pass.Name(), stats, err)

		if err != nil {
			failed++

			logger.Error(err, "Pass failed", "pass", pass.Name())

			continue
		}

		logger.V(2).Info("Pass finished", "pass", pass.Name(), "added", stats.Added, "updated", stats.Updated, "deleted", stats.Deleted)
	}

	message := ""
	if failed > 0 {
		message = fmt.Sprintf("%d of %d passes failed", failed, len(r.passes))
	}

	duration := r.clock.Since(start)

	cloud.LastSync = ptr.To(r.clock.Now())
	cloud.LastSyncDuration = duration.Milliseconds()

	if err := r.setStatus(ctx, cloud, models.CloudStatusOK, message); err != nil {
		return err
	}

	if err := r.clearAlarms(ctx, cloud); err != nil {
		logger.Error(err, "Failed to clear alarms")
	}

	metrics.RecordRefresh(name, metrics.ResultSuccess, duration.Seconds())
	logger.Info("Cloud refreshed", "duration", duration, "failedPasses", failed)

	return nil
}

// RefreshAll refreshes every enabled cloud, distinct clouds concurrently.
// Failed clouds are reported as RefreshError, clouds refreshed elsewhere are skipped.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	clouds, err := EnabledClouds(ctx, r.store)
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, cloud := range clouds {
		g.Go(func() error {
			err := r.Refresh(ctx, cloud.Name)
			if err != nil && !errors.Is(err, ErrRefreshInProgress) {
				mu.Lock()
				errs = multierr.Append(errs, &RefreshError{Cloud: cloud.Name, Err: err})
				mu.Unlock()
			}

			// one failed cloud must not cancel the others
			return nil
		})
	}

	_ = g.Wait()

	return errs
}

// FailedClouds returns the cloud names of the refresh errors combined in err.
func FailedClouds(err error) []string {
	return lo.FilterMap(multierr.Errors(err), func(e error, _ int) (string, bool) {
		var rerr *RefreshError
		if errors.As(e, &rerr) {
			return rerr.Cloud, true
		}

		return "", false
	})
}

func (r *Refresher) checkRegion(ctx context.Context, cloud *models.Cloud) error {
	code := RegionCode(cloud.APIURL)
	if cloud.RegionCode == code {
		return nil
	}

	n, err := store.RewriteRegionCode(ctx, r.store, cloud.RegionCode, code)
	if err != nil {
		return err
	}

	log.FromContext(ctx).Info("Cloud region code changed", "from", cloud.RegionCode, "to", code, "records", n)

	cloud.RegionCode = code

	return r.store.Clouds().Save(ctx, []*models.Cloud{cloud})
}

func (r *Refresher) setStatus(ctx context.Context, cloud *models.Cloud, status, message string) error {
	cloud.Status = status
	cloud.StatusMessage = message
	cloud.StatusDate = ptr.To(r.clock.Now())

	if err := r.store.Clouds().Save(ctx, []*models.Cloud{cloud}); err != nil {
		return fmt.Errorf("failed to update cloud status: %w", err)
	}

	return nil
}

func (r *Refresher) markOffline(ctx context.Context, cloud *models.Cloud, cause error) error {
	code, message := AlarmCodeOffline, "Proxmox cluster is not reachable: "+cause.Error()
	if errors.Is(cause, goproxmox.ErrInvalidCredentials) {
		code, message = AlarmCodeCredentials, "Invalid Proxmox credentials"
	}

	if err := r.setStatus(ctx, cloud, models.CloudStatusOffline, message); err != nil {
		return err
	}

	active, err := r.store.Alarms().Find(ctx, store.Eq("cloud_id", cloud.ID), store.Eq("active", true))
	if err != nil {
		return fmt.Errorf("failed to list alarms: %w", err)
	}

	if alarm, ok := lo.Find(active, func(a *models.Alarm) bool { return a.Code == code }); ok {
		if alarm.Message == message {
			return nil
		}

		alarm.Message = message

		return r.store.Alarms().Save(ctx, []*models.Alarm{alarm})
	}

	return r.store.Alarms().Create(ctx, []*models.Alarm{{
		CloudID:   cloud.ID,
		Code:      code,
		Message:   message,
		Severity:  AlarmSeverityCritical,
		Active:    true,
		StartDate: r.clock.Now(),
	}})
}

func (r *Refresher) clearAlarms(ctx context.Context, cloud *models.Cloud) error {
	active, err := r.store.Alarms().Find(ctx, store.Eq("cloud_id", cloud.ID), store.Eq("active", true))
	if err != nil {
		return fmt.Errorf("failed to list alarms: %w", err)
	}

	now := r.clock.Now()

	for _, alarm := range active {
		alarm.Active = false
		alarm.EndDate = ptr.To(now)
	}

	return r.store.Alarms().Save(ctx, active)
}
