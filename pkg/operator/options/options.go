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

package options

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"sigs.k8s.io/karpenter/pkg/utils/env"
)

const (
	cloudConfigEnvVarName = "CLOUD_CONFIG"
	cloudConfigFlagName   = "cloud-config"

	databaseEnvVarName = "DATABASE"
	databaseFlagName   = "database"

	listenAddressEnvVarName = "LISTEN_ADDRESS"
	listenAddressFlagName   = "listen-address"

	resyncIntervalEnvVarName = "RESYNC_INTERVAL"
	resyncIntervalFlagName   = "resync-interval"

	maxRetriesEnvVarName = "MAX_RETRIES"
	maxRetriesFlagName   = "max-retries"

	concurrencyEnvVarName = "REFRESH_CONCURRENCY"
	concurrencyFlagName   = "refresh-concurrency"

	verbosityEnvVarName = "VERBOSITY"
	verbosityFlagName   = "verbosity"
)

type optionsKey struct{}

type Options struct {
	CloudConfigPath string
	// DatabasePath is the sqlite file of the inventory. Empty keeps the inventory in memory.
	DatabasePath   string
	ListenAddress  string
	ResyncInterval time.Duration
	MaxRetries     int
	Concurrency    int
	Verbosity      int
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.CloudConfigPath, cloudConfigFlagName, env.WithDefaultString(cloudConfigEnvVarName, ""), "Path to the cloud config file.")
	fs.StringVar(&o.DatabasePath, databaseFlagName, env.WithDefaultString(databaseEnvVarName, ""), "Path to the inventory database, in-memory when empty.")
	fs.StringVar(&o.ListenAddress, listenAddressFlagName, env.WithDefaultString(listenAddressEnvVarName, ":8080"), "Address of the HTTP API and metrics.")
	fs.DurationVar(&o.ResyncInterval, resyncIntervalFlagName, env.WithDefaultDuration(resyncIntervalEnvVarName, 10*time.Minute), "Interval between cloud refreshes.")
	fs.IntVar(&o.MaxRetries, maxRetriesFlagName, env.WithDefaultInt(maxRetriesEnvVarName, 5), "Maximum number of retry attempts of a failed refresh.")
	fs.IntVar(&o.Concurrency, concurrencyFlagName, env.WithDefaultInt(concurrencyEnvVarName, 4), "Number of clouds refreshed at the same time.")
	fs.IntVarP(&o.Verbosity, verbosityFlagName, "v", env.WithDefaultInt(verbosityEnvVarName, 0), "Verbosity level (0=info, 1=debug, 2=trace, -1=errors only)")
}

func (o *Options) Validate() error {
	var errs []error

	if o.CloudConfigPath == "" {
		errs = append(errs, fmt.Errorf("--%s is required", cloudConfigFlagName))
	}

	if o.ResyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("--%s must be positive", resyncIntervalFlagName))
	}

	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("--%s must not be negative", maxRetriesFlagName))
	}

	if o.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("--%s must be at least 1", concurrencyFlagName))
	}

	return errors.Join(errs...)
}

func (o *Options) ToContext(ctx context.Context) context.Context {
	return ToContext(ctx, o)
}

func ToContext(ctx context.Context, opts *Options) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

func FromContext(ctx context.Context) *Options {
	retval := ctx.Value(optionsKey{})
	if retval == nil {
		return nil
	}

	return retval.(*Options)
}
