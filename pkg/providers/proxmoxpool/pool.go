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


// Package proxmoxpool keeps one inventory client per configured Proxmox cluster.
package proxmoxpool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	proxmox "github.com/luthermonson/go-proxmox"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	goproxmox "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmox"

	"k8s.io/klog/v2"
)

const (
	userAgent = "proxmox-inventory-sync v1.0"

	defaultTimeout = 60 * time.Second
)

// ProxmoxCluster is the connection config of one cloud.
type ProxmoxCluster struct {
	Name            string        `yaml:"name"`
	URL             string        `yaml:"url"`
	Insecure        bool          `yaml:"insecure,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	TokenID         string        `yaml:"token_id,omitempty"`
	TokenIDFile     string        `yaml:"token_id_file,omitempty"`
	TokenSecret     string        `yaml:"token_secret,omitempty"`
	TokenSecretFile string        `yaml:"token_secret_file,omitempty"`
	Username        string        `yaml:"username,omitempty"`
	Password        string        `yaml:"password,omitempty"`
	AccountID       int64         `yaml:"account_id,omitempty"`
	OwnerID         int64         `yaml:"owner_id,omitempty"`
	Disabled        bool          `yaml:"disabled,omitempty"`
}

// ProxmoxPool maps cloud names to their inventory clients.
type ProxmoxPool struct {
	clients map[string]goproxmox.Cluster
}

// NewProxmoxPool creates a client per cluster. Names must be unique and non-empty.
func NewProxmoxPool(config []*ProxmoxCluster) (*ProxmoxPool, error) {
	if len(config) == 0 {
		return nil, ErrClustersNotFound
	}

	clients := make(map[string]goproxmox.Cluster, len(config))

	for _, cfg := range config {
		if cfg.Name == "" {
			return nil, fmt.Errorf("cluster %s: %w", cfg.URL, ErrClusterNameEmpty)
		}

		if _, ok := clients[cfg.Name]; ok {
			return nil, fmt.Errorf("cluster %s: %w", cfg.Name, ErrClusterDuplicate)
		}

		options, err := clientOptions(cfg)
		if err != nil {
			return nil, fmt.Errorf("cluster %s: %w", cfg.Name, err)
		}

		clients[cfg.Name] = goproxmox.NewAPIClient(cfg.URL, options...)
	}

	return &ProxmoxPool{clients: clients}, nil
}

// NewProxmoxPoolFromClients creates a pool of already connected clusters.
func NewProxmoxPoolFromClients(clients map[string]goproxmox.Cluster) *ProxmoxPool {
	return &ProxmoxPool{clients: clients}
}

func clientOptions(cfg *ProxmoxCluster) ([]proxmox.Option, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	options := []proxmox.Option{
		proxmox.WithUserAgent(userAgent),
		proxmox.WithHTTPClient(&http.Client{Transport: transport, Timeout: timeout}),
	}

	if cfg.Username != "" && cfg.Password != "" {
		return append(options, proxmox.WithCredentials(&proxmox.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		})), nil
	}

	tokenID, err := valueOrFile(cfg.TokenID, cfg.TokenIDFile)
	if err != nil {
		return nil, err
	}

	tokenSecret, err := valueOrFile(cfg.TokenSecret, cfg.TokenSecretFile)
	if err != nil {
		return nil, err
	}

	if tokenID != "" && tokenSecret != "" {
		options = append(options, proxmox.WithAPIToken(tokenID, tokenSecret))
	}

	return options, nil
}

// GetClusters returns the cluster names, sorted.
func (c *ProxmoxPool) GetClusters() []string {
	names := lo.Keys(c.clients)
	slices.Sort(names)

	return names
}

// CheckClusters verifies every cluster and reports all that cannot be used.
func (c *ProxmoxPool) CheckClusters(ctx context.Context) error {
	var errs error

	for _, name := range c.GetClusters() {
		if err := c.clients[name].Verify(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cluster %s is not reachable: %w", name, err))

			continue
		}

		hosts, err := c.clients[name].ListHosts(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to list hosts of cluster %s: %w", name, err))

			continue
		}

		if len(hosts) == 0 {
			klog.InfoS("Proxmox cluster has no hosts, check the account permissions", "cluster", name)

			continue
		}

		klog.V(4).InfoS("Proxmox cluster is reachable", "cluster", name, "hosts", len(hosts))
	}

	return errs
}

// GetProxmoxCluster returns the client of a cluster.
func (c *ProxmoxPool) GetProxmoxCluster(name string) (goproxmox.Cluster, error) {
	if cluster, ok := c.clients[name]; ok && cluster != nil {
		return cluster, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, name)
}

func valueOrFile(value, path string) (string, error) {
	if value != "" || path == "" {
		return value, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	return strings.TrimSpace(string(content)), nil
}
