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

// Package config reads the cloud config file.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	pxpool "github.com/sergelogvinov/proxmox-inventory-sync/pkg/providers/proxmoxpool"
)

// CloudConfig is the content of the cloud config file.
type CloudConfig struct {
	Clusters []*pxpool.ProxmoxCluster `yaml:"clusters,omitempty"`
}

// ReadCloudConfig reads and validates a cloud config.
func ReadCloudConfig(r io.Reader) (CloudConfig, error) {
	cfg := CloudConfig{}

	if r != nil {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)

		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return CloudConfig{}, fmt.Errorf("failed to decode cloud config: %w", err)
		}
	}

	for idx, c := range cfg.Clusters {
		if c.Name == "" {
			return CloudConfig{}, fmt.Errorf("cluster #%d: name is required", idx+1)
		}

		if c.URL == "" || !strings.HasPrefix(c.URL, "http") {
			return CloudConfig{}, fmt.Errorf("cluster %s: url is required and must be http(s)", c.Name)
		}

		hasToken := c.TokenID != "" || c.TokenIDFile != ""
		hasSecret := c.TokenSecret != "" || c.TokenSecretFile != ""
		hasUser := c.Username != "" && c.Password != ""

		if !hasUser && (!hasToken || !hasSecret) {
			return CloudConfig{}, fmt.Errorf("cluster %s: either username/password or token_id/token_secret is required", c.Name)
		}
	}

	return cfg, nil
}

// ReadCloudConfigFromFile reads a cloud config file.
func ReadCloudConfigFromFile(path string) (CloudConfig, error) {
	if path == "" {
		return CloudConfig{}, fmt.Errorf("cloud config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return CloudConfig{}, fmt.Errorf("failed to read cloud config %s: %w", path, err)
	}

	return ReadCloudConfig(bytes.NewReader(data))
}

// Enabled returns the clusters that are not disabled.
func (c CloudConfig) Enabled() []*pxpool.ProxmoxCluster {
	out := make([]*pxpool.ProxmoxCluster, 0, len(c.Clusters))

	for _, cl := range c.Clusters {
		if !cl.Disabled {
			out = append(out, cl)
		}
	}

	return out
}
