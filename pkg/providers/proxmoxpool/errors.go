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

package proxmoxpool

import "github.com/pkg/errors"

var (
	// ErrClustersNotFound is returned when no cluster is configured.
	ErrClustersNotFound = errors.New("no Proxmox clusters configured")
	// ErrClusterNotFound is returned when a cluster name is unknown.
	ErrClusterNotFound = errors.New("proxmox cluster not found")
	// ErrClusterNameEmpty is returned when a cluster has no name.
	ErrClusterNameEmpty = errors.New("cluster name is empty")
	// ErrClusterDuplicate is returned when two clusters share a name.
	ErrClusterDuplicate = errors.New("cluster name is duplicated")
)
