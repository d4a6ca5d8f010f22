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

package goproxmox

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrVirtualMachineNotFound is returned when a virtual machine is not found.
	ErrVirtualMachineNotFound = errors.New("VM machine not found")
	// ErrUnreachable is returned when the cluster API cannot be reached.
	ErrUnreachable = errors.New("cluster API is unreachable")
	// ErrInvalidCredentials is returned when the cluster API rejects the credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTaskFailed is returned when an asynchronous task finishes with an error.
	ErrTaskFailed = errors.New("task failed")
)

// ClassifyError maps a client error to ErrUnreachable or ErrInvalidCredentials.
// Other errors are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrUnreachable) || errors.Is(err, ErrInvalidCredentials) {
		return err
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "401 "),
		strings.Contains(msg, "authentication failure"),
		strings.Contains(msg, "permission check failed"),
		strings.Contains(msg, "invalid token"):
		return errors.Wrap(ErrInvalidCredentials, err.Error())
	}

	var (
		netErr net.Error
		urlErr *url.Error
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr),
		errors.As(err, &urlErr),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "tls:"),
		strings.Contains(msg, "x509:"):
		return errors.Wrap(ErrUnreachable, err.Error())
	}

	return err
}

// IsConnectivityError reports whether err means the cluster cannot be used at all.
func IsConnectivityError(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrInvalidCredentials)
}
