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

package locks_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/utils/locks"
)

func TestTryLock(t *testing.T) {
	t.Parallel()

	l := locks.NewLocks()

	assert.True(t, l.TryLock("lab"))
	assert.False(t, l.TryLock("lab"))
	assert.True(t, l.TryLock("prod"), "clouds are locked independently")

	l.Unlock("lab")
	assert.True(t, l.TryLock("lab"))
}

func TestLock(t *testing.T) {
	t.Parallel()

	l := locks.NewLocks()

	var (
		wg      sync.WaitGroup
		counter int
	)

	for range 50 {
		wg.Go(func() {
			l.Lock("lab")
			defer l.Unlock("lab")

			counter++
		})
	}

	wg.Wait()

	assert.Equal(t, 50, counter)
}
