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

package syncer

import (
	"github.com/mitchellh/hashstructure/v2"
)

// Fingerprint returns a digest of the exported fields of v.
// Fields tagged `hash:"ignore"` do not contribute.
func Fingerprint(v any) uint64 {
	h, err := hashstructure.Hash(v, hashstructure.FormatV2, nil)
	if err != nil {
		return 0
	}

	return h
}

// Changed reports whether v differs from the fingerprint taken before it was mutated.
func Changed(before uint64, v any) bool {
	return before == 0 || before != Fingerprint(v)
}
