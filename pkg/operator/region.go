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
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RegionCode derives the region code of a cloud endpoint.
// It changes whenever the cloud moves to another API URL.
func RegionCode(apiURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimRight(strings.TrimSpace(apiURL), "/")))

	return hex.EncodeToString(sum[:])
}
