/*
 * Copyright (c) 2024, the gpu-partd authors.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package v1

import (
	"github.com/virtaccel/gpu-partd/pkg/types"
)

// MatchesDeviceFilter checks a GPU's PCI device id against the spec's
// device-filter field.
func (ps *PartitionConfigSpec) MatchesDeviceFilter(deviceID types.DeviceID) bool {
	var filters []string
	switch df := ps.DeviceFilter.(type) {
	case string:
		if df == "" {
			return true
		}
		filters = append(filters, df)
	case []string:
		filters = append(filters, df...)
	default:
		return true
	}

	for _, f := range filters {
		newDeviceID, err := types.NewDeviceIDFromString(f)
		if err == nil && newDeviceID == deviceID {
			return true
		}
	}

	return false
}

// MatchesDevices checks a GPU's enumeration index against the spec's
// devices field.
func (ps *PartitionConfigSpec) MatchesDevices(index int) bool {
	switch devices := ps.Devices.(type) {
	case string:
		return devices == "all"
	case []int:
		for _, d := range devices {
			if index == d {
				return true
			}
		}
	}
	return false
}

// TypeCounts returns the desired partition multiset as a count per vGPU
// type id.
func (ps *PartitionConfigSpec) TypeCounts() map[uint32]int {
	counts := make(map[uint32]int)
	for _, id := range ps.Partitions {
		counts[id]++
	}
	return counts
}
