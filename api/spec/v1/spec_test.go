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
	"testing"

	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"github.com/virtaccel/gpu-partd/pkg/types"
)

func TestSpec(t *testing.T) {
	testCases := []struct {
		Description string
		Spec        string
		valid       bool
	}{
		{
			"Well formed",
			`
version: v1
partition-configs:
  default:
    - devices: all
      partitions: [470, 470, 1]
`,
			true,
		},
		{
			"Multiple configs",
			`
version: v1
partition-configs:
  time-shared:
    - devices: all
      partitions: [1, 1]
  mig-backed:
    - devices: [0]
      partitions: [470]
    - devices: [1]
      partitions: [474]
`,
			true,
		},
		{
			"Missing version",
			`
partition-configs:
  default:
    - devices: all
      partitions: [1]
`,
			false,
		},
		{
			"Unknown version",
			`
version: v2
partition-configs:
  default:
    - devices: all
      partitions: [1]
`,
			false,
		},
		{
			"Empty partition-configs",
			`
version: v1
partition-configs: {}
`,
			false,
		},
		{
			"Empty config entry",
			`
version: v1
partition-configs:
  default: []
`,
			false,
		},
		{
			"Unexpected top-level field",
			`
version: v1
partition-configs:
  default:
    - devices: all
      partitions: [1]
unexpected: field
`,
			false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Description, func(t *testing.T) {
			s := Spec{}
			err := yaml.Unmarshal([]byte(tc.Spec), &s)
			if !tc.valid {
				require.NotNil(t, err, "Unexpected success yaml.Unmarshal")
				return
			}
			require.Nil(t, err, "Unexpected failure yaml.Unmarshal")
		})
	}
}

// An empty document decodes as YAML null, so the custom unmarshaler never
// runs and the Spec stays zero. Config file parsers reject it through the
// empty version.
func TestEmptySpecDocument(t *testing.T) {
	s := Spec{}
	err := yaml.Unmarshal([]byte(""), &s)
	require.Nil(t, err)
	require.Empty(t, s.Version)
	require.Empty(t, s.PartitionConfigs)
}

func TestPartitionConfigSpec(t *testing.T) {
	testCases := []struct {
		Description string
		Spec        string
		valid       bool
	}{
		{
			"Well formed, all devices",
			`
devices: all
partitions: [470, 470]
`,
			true,
		},
		{
			"Well formed, device indices",
			`
devices: [0, 1]
partitions: [1]
`,
			true,
		},
		{
			"Well formed, empty partitions",
			`
devices: all
partitions: []
`,
			true,
		},
		{
			"Device filter string",
			`
device-filter: "0x20B010DE"
devices: all
partitions: [1]
`,
			true,
		},
		{
			"Device filter list",
			`
device-filter: ["0x20B010DE", "0x20F110DE"]
devices: all
partitions: [1]
`,
			true,
		},
		{
			"Missing devices",
			`
partitions: [1]
`,
			false,
		},
		{
			"Missing partitions",
			`
devices: all
`,
			false,
		},
		{
			"Invalid devices string",
			`
devices: some
partitions: [1]
`,
			false,
		},
		{
			"Zero type id",
			`
devices: all
partitions: [0]
`,
			false,
		},
		{
			"Unexpected field",
			`
devices: all
partitions: [1]
unexpected: field
`,
			false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Description, func(t *testing.T) {
			s := PartitionConfigSpec{}
			err := yaml.Unmarshal([]byte(tc.Spec), &s)
			if !tc.valid {
				require.NotNil(t, err, "Unexpected success yaml.Unmarshal")
				return
			}
			require.Nil(t, err, "Unexpected failure yaml.Unmarshal")
		})
	}
}

func TestMatchesDeviceFilter(t *testing.T) {
	a100 := types.NewDeviceID(0x20B0, 0x10DE)
	other := types.NewDeviceID(0x1EB8, 0x10DE)

	testCases := []struct {
		Description string
		Filter      interface{}
		DeviceID    types.DeviceID
		matches     bool
	}{
		{"No filter", nil, a100, true},
		{"Empty string filter", "", a100, true},
		{"Matching string filter", "0x20B010DE", a100, true},
		{"Non-matching string filter", "0x20B010DE", other, false},
		{"Matching list filter", []string{"0x1EB810DE", "0x20B010DE"}, a100, true},
		{"Non-matching list filter", []string{"0x1EB810DE"}, a100, false},
	}

	for _, tc := range testCases {
		t.Run(tc.Description, func(t *testing.T) {
			spec := PartitionConfigSpec{DeviceFilter: tc.Filter}
			require.Equal(t, tc.matches, spec.MatchesDeviceFilter(tc.DeviceID))
		})
	}
}

func TestMatchesDevices(t *testing.T) {
	all := PartitionConfigSpec{Devices: "all"}
	require.True(t, all.MatchesDevices(0))
	require.True(t, all.MatchesDevices(7))

	some := PartitionConfigSpec{Devices: []int{0, 2}}
	require.True(t, some.MatchesDevices(0))
	require.False(t, some.MatchesDevices(1))
	require.True(t, some.MatchesDevices(2))
}

func TestTypeCounts(t *testing.T) {
	spec := PartitionConfigSpec{Partitions: []uint32{470, 470, 1}}
	require.Equal(t, map[uint32]int{470: 2, 1: 1}, spec.TypeCounts())
}
