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

package vgpu

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/virtaccel/gpu-partd/api/spec/v1"
	"github.com/virtaccel/gpu-partd/pkg/types"
)

func testSpec() *v1.Spec {
	return &v1.Spec{
		Version: v1.Version,
		PartitionConfigs: map[string]v1.PartitionConfigSpecSlice{
			"mig-all": {
				{Devices: "all", Partitions: []uint32{470, 470}},
			},
			"mixed": {
				{Devices: []int{0}, Partitions: []uint32{1}},
				{Devices: []int{1}, Partitions: []uint32{474}},
			},
			"first-only": {
				{Devices: []int{0}, Partitions: []uint32{1}},
			},
			"reset": {
				{Devices: "all", Partitions: []uint32{}},
			},
		},
	}
}

func gpuTypeIDs(t *testing.T, g *GPU) []uint32 {
	partitions, err := g.Partitions()
	require.NoError(t, err)
	var ids []uint32
	for _, p := range partitions {
		ids = append(ids, p.Type.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestApplyConfig(t *testing.T) {
	m, server, _ := newTestEnv()
	spec := testSpec()

	require.NoError(t, m.ApplyConfig(spec, "mig-all"))

	gpus, err := m.GPUs()
	require.NoError(t, err)
	defer releaseAll(gpus)

	for i, gpu := range gpus {
		require.Equal(t, []uint32{470, 470}, gpuTypeIDs(t, gpu))
		current, _, err := gpu.MigMode()
		require.NoError(t, err)
		require.Equal(t, types.MigEnabled, current)
		require.Len(t, mockDevice(server, i).GpuInstances, 2)
	}
}

func TestApplyConfigIdempotent(t *testing.T) {
	m, server, sys := newTestEnv()
	spec := testSpec()

	require.NoError(t, m.ApplyConfig(spec, "mig-all"))
	before := make(map[string]bool)
	for u := range sys.Mdevs {
		before[u.String()] = true
	}

	require.NoError(t, m.ApplyConfig(spec, "mig-all"))
	require.Len(t, sys.Mdevs, len(before))
	for u := range sys.Mdevs {
		require.True(t, before[u.String()], "partition '%v' was recreated", u)
	}
	require.Len(t, mockDevice(server, 0).GpuInstances, 2)
}

func TestApplyConfigSwitchesMode(t *testing.T) {
	m, server, _ := newTestEnv()
	spec := testSpec()

	require.NoError(t, m.ApplyConfig(spec, "mig-all"))
	require.NoError(t, m.ApplyConfig(spec, "mixed"))

	gpus, err := m.GPUs()
	require.NoError(t, err)
	defer releaseAll(gpus)

	require.Equal(t, []uint32{1}, gpuTypeIDs(t, gpus[0]))
	current, _, err := gpus[0].MigMode()
	require.NoError(t, err)
	require.Equal(t, types.MigDisabled, current)
	require.Empty(t, mockDevice(server, 0).GpuInstances)

	require.Equal(t, []uint32{474}, gpuTypeIDs(t, gpus[1]))
	current, _, err = gpus[1].MigMode()
	require.NoError(t, err)
	require.Equal(t, types.MigEnabled, current)
}

func TestApplyConfigLeavesUnmatchedGPUsAlone(t *testing.T) {
	m, _, _ := newTestEnv()
	spec := testSpec()

	require.NoError(t, m.ApplyConfig(spec, "mig-all"))
	require.NoError(t, m.ApplyConfig(spec, "first-only"))

	gpus, err := m.GPUs()
	require.NoError(t, err)
	defer releaseAll(gpus)

	require.Equal(t, []uint32{1}, gpuTypeIDs(t, gpus[0]))
	require.Equal(t, []uint32{470, 470}, gpuTypeIDs(t, gpus[1]))
}

func TestApplyConfigReset(t *testing.T) {
	m, server, sys := newTestEnv()
	spec := testSpec()

	require.NoError(t, m.ApplyConfig(spec, "mig-all"))
	require.NoError(t, m.ApplyConfig(spec, "reset"))

	require.Empty(t, sys.Mdevs)
	require.Empty(t, mockDevice(server, 0).GpuInstances)
	require.Empty(t, mockDevice(server, 1).GpuInstances)
}

func TestApplyConfigUnknownName(t *testing.T) {
	m, _, _ := newTestEnv()

	err := m.ApplyConfig(testSpec(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyConfigDeviceFilter(t *testing.T) {
	m, _, _ := newTestEnv()
	spec := &v1.Spec{
		Version: v1.Version,
		PartitionConfigs: map[string]v1.PartitionConfigSpecSlice{
			"other-hw": {
				{DeviceFilter: "0x1EB810DE", Devices: "all", Partitions: []uint32{1}},
			},
		},
	}

	require.NoError(t, m.ApplyConfig(spec, "other-hw"))

	gpus, err := m.GPUs()
	require.NoError(t, err)
	defer releaseAll(gpus)
	require.Empty(t, gpuTypeIDs(t, gpus[0]))
}
