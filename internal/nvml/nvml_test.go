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

package nvml

import (
	"fmt"
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/NVIDIA/go-nvml/pkg/nvml/mock"
	"github.com/stretchr/testify/require"
)

// stubVgpuTypeId stands in for the library's unexported integer-backed
// vGPU type handle.
type stubVgpuTypeId uint32

func (t stubVgpuTypeId) GetCapabilities(nvml.VgpuCapability) (bool, nvml.Return) {
	return false, nvml.ERROR_NOT_SUPPORTED
}

func (t stubVgpuTypeId) GetClass() (string, nvml.Return) {
	return "Compute", nvml.SUCCESS
}

func (t stubVgpuTypeId) GetCreatablePlacements(nvml.Device) (nvml.VgpuPlacementList, nvml.Return) {
	return nvml.VgpuPlacementList{}, nvml.ERROR_NOT_SUPPORTED
}

func (t stubVgpuTypeId) GetDeviceID() (uint64, uint64, nvml.Return) {
	return 0, 0, nvml.ERROR_NOT_SUPPORTED
}

func (t stubVgpuTypeId) GetFrameRateLimit() (uint32, nvml.Return) {
	return 0, nvml.ERROR_NOT_SUPPORTED
}

func (t stubVgpuTypeId) GetFramebufferSize() (uint64, nvml.Return) {
	return 4096, nvml.SUCCESS
}

func (t stubVgpuTypeId) GetGpuInstanceProfileId() (uint32, nvml.Return) {
	return INVALID_GPU_INSTANCE_PROFILE_ID, nvml.SUCCESS
}

func (t stubVgpuTypeId) GetLicense() (string, nvml.Return) {
	return "", nvml.ERROR_NOT_SUPPORTED
}

func (t stubVgpuTypeId) GetMaxInstances(nvml.Device) (int, nvml.Return) {
	return 4, nvml.SUCCESS
}

func (t stubVgpuTypeId) GetMaxInstancesPerVm() (int, nvml.Return) {
	return 0, nvml.ERROR_NOT_SUPPORTED
}

func (t stubVgpuTypeId) GetName() (string, nvml.Return) {
	return fmt.Sprintf("NVIDIA TEST-%d", uint32(t)), nvml.SUCCESS
}

func (t stubVgpuTypeId) GetNumDisplayHeads() (int, nvml.Return) {
	return 0, nvml.ERROR_NOT_SUPPORTED
}

func (t stubVgpuTypeId) GetResolution(int) (uint32, uint32, nvml.Return) {
	return 0, 0, nvml.ERROR_NOT_SUPPORTED
}

func (t stubVgpuTypeId) GetSupportedPlacements(nvml.Device) (nvml.VgpuPlacementList, nvml.Return) {
	return nvml.VgpuPlacementList{}, nvml.ERROR_NOT_SUPPORTED
}

// opaqueVgpuTypeId implements the handle interface without an integer
// underneath it.
type opaqueVgpuTypeId struct {
	stubVgpuTypeId
}

func TestRawVgpuTypeId(t *testing.T) {
	testCases := []struct {
		description string
		handle      nvml.VgpuTypeId
		expectedID  int
		expectedOK  bool
	}{
		{
			"Integer backed handle",
			stubVgpuTypeId(472),
			472,
			true,
		},
		{
			"Non-integer handle",
			opaqueVgpuTypeId{stubVgpuTypeId(472)},
			0,
			false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			id, ok := rawVgpuTypeId(tc.handle)
			require.Equal(t, tc.expectedOK, ok)
			require.Equal(t, tc.expectedID, id)
		})
	}
}

func newStubLib(supported ...stubVgpuTypeId) *nvmlLib {
	device := &mock.Device{
		GetSupportedVgpusFunc: func() ([]nvml.VgpuTypeId, nvml.Return) {
			var handles []nvml.VgpuTypeId
			for _, s := range supported {
				handles = append(handles, s)
			}
			return handles, nvml.SUCCESS
		},
	}
	return &nvmlLib{
		Interface: &mock.Interface{
			DeviceGetCountFunc: func() (int, nvml.Return) {
				return 1, nvml.SUCCESS
			},
			DeviceGetHandleByIndexFunc: func(index int) (nvml.Device, nvml.Return) {
				return device, nvml.SUCCESS
			},
		},
		vgpuTypes: make(map[int]nvml.VgpuTypeId),
	}
}

func TestVgpuTypeQueries(t *testing.T) {
	lib := newStubLib(472, 473)

	device, ret := lib.DeviceGetHandleByIndex(0)
	require.Equal(t, SUCCESS, ret.Value())

	ids, ret := device.GetSupportedVgpus()
	require.Equal(t, SUCCESS, ret.Value())
	require.Equal(t, []int{472, 473}, ids)

	name, ret := lib.VgpuTypeGetName(472)
	require.Equal(t, SUCCESS, ret.Value())
	require.Equal(t, "NVIDIA TEST-472", name)

	size, ret := lib.VgpuTypeGetFramebufferSize(473)
	require.Equal(t, SUCCESS, ret.Value())
	require.Equal(t, uint64(4096), size)

	count, ret := device.VgpuTypeGetMaxInstances(472)
	require.Equal(t, SUCCESS, ret.Value())
	require.Equal(t, 4, count)

	_, ret = lib.VgpuTypeGetName(9999)
	require.Equal(t, ERROR_NOT_FOUND, ret.Value())
}

func TestVgpuTypeLazyLookup(t *testing.T) {
	// Metadata queries must work even when no supported-type enumeration
	// happened on this handle yet.
	lib := newStubLib(472)

	name, ret := lib.VgpuTypeGetName(472)
	require.Equal(t, SUCCESS, ret.Value())
	require.Equal(t, "NVIDIA TEST-472", name)
}

func TestVgpuInstanceTypeMapping(t *testing.T) {
	active := &mock.VgpuInstance{
		GetTypeFunc: func() (nvml.VgpuTypeId, nvml.Return) {
			return stubVgpuTypeId(472), nvml.SUCCESS
		},
	}
	lib := newStubLib(472)
	lib.Interface = &mock.Interface{
		DeviceGetHandleByIndexFunc: func(index int) (nvml.Device, nvml.Return) {
			return &mock.Device{
				GetActiveVgpusFunc: func() ([]nvml.VgpuInstance, nvml.Return) {
					return []nvml.VgpuInstance{active}, nvml.SUCCESS
				},
			}, nvml.SUCCESS
		},
	}

	device, ret := lib.DeviceGetHandleByIndex(0)
	require.Equal(t, SUCCESS, ret.Value())

	instances, ret := device.GetActiveVgpus()
	require.Equal(t, SUCCESS, ret.Value())
	require.Len(t, instances, 1)

	typeID, ret := instances[0].GetType()
	require.Equal(t, SUCCESS, ret.Value())
	require.Equal(t, 472, typeID)
}
