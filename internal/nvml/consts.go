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

// Return values mirror the numeric NVML return codes so that values coming
// out of the real library and out of mocks compare equal.
const (
	SUCCESS                      = 0
	ERROR_UNINITIALIZED          = 1
	ERROR_INVALID_ARGUMENT       = 2
	ERROR_NOT_SUPPORTED          = 3
	ERROR_NO_PERMISSION          = 4
	ERROR_NOT_FOUND              = 6
	ERROR_INSUFFICIENT_SIZE      = 7
	ERROR_IN_USE                 = 19
	ERROR_INSUFFICIENT_RESOURCES = 23
	ERROR_UNKNOWN                = 999
)

const (
	DEVICE_MIG_DISABLE = 0
	DEVICE_MIG_ENABLE  = 1
)

const (
	GPU_INSTANCE_PROFILE_COUNT             = 15
	COMPUTE_INSTANCE_PROFILE_COUNT         = 8
	COMPUTE_INSTANCE_ENGINE_PROFILE_SHARED = 0
	COMPUTE_INSTANCE_ENGINE_PROFILE_COUNT  = 1
)

const (
	HOST_VGPU_MODE_NON_SRIOV = 0
	HOST_VGPU_MODE_SRIOV     = 1
)

// INVALID_GPU_INSTANCE_PROFILE_ID is reported as the GPU instance profile
// of vGPU types that are not MIG-backed.
const INVALID_GPU_INSTANCE_PROFILE_ID = 0xFFFFFFFF

const (
	GPU_INSTANCE_PROFILE_1_SLICE      = 0x0
	GPU_INSTANCE_PROFILE_2_SLICE      = 0x1
	GPU_INSTANCE_PROFILE_3_SLICE      = 0x2
	GPU_INSTANCE_PROFILE_4_SLICE      = 0x3
	GPU_INSTANCE_PROFILE_7_SLICE      = 0x4
	GPU_INSTANCE_PROFILE_8_SLICE      = 0x5
	GPU_INSTANCE_PROFILE_6_SLICE      = 0x6
	GPU_INSTANCE_PROFILE_1_SLICE_REV1 = 0x7
)

const (
	COMPUTE_INSTANCE_PROFILE_1_SLICE = 0x0
	COMPUTE_INSTANCE_PROFILE_2_SLICE = 0x1
	COMPUTE_INSTANCE_PROFILE_3_SLICE = 0x2
	COMPUTE_INSTANCE_PROFILE_4_SLICE = 0x3
	COMPUTE_INSTANCE_PROFILE_7_SLICE = 0x4
	COMPUTE_INSTANCE_PROFILE_8_SLICE = 0x5
	COMPUTE_INSTANCE_PROFILE_6_SLICE = 0x6
)
