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

package rest

import (
	"github.com/virtaccel/gpu-partd/pkg/types"
	"github.com/virtaccel/gpu-partd/pkg/vgpu"
)

// GPUModel is the wire representation of a GPU.
type GPUModel struct {
	UUID     string         `json:"uuid"`
	Name     string         `json:"name"`
	Address  string         `json:"address"`
	DeviceID types.DeviceID `json:"device_id"`
}

func gpuModel(gpu *vgpu.GPU) GPUModel {
	return GPUModel{
		UUID:     gpu.UUID,
		Name:     gpu.Name,
		Address:  gpu.BusID,
		DeviceID: gpu.DeviceID,
	}
}

// MigModeModel reports the current and pending MIG mode of a GPU. The two
// differ until the GPU is reset.
type MigModeModel struct {
	Current types.MigMode `json:"current"`
	Pending types.MigMode `json:"pending"`
}

// GPUInstanceModel is the wire representation of a MIG GPU instance.
type GPUInstanceModel struct {
	ID      int             `json:"id"`
	Profile types.GIProfile `json:"profile"`
}

func giModel(gi *vgpu.GPUInstance) GPUInstanceModel {
	return GPUInstanceModel{ID: gi.ID, Profile: gi.Profile}
}

// ComputeInstanceModel is the wire representation of a MIG compute instance.
type ComputeInstanceModel struct {
	ID          int             `json:"id"`
	Profile     types.CIProfile `json:"profile"`
	GPUInstance int             `json:"gpu_instance"`
}

func ciModel(gi *vgpu.GPUInstance, ci *vgpu.ComputeInstance) ComputeInstanceModel {
	return ComputeInstanceModel{ID: ci.ID, Profile: ci.Profile, GPUInstance: gi.ID}
}

// CapacityModel reports how many more instances of a profile fit on a GPU.
type CapacityModel struct {
	Capacity int `json:"capacity"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}
