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
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Interface is the subset of NVML consumed by the partition engine. The
// vGPU type queries take a raw type id because NVML models them as
// process-global lookups rather than device operations.
type Interface interface {
	Init() Return
	Shutdown() Return
	DeviceGetCount() (int, Return)
	DeviceGetHandleByIndex(Index int) (Device, Return)
	DeviceGetHandleByUUID(UUID string) (Device, Return)
	DeviceGetHandleByPciBusId(BusID string) (Device, Return)
	VgpuTypeGetName(TypeID int) (string, Return)
	VgpuTypeGetClass(TypeID int) (string, Return)
	VgpuTypeGetFramebufferSize(TypeID int) (uint64, Return)
	VgpuTypeGetGpuInstanceProfileId(TypeID int) (uint32, Return)
}

type Device interface {
	GetUUID() (string, Return)
	GetName() (string, Return)
	GetPciInfo() (PciInfo, Return)
	GetMigMode() (int, int, Return)
	SetMigMode(Mode int) (Return, Return)
	GetGpuInstanceProfileInfo(Profile int) (GpuInstanceProfileInfo, Return)
	CreateGpuInstance(Info *GpuInstanceProfileInfo) (GpuInstance, Return)
	GetGpuInstances(Info *GpuInstanceProfileInfo) ([]GpuInstance, Return)
	GetGpuInstanceById(ID int) (GpuInstance, Return)
	GetGpuInstanceRemainingCapacity(Info *GpuInstanceProfileInfo) (int, Return)
	GetSupportedVgpus() ([]int, Return)
	GetCreatableVgpus() ([]int, Return)
	GetActiveVgpus() ([]VgpuInstance, Return)
	GetHostVgpuMode() (int, Return)
	VgpuTypeGetMaxInstances(TypeID int) (int, Return)
}

type GpuInstance interface {
	GetInfo() (GpuInstanceInfo, Return)
	GetComputeInstanceProfileInfo(Profile int, EngProfile int) (ComputeInstanceProfileInfo, Return)
	CreateComputeInstance(Info *ComputeInstanceProfileInfo) (ComputeInstance, Return)
	GetComputeInstances(Info *ComputeInstanceProfileInfo) ([]ComputeInstance, Return)
	Destroy() Return
}

type ComputeInstance interface {
	GetInfo() (ComputeInstanceInfo, Return)
	Destroy() Return
}

// VgpuInstance is an active (VM-attached) vGPU as reported by the driver.
type VgpuInstance interface {
	GetUUID() (string, Return)
	GetType() (int, Return)
	GetGpuInstanceId() (int, Return)
}

type GpuInstanceInfo struct {
	Device    Device
	Id        uint32
	ProfileId uint32
}

type ComputeInstanceInfo struct {
	Device      Device
	GpuInstance GpuInstance
	Id          uint32
	ProfileId   uint32
}

type PciInfo nvml.PciInfo
type GpuInstanceProfileInfo nvml.GpuInstanceProfileInfo
type ComputeInstanceProfileInfo nvml.ComputeInstanceProfileInfo
