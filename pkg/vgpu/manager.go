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

// Package vgpu implements GPU partition lifecycle on top of the NVML and
// sysfs layers: MIG-backed partitions get a dedicated GPU instance paired
// with their mediated device, time-shared partitions a mediated device
// alone, and the engine keeps the two views consistent.
package vgpu

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/virtaccel/gpu-partd/internal/nvml"
	"github.com/virtaccel/gpu-partd/internal/sysfs"
	"github.com/virtaccel/gpu-partd/pkg/types"
)

// Manager is the entry point to partition management. A zero Manager is not
// usable; construct one with New or NewManager.
type Manager struct {
	nvml  nvml.Interface
	sysfs sysfs.Interface
	lib   *libHandle
}

// New returns a Manager bound to the host's NVML library and /sys.
func New() *Manager {
	return NewManager(nvml.New(), sysfs.New())
}

// NewManager returns a Manager on explicit NVML and sysfs implementations.
func NewManager(nvmlLib nvml.Interface, sys sysfs.Interface) *Manager {
	return &Manager{
		nvml:  nvmlLib,
		sysfs: sys,
		lib:   &libHandle{nvml: nvmlLib},
	}
}

// GPUs returns all GPUs on the host. Each returned GPU holds a reference to
// the NVML library and must be released by the caller.
func (m *Manager) GPUs() ([]*GPU, error) {
	if err := m.lib.acquire(); err != nil {
		return nil, err
	}
	defer m.lib.release()

	count, ret := m.nvml.DeviceGetCount()
	if ret.Value() != nvml.SUCCESS {
		return nil, fmt.Errorf("error getting device count: %v", ret)
	}

	var gpus []*GPU
	for i := 0; i < count; i++ {
		device, ret := m.nvml.DeviceGetHandleByIndex(i)
		if ret.Value() != nvml.SUCCESS {
			releaseAll(gpus)
			return nil, fmt.Errorf("error getting handle for device %v: %v", i, ret)
		}
		gpu, err := m.newGPU(device)
		if err != nil {
			releaseAll(gpus)
			return nil, err
		}
		gpus = append(gpus, gpu)
	}
	return gpus, nil
}

// GPUByUUID returns the GPU with the given UUID. The returned GPU must be
// released by the caller.
func (m *Manager) GPUByUUID(uuid string) (*GPU, error) {
	if err := m.lib.acquire(); err != nil {
		return nil, err
	}
	defer m.lib.release()

	device, ret := m.nvml.DeviceGetHandleByUUID(uuid)
	if ret.Value() == nvml.ERROR_NOT_FOUND || ret.Value() == nvml.ERROR_INVALID_ARGUMENT {
		return nil, fmt.Errorf("GPU '%v': %w", uuid, ErrNotFound)
	}
	if ret.Value() != nvml.SUCCESS {
		return nil, fmt.Errorf("error getting handle for GPU '%v': %v", uuid, ret)
	}
	return m.newGPU(device)
}

// GPUByBusID returns the GPU at the given PCI address. The returned GPU
// must be released by the caller.
func (m *Manager) GPUByBusID(busID string) (*GPU, error) {
	if err := m.lib.acquire(); err != nil {
		return nil, err
	}
	defer m.lib.release()

	device, ret := m.nvml.DeviceGetHandleByPciBusId(busID)
	if ret.Value() == nvml.ERROR_NOT_FOUND || ret.Value() == nvml.ERROR_INVALID_ARGUMENT {
		return nil, fmt.Errorf("GPU at '%v': %w", busID, ErrNotFound)
	}
	if ret.Value() != nvml.SUCCESS {
		return nil, fmt.Errorf("error getting handle for GPU at '%v': %v", busID, ret)
	}
	return m.newGPU(device)
}

// PartitionByUUID resolves a partition from its mdev UUID, walking the
// kernel's parent chain back to the owning GPU. The partition holds a GPU
// reference; Release it when done.
func (m *Manager) PartitionByUUID(u uuid.UUID) (*Partition, error) {
	mdev, err := m.sysfs.MdevHandle(u)
	if err != nil {
		return nil, fmt.Errorf("partition '%v': %w", u, ErrNotFound)
	}

	parent, err := mdev.ParentDevice()
	if err != nil {
		return nil, err
	}
	if parent.IsVF() {
		parent, err = parent.Physfn()
		if err != nil {
			return nil, err
		}
	}

	gpu, err := m.GPUByBusID(parent.BusID())
	if err != nil {
		return nil, err
	}

	partition, err := gpu.partitionFromMdev(mdev)
	if err != nil {
		gpu.Release()
		return nil, err
	}
	partition.owns = true
	return partition, nil
}

// typeByID resolves a driver vGPU type id into a PartitionType.
func (m *Manager) typeByID(typeID int) (types.PartitionType, error) {
	name, ret := m.nvml.VgpuTypeGetName(typeID)
	if ret.Value() == nvml.ERROR_INVALID_ARGUMENT || ret.Value() == nvml.ERROR_NOT_FOUND {
		return types.PartitionType{}, fmt.Errorf("vGPU type %v: %w", typeID, ErrNotFound)
	}
	if ret.Value() != nvml.SUCCESS {
		return types.PartitionType{}, fmt.Errorf("error getting name of vGPU type %v: %v", typeID, ret)
	}
	class, ret := m.nvml.VgpuTypeGetClass(typeID)
	if ret.Value() != nvml.SUCCESS {
		return types.PartitionType{}, fmt.Errorf("error getting class of vGPU type %v: %v", typeID, ret)
	}
	fbSize, ret := m.nvml.VgpuTypeGetFramebufferSize(typeID)
	if ret.Value() != nvml.SUCCESS {
		return types.PartitionType{}, fmt.Errorf("error getting framebuffer size of vGPU type %v: %v", typeID, ret)
	}
	gipID, ret := m.nvml.VgpuTypeGetGpuInstanceProfileId(typeID)
	if ret.Value() != nvml.SUCCESS {
		return types.PartitionType{}, fmt.Errorf("error getting GPU instance profile of vGPU type %v: %v", typeID, ret)
	}
	return types.PartitionType{
		ID:          uint32(typeID),
		Name:        name,
		Class:       class,
		MemoryMB:    fbSize / (1024 * 1024),
		GIProfileID: gipID,
	}, nil
}

func releaseAll(gpus []*GPU) {
	for _, gpu := range gpus {
		gpu.Release()
	}
}
