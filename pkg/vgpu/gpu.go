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
	"fmt"
	"strings"

	"github.com/virtaccel/gpu-partd/internal/nvml"
	"github.com/virtaccel/gpu-partd/internal/sysfs"
	"github.com/virtaccel/gpu-partd/pkg/types"
)

// GPU is a live handle to one physical GPU. It pins the NVML library while
// held and must be released with Release.
type GPU struct {
	UUID     string
	Name     string
	BusID    string
	DeviceID types.DeviceID

	device nvml.Device
	m      *Manager
}

// ActiveVgpu is a VM-attached vGPU as reported by the driver, paired with
// the GPU instance backing it when the partition is MIG-backed.
type ActiveVgpu struct {
	UUID          string
	Type          types.PartitionType
	GpuInstanceID int
}

func (m *Manager) newGPU(device nvml.Device) (*GPU, error) {
	if err := m.lib.acquire(); err != nil {
		return nil, err
	}

	g := &GPU{device: device, m: m}

	var ret nvml.Return
	g.UUID, ret = device.GetUUID()
	if ret.Value() != nvml.SUCCESS {
		m.lib.release()
		return nil, fmt.Errorf("error getting GPU UUID: %v", ret)
	}
	g.Name, ret = device.GetName()
	if ret.Value() != nvml.SUCCESS {
		m.lib.release()
		return nil, fmt.Errorf("error getting GPU name: %v", ret)
	}
	pciInfo, ret := device.GetPciInfo()
	if ret.Value() != nvml.SUCCESS {
		m.lib.release()
		return nil, fmt.Errorf("error getting PCI info: %v", ret)
	}
	g.BusID = parseBusID(pciInfo.BusIdLegacy)
	g.DeviceID = types.DeviceID(pciInfo.PciDeviceId)

	return g, nil
}

// Release drops the GPU's reference to the NVML library. The handle must
// not be used afterwards.
func (g *GPU) Release() error {
	return g.m.lib.release()
}

// MigMode returns the GPU's current and pending MIG modes. The pending
// value differs from the current one when a mode change is waiting on a
// device reset.
func (g *GPU) MigMode() (types.MigMode, types.MigMode, error) {
	current, pending, ret := g.device.GetMigMode()
	if ret.Value() != nvml.SUCCESS {
		return 0, 0, fmt.Errorf("error getting MIG mode of GPU '%v': %v", g.UUID, ret)
	}
	return migModeFromNvml(current), migModeFromNvml(pending), nil
}

// SetMigMode changes the GPU's MIG mode. The change is refused while any
// partition exists on the GPU.
func (g *GPU) SetMigMode(mode types.MigMode) error {
	partitions, err := g.Partitions()
	if err != nil {
		return err
	}
	if len(partitions) > 0 {
		return fmt.Errorf("GPU '%v' has %v partitions: %w", g.UUID, len(partitions), ErrModeChangeBlocked)
	}
	return g.setMigMode(mode)
}

func (g *GPU) setMigMode(mode types.MigMode) error {
	nvmlMode := nvml.DEVICE_MIG_DISABLE
	if mode == types.MigEnabled {
		nvmlMode = nvml.DEVICE_MIG_ENABLE
	}
	ret, activationStatus := g.device.SetMigMode(nvmlMode)
	if ret.Value() != nvml.SUCCESS {
		return fmt.Errorf("error setting MIG mode of GPU '%v': %v", g.UUID, ret)
	}
	if activationStatus.Value() != nvml.SUCCESS {
		return fmt.Errorf("error activating MIG mode of GPU '%v': %v", g.UUID, activationStatus)
	}
	return nil
}

// SupportedTypes returns every vGPU type the GPU can ever instantiate,
// regardless of its current mode and allocations.
func (g *GPU) SupportedTypes() ([]types.PartitionType, error) {
	typeIDs, ret := g.device.GetSupportedVgpus()
	if ret.Value() != nvml.SUCCESS {
		return nil, fmt.Errorf("error getting supported vGPU types of GPU '%v': %v", g.UUID, ret)
	}
	return g.m.typesByID(typeIDs)
}

// CreatableTypes returns the vGPU types that could be instantiated right
// now. With no mdevs created the GPU is not pinned to either mode yet and
// every supported type is creatable. Otherwise, with MIG mode on, that is
// the MIG-backed types whose GPU instance profile still has remaining
// capacity; with it off, whatever the driver reports as creatable.
func (g *GPU) CreatableTypes() ([]types.PartitionType, error) {
	partitions, err := g.Partitions()
	if err != nil {
		return nil, err
	}
	if len(partitions) == 0 {
		return g.SupportedTypes()
	}

	current, _, err := g.MigMode()
	if err != nil {
		return nil, err
	}

	if current != types.MigEnabled {
		typeIDs, ret := g.device.GetCreatableVgpus()
		if ret.Value() != nvml.SUCCESS {
			return nil, fmt.Errorf("error getting creatable vGPU types of GPU '%v': %v", g.UUID, ret)
		}
		return g.m.typesByID(typeIDs)
	}

	supported, err := g.SupportedTypes()
	if err != nil {
		return nil, err
	}
	var creatable []types.PartitionType
	for _, t := range supported {
		if !t.MIGBacked() {
			continue
		}
		capacity, err := g.GIRemainingCapacity(t.GIProfileID)
		if err != nil {
			return nil, err
		}
		if capacity > 0 {
			creatable = append(creatable, t)
		}
	}
	return creatable, nil
}

// TypeSupported reports whether the GPU supports the given vGPU type.
func (g *GPU) TypeSupported(typeID uint32) (bool, error) {
	typeIDs, ret := g.device.GetSupportedVgpus()
	if ret.Value() != nvml.SUCCESS {
		return false, fmt.Errorf("error getting supported vGPU types of GPU '%v': %v", g.UUID, ret)
	}
	for _, id := range typeIDs {
		if uint32(id) == typeID {
			return true, nil
		}
	}
	return false, nil
}

// ActiveVgpus returns the vGPUs currently attached to running VMs.
func (g *GPU) ActiveVgpus() ([]ActiveVgpu, error) {
	instances, ret := g.device.GetActiveVgpus()
	if ret.Value() != nvml.SUCCESS {
		return nil, fmt.Errorf("error getting active vGPUs of GPU '%v': %v", g.UUID, ret)
	}

	var active []ActiveVgpu
	for _, instance := range instances {
		uuid, ret := instance.GetUUID()
		if ret.Value() != nvml.SUCCESS {
			return nil, fmt.Errorf("error getting active vGPU UUID: %v", ret)
		}
		typeID, ret := instance.GetType()
		if ret.Value() != nvml.SUCCESS {
			return nil, fmt.Errorf("error getting active vGPU type: %v", ret)
		}
		typ, err := g.m.typeByID(typeID)
		if err != nil {
			return nil, err
		}
		giID := -1
		if typ.MIGBacked() {
			giID, ret = instance.GetGpuInstanceId()
			if ret.Value() != nvml.SUCCESS {
				return nil, fmt.Errorf("error getting active vGPU GPU instance: %v", ret)
			}
		}
		active = append(active, ActiveVgpu{UUID: uuid, Type: typ, GpuInstanceID: giID})
	}
	return active, nil
}

// SriovMode reports whether the GPU operates its vGPUs through SR-IOV
// virtual functions.
func (g *GPU) SriovMode() (bool, error) {
	mode, ret := g.device.GetHostVgpuMode()
	if ret.Value() == nvml.ERROR_NOT_SUPPORTED {
		return false, nil
	}
	if ret.Value() != nvml.SUCCESS {
		return false, fmt.Errorf("error getting host vGPU mode of GPU '%v': %v", g.UUID, ret)
	}
	return mode == nvml.HOST_VGPU_MODE_SRIOV, nil
}

func (g *GPU) deviceHandle() (sysfs.DeviceHandle, error) {
	return g.m.sysfs.DeviceHandle(g.BusID)
}

func (m *Manager) typesByID(typeIDs []int) ([]types.PartitionType, error) {
	var partitionTypes []types.PartitionType
	for _, id := range typeIDs {
		t, err := m.typeByID(id)
		if err != nil {
			return nil, err
		}
		partitionTypes = append(partitionTypes, t)
	}
	return partitionTypes, nil
}

func migModeFromNvml(mode int) types.MigMode {
	if mode == nvml.DEVICE_MIG_ENABLE {
		return types.MigEnabled
	}
	return types.MigDisabled
}

// parseBusID converts NVML's fixed-size PCI bus id into the lowercase form
// sysfs uses for device directories.
func parseBusID(busID [16]int8) string {
	var b strings.Builder
	for _, c := range busID {
		if c == 0 {
			break
		}
		b.WriteByte(byte(c))
	}
	return strings.ToLower(b.String())
}
