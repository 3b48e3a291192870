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
	"sync"

	"github.com/google/uuid"
)

// MockVgpuServer mocks a host with two SR-IOV capable, MIG capable GPUs
// whose driver exposes both time-shared and MIG-backed vGPU types.
type MockVgpuServer struct {
	sync.Mutex
	Devices       [2]Device
	InitCount     int
	ShutdownCount int
}

type MockVgpuDevice struct {
	UUID               string
	Name               string
	Index              int
	PciBusID           string
	PciDeviceID        uint32
	MigMode            int
	PendingMigMode     int
	HostVgpuMode       int
	SupportedVgpus     []int
	CreatableVgpus     []int
	ActiveVgpuList     []VgpuInstance
	GpuInstances       map[*MockGpuInstance]struct{}
	GpuInstanceCounter uint32
}

type MockGpuInstance struct {
	Info                   GpuInstanceInfo
	ComputeInstances       map[*MockComputeInstance]struct{}
	ComputeInstanceCounter uint32
}

type MockComputeInstance struct {
	Info ComputeInstanceInfo
}

type MockVgpuInstance struct {
	UUID          string
	TypeID        int
	GpuInstanceID int
}

var _ Interface = (*MockVgpuServer)(nil)
var _ Device = (*MockVgpuDevice)(nil)
var _ GpuInstance = (*MockGpuInstance)(nil)
var _ ComputeInstance = (*MockComputeInstance)(nil)
var _ VgpuInstance = (*MockVgpuInstance)(nil)

// MockVgpuTypeInfo describes one vGPU type known to the mock driver.
type MockVgpuTypeInfo struct {
	Name          string
	Class         string
	FramebufferMB uint64
	GIProfileID   uint32
}

// MockVgpuTypes is the mock driver's process-global vGPU type table.
// Types 1 and 2 are time-shared, the rest are MIG-backed.
var MockVgpuTypes = map[int]MockVgpuTypeInfo{
	1: {
		Name:          "GRID M-4Q",
		Class:         "Quadro",
		FramebufferMB: 4096,
		GIProfileID:   INVALID_GPU_INSTANCE_PROFILE_ID,
	},
	2: {
		Name:          "GRID M-8Q",
		Class:         "Quadro",
		FramebufferMB: 8192,
		GIProfileID:   INVALID_GPU_INSTANCE_PROFILE_ID,
	},
	470: {
		Name:          "GRID M-1-5C",
		Class:         "Compute",
		FramebufferMB: 5120,
		GIProfileID:   GPU_INSTANCE_PROFILE_1_SLICE,
	},
	471: {
		Name:          "GRID M-2-10C",
		Class:         "Compute",
		FramebufferMB: 10240,
		GIProfileID:   GPU_INSTANCE_PROFILE_2_SLICE,
	},
	472: {
		Name:          "GRID M-3-20C",
		Class:         "Compute",
		FramebufferMB: 20480,
		GIProfileID:   GPU_INSTANCE_PROFILE_3_SLICE,
	},
	474: {
		Name:          "GRID M-7-40C",
		Class:         "Compute",
		FramebufferMB: 40960,
		GIProfileID:   GPU_INSTANCE_PROFILE_7_SLICE,
	},
}

// MockMIGProfiles mirrors the GI and CI profile tables of an A100-40GB.
var MockMIGProfiles = struct {
	GpuInstanceProfiles     map[int]GpuInstanceProfileInfo
	ComputeInstanceProfiles map[int]map[int]ComputeInstanceProfileInfo
}{
	GpuInstanceProfiles: map[int]GpuInstanceProfileInfo{
		GPU_INSTANCE_PROFILE_1_SLICE: {
			Id:            GPU_INSTANCE_PROFILE_1_SLICE,
			SliceCount:    1,
			InstanceCount: 7,
			JpegCount:     0,
			MemorySizeMB:  5120,
		},
		GPU_INSTANCE_PROFILE_1_SLICE_REV1: {
			Id:            GPU_INSTANCE_PROFILE_1_SLICE_REV1,
			SliceCount:    1,
			InstanceCount: 1,
			JpegCount:     1,
			MemorySizeMB:  5120,
		},
		GPU_INSTANCE_PROFILE_2_SLICE: {
			Id:            GPU_INSTANCE_PROFILE_2_SLICE,
			SliceCount:    2,
			InstanceCount: 3,
			JpegCount:     0,
			MemorySizeMB:  10240,
		},
		GPU_INSTANCE_PROFILE_3_SLICE: {
			Id:            GPU_INSTANCE_PROFILE_3_SLICE,
			SliceCount:    3,
			InstanceCount: 2,
			JpegCount:     0,
			MemorySizeMB:  20480,
		},
		GPU_INSTANCE_PROFILE_4_SLICE: {
			Id:            GPU_INSTANCE_PROFILE_4_SLICE,
			SliceCount:    4,
			InstanceCount: 1,
			JpegCount:     0,
			MemorySizeMB:  20480,
		},
		GPU_INSTANCE_PROFILE_7_SLICE: {
			Id:            GPU_INSTANCE_PROFILE_7_SLICE,
			SliceCount:    7,
			InstanceCount: 1,
			JpegCount:     1,
			MemorySizeMB:  40960,
		},
	},
	ComputeInstanceProfiles: map[int]map[int]ComputeInstanceProfileInfo{
		GPU_INSTANCE_PROFILE_1_SLICE: {
			COMPUTE_INSTANCE_PROFILE_1_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_1_SLICE,
				SliceCount:    1,
				InstanceCount: 1,
			},
		},
		GPU_INSTANCE_PROFILE_1_SLICE_REV1: {
			COMPUTE_INSTANCE_PROFILE_1_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_1_SLICE,
				SliceCount:    1,
				InstanceCount: 1,
			},
		},
		GPU_INSTANCE_PROFILE_2_SLICE: {
			COMPUTE_INSTANCE_PROFILE_1_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_1_SLICE,
				SliceCount:    1,
				InstanceCount: 2,
			},
			COMPUTE_INSTANCE_PROFILE_2_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_2_SLICE,
				SliceCount:    2,
				InstanceCount: 1,
			},
		},
		GPU_INSTANCE_PROFILE_3_SLICE: {
			COMPUTE_INSTANCE_PROFILE_1_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_1_SLICE,
				SliceCount:    1,
				InstanceCount: 3,
			},
			COMPUTE_INSTANCE_PROFILE_2_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_2_SLICE,
				SliceCount:    2,
				InstanceCount: 1,
			},
			COMPUTE_INSTANCE_PROFILE_3_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_3_SLICE,
				SliceCount:    3,
				InstanceCount: 1,
			},
		},
		GPU_INSTANCE_PROFILE_4_SLICE: {
			COMPUTE_INSTANCE_PROFILE_1_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_1_SLICE,
				SliceCount:    1,
				InstanceCount: 4,
			},
			COMPUTE_INSTANCE_PROFILE_2_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_2_SLICE,
				SliceCount:    2,
				InstanceCount: 2,
			},
			COMPUTE_INSTANCE_PROFILE_4_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_4_SLICE,
				SliceCount:    4,
				InstanceCount: 1,
			},
		},
		GPU_INSTANCE_PROFILE_7_SLICE: {
			COMPUTE_INSTANCE_PROFILE_1_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_1_SLICE,
				SliceCount:    1,
				InstanceCount: 7,
			},
			COMPUTE_INSTANCE_PROFILE_2_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_2_SLICE,
				SliceCount:    2,
				InstanceCount: 3,
			},
			COMPUTE_INSTANCE_PROFILE_3_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_3_SLICE,
				SliceCount:    3,
				InstanceCount: 2,
			},
			COMPUTE_INSTANCE_PROFILE_4_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_4_SLICE,
				SliceCount:    4,
				InstanceCount: 1,
			},
			COMPUTE_INSTANCE_PROFILE_7_SLICE: {
				Id:            COMPUTE_INSTANCE_PROFILE_7_SLICE,
				SliceCount:    7,
				InstanceCount: 1,
			},
		},
	},
}

func mockSupportedVgpus() []int {
	return []int{1, 2, 470, 471, 472, 474}
}

func mockTimeSharedVgpus() []int {
	return []int{1, 2}
}

// NewMockVgpuServer mocks a two GPU host in SR-IOV vGPU mode.
func NewMockVgpuServer() *MockVgpuServer {
	return &MockVgpuServer{
		Devices: [2]Device{
			NewMockVgpuDevice(0, "0000:3b:00.0"),
			NewMockVgpuDevice(1, "0000:86:00.0"),
		},
	}
}

func NewMockVgpuDevice(index int, busID string) *MockVgpuDevice {
	return &MockVgpuDevice{
		UUID:           "GPU-" + uuid.New().String(),
		Name:           "Mock A100X-40GB",
		Index:          index,
		PciBusID:       busID,
		PciDeviceID:    0x20B010DE,
		MigMode:        DEVICE_MIG_DISABLE,
		PendingMigMode: DEVICE_MIG_DISABLE,
		HostVgpuMode:   HOST_VGPU_MODE_SRIOV,
		SupportedVgpus: mockSupportedVgpus(),
		CreatableVgpus: mockTimeSharedVgpus(),
		GpuInstances:   make(map[*MockGpuInstance]struct{}),
	}
}

func (n *MockVgpuServer) Init() Return {
	n.Lock()
	defer n.Unlock()
	n.InitCount++
	return MockReturn(SUCCESS)
}

func (n *MockVgpuServer) Shutdown() Return {
	n.Lock()
	defer n.Unlock()
	n.ShutdownCount++
	return MockReturn(SUCCESS)
}

func (n *MockVgpuServer) DeviceGetCount() (int, Return) {
	return len(n.Devices), MockReturn(SUCCESS)
}

func (n *MockVgpuServer) DeviceGetHandleByIndex(index int) (Device, Return) {
	if index < 0 || index >= len(n.Devices) {
		return nil, MockReturn(ERROR_INVALID_ARGUMENT)
	}
	return n.Devices[index], MockReturn(SUCCESS)
}

func (n *MockVgpuServer) DeviceGetHandleByUUID(uuid string) (Device, Return) {
	for _, d := range n.Devices {
		if uuid == d.(*MockVgpuDevice).UUID {
			return d, MockReturn(SUCCESS)
		}
	}
	return nil, MockReturn(ERROR_NOT_FOUND)
}

func (n *MockVgpuServer) DeviceGetHandleByPciBusId(busID string) (Device, Return) {
	for _, d := range n.Devices {
		if busID == d.(*MockVgpuDevice).PciBusID {
			return d, MockReturn(SUCCESS)
		}
	}
	return nil, MockReturn(ERROR_NOT_FOUND)
}

func (n *MockVgpuServer) VgpuTypeGetName(typeID int) (string, Return) {
	info, exists := MockVgpuTypes[typeID]
	if !exists {
		return "", MockReturn(ERROR_INVALID_ARGUMENT)
	}
	return info.Name, MockReturn(SUCCESS)
}

func (n *MockVgpuServer) VgpuTypeGetClass(typeID int) (string, Return) {
	info, exists := MockVgpuTypes[typeID]
	if !exists {
		return "", MockReturn(ERROR_INVALID_ARGUMENT)
	}
	return info.Class, MockReturn(SUCCESS)
}

func (n *MockVgpuServer) VgpuTypeGetFramebufferSize(typeID int) (uint64, Return) {
	info, exists := MockVgpuTypes[typeID]
	if !exists {
		return 0, MockReturn(ERROR_INVALID_ARGUMENT)
	}
	return info.FramebufferMB * 1024 * 1024, MockReturn(SUCCESS)
}

func (n *MockVgpuServer) VgpuTypeGetGpuInstanceProfileId(typeID int) (uint32, Return) {
	info, exists := MockVgpuTypes[typeID]
	if !exists {
		return 0, MockReturn(ERROR_INVALID_ARGUMENT)
	}
	return info.GIProfileID, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) GetUUID() (string, Return) {
	return d.UUID, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) GetName() (string, Return) {
	return d.Name, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) GetPciInfo() (PciInfo, Return) {
	p := PciInfo{
		PciDeviceId: d.PciDeviceID,
	}
	for i, c := range d.PciBusID {
		p.BusIdLegacy[i] = int8(c)
		p.BusId[i] = int8(c)
	}
	return p, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) GetMigMode() (int, int, Return) {
	return d.MigMode, d.PendingMigMode, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) SetMigMode(mode int) (Return, Return) {
	d.MigMode = mode
	d.PendingMigMode = mode
	return MockReturn(SUCCESS), MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) GetGpuInstanceProfileInfo(profile int) (GpuInstanceProfileInfo, Return) {
	if profile < 0 || profile >= GPU_INSTANCE_PROFILE_COUNT {
		return GpuInstanceProfileInfo{}, MockReturn(ERROR_INVALID_ARGUMENT)
	}

	info, exists := MockMIGProfiles.GpuInstanceProfiles[profile]
	if !exists {
		return GpuInstanceProfileInfo{}, MockReturn(ERROR_NOT_SUPPORTED)
	}

	return info, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) CreateGpuInstance(info *GpuInstanceProfileInfo) (GpuInstance, Return) {
	if remaining, _ := d.GetGpuInstanceRemainingCapacity(info); remaining == 0 {
		return nil, MockReturn(ERROR_INSUFFICIENT_SIZE)
	}
	giInfo := GpuInstanceInfo{
		Device:    d,
		Id:        d.GpuInstanceCounter,
		ProfileId: info.Id,
	}
	d.GpuInstanceCounter++
	gi := &MockGpuInstance{
		Info:             giInfo,
		ComputeInstances: make(map[*MockComputeInstance]struct{}),
	}
	d.GpuInstances[gi] = struct{}{}
	return gi, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) GetGpuInstances(info *GpuInstanceProfileInfo) ([]GpuInstance, Return) {
	var gis []GpuInstance
	for gi := range d.GpuInstances {
		if gi.Info.ProfileId == info.Id {
			gis = append(gis, gi)
		}
	}
	return gis, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) GetGpuInstanceById(id int) (GpuInstance, Return) {
	for gi := range d.GpuInstances {
		if gi.Info.Id == uint32(id) {
			return gi, MockReturn(SUCCESS)
		}
	}
	return nil, MockReturn(ERROR_NOT_FOUND)
}

func (d *MockVgpuDevice) GetGpuInstanceRemainingCapacity(info *GpuInstanceProfileInfo) (int, Return) {
	usedSlices := 0
	usedInstances := 0
	for gi := range d.GpuInstances {
		usedSlices += int(MockMIGProfiles.GpuInstanceProfiles[int(gi.Info.ProfileId)].SliceCount)
		if gi.Info.ProfileId == info.Id {
			usedInstances++
		}
	}

	remaining := int(info.InstanceCount) - usedInstances
	bySlices := (7 - usedSlices) / int(info.SliceCount)
	if bySlices < remaining {
		remaining = bySlices
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) GetSupportedVgpus() ([]int, Return) {
	return d.SupportedVgpus, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) GetCreatableVgpus() ([]int, Return) {
	return d.CreatableVgpus, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) GetActiveVgpus() ([]VgpuInstance, Return) {
	return d.ActiveVgpuList, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) GetHostVgpuMode() (int, Return) {
	return d.HostVgpuMode, MockReturn(SUCCESS)
}

func (d *MockVgpuDevice) VgpuTypeGetMaxInstances(typeID int) (int, Return) {
	info, exists := MockVgpuTypes[typeID]
	if !exists {
		return 0, MockReturn(ERROR_INVALID_ARGUMENT)
	}
	if info.GIProfileID != INVALID_GPU_INSTANCE_PROFILE_ID {
		return int(MockMIGProfiles.GpuInstanceProfiles[int(info.GIProfileID)].InstanceCount), MockReturn(SUCCESS)
	}
	return 16, MockReturn(SUCCESS)
}

func (gi *MockGpuInstance) GetInfo() (GpuInstanceInfo, Return) {
	return gi.Info, MockReturn(SUCCESS)
}

func (gi *MockGpuInstance) GetComputeInstanceProfileInfo(ciProfileID int, ciEngProfileID int) (ComputeInstanceProfileInfo, Return) {
	if ciProfileID < 0 || ciProfileID >= COMPUTE_INSTANCE_PROFILE_COUNT {
		return ComputeInstanceProfileInfo{}, MockReturn(ERROR_INVALID_ARGUMENT)
	}

	if ciEngProfileID != COMPUTE_INSTANCE_ENGINE_PROFILE_SHARED {
		return ComputeInstanceProfileInfo{}, MockReturn(ERROR_NOT_SUPPORTED)
	}

	giProfileID := int(gi.Info.ProfileId)

	info, exists := MockMIGProfiles.ComputeInstanceProfiles[giProfileID][ciProfileID]
	if !exists {
		return ComputeInstanceProfileInfo{}, MockReturn(ERROR_NOT_SUPPORTED)
	}

	return info, MockReturn(SUCCESS)
}

func (gi *MockGpuInstance) CreateComputeInstance(info *ComputeInstanceProfileInfo) (ComputeInstance, Return) {
	ciInfo := ComputeInstanceInfo{
		Device:      gi.Info.Device,
		GpuInstance: gi,
		Id:          gi.ComputeInstanceCounter,
		ProfileId:   info.Id,
	}
	gi.ComputeInstanceCounter++
	ci := &MockComputeInstance{Info: ciInfo}
	gi.ComputeInstances[ci] = struct{}{}
	return ci, MockReturn(SUCCESS)
}

func (gi *MockGpuInstance) GetComputeInstances(info *ComputeInstanceProfileInfo) ([]ComputeInstance, Return) {
	var cis []ComputeInstance
	for ci := range gi.ComputeInstances {
		if ci.Info.ProfileId == info.Id {
			cis = append(cis, ci)
		}
	}
	return cis, MockReturn(SUCCESS)
}

func (gi *MockGpuInstance) Destroy() Return {
	if len(gi.ComputeInstances) > 0 {
		return MockReturn(ERROR_IN_USE)
	}
	delete(gi.Info.Device.(*MockVgpuDevice).GpuInstances, gi)
	return MockReturn(SUCCESS)
}

func (ci *MockComputeInstance) GetInfo() (ComputeInstanceInfo, Return) {
	return ci.Info, MockReturn(SUCCESS)
}

func (ci *MockComputeInstance) Destroy() Return {
	delete(ci.Info.GpuInstance.(*MockGpuInstance).ComputeInstances, ci)
	return MockReturn(SUCCESS)
}

func (v *MockVgpuInstance) GetUUID() (string, Return) {
	return v.UUID, MockReturn(SUCCESS)
}

func (v *MockVgpuInstance) GetType() (int, Return) {
	return v.TypeID, MockReturn(SUCCESS)
}

func (v *MockVgpuInstance) GetGpuInstanceId() (int, Return) {
	return v.GpuInstanceID, MockReturn(SUCCESS)
}
