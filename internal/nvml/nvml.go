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
	"reflect"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

type nvmlLib struct {
	nvml.Interface

	sync.Mutex
	vgpuTypes map[int]nvml.VgpuTypeId
}

type nvmlDevice struct {
	nvml.Device
	lib *nvmlLib
}

type nvmlGpuInstance struct {
	nvml.GpuInstance
	lib *nvmlLib
}

type nvmlComputeInstance struct {
	nvml.ComputeInstance
}

type nvmlVgpuInstance struct {
	nvml.VgpuInstance
	lib *nvmlLib
}

var _ Interface = (*nvmlLib)(nil)
var _ Device = (*nvmlDevice)(nil)
var _ GpuInstance = (*nvmlGpuInstance)(nil)
var _ ComputeInstance = (*nvmlComputeInstance)(nil)
var _ VgpuInstance = (*nvmlVgpuInstance)(nil)

// New creates an Interface backed by the real NVML library.
func New() Interface {
	return &nvmlLib{
		Interface: nvml.New(),
		vgpuTypes: make(map[int]nvml.VgpuTypeId),
	}
}

// rawVgpuTypeId recovers the numeric vGPU type id from a library handle.
// go-nvml models type ids as an interface over an unexported integer; the
// underlying value is the same id the kernel exposes in the mdev type name
// ("nvidia-<id>"), so it is read back through reflection.
func rawVgpuTypeId(t nvml.VgpuTypeId) (int, bool) {
	v := reflect.ValueOf(t)
	if !v.CanUint() {
		return 0, false
	}
	return int(v.Uint()), true
}

// recordVgpuTypes caches the given type handles under their numeric ids
// and returns those ids, preserving order.
func (n *nvmlLib) recordVgpuTypes(handles []nvml.VgpuTypeId) []int {
	n.Lock()
	defer n.Unlock()
	var ids []int
	for _, h := range handles {
		id, ok := rawVgpuTypeId(h)
		if !ok {
			continue
		}
		n.vgpuTypes[id] = h
		ids = append(ids, id)
	}
	return ids
}

// vgpuTypeById resolves a numeric type id back to a library handle. On a
// cache miss every device's supported list is walked once; a type id is
// resolvable only if some device supports it.
func (n *nvmlLib) vgpuTypeById(typeID int) (nvml.VgpuTypeId, Return) {
	n.Lock()
	h, ok := n.vgpuTypes[typeID]
	n.Unlock()
	if ok {
		return h, nvmlReturn(nvml.SUCCESS)
	}

	count, ret := n.Interface.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	for i := 0; i < count; i++ {
		d, ret := n.Interface.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			continue
		}
		handles, ret := d.GetSupportedVgpus()
		if ret != nvml.SUCCESS {
			continue
		}
		n.recordVgpuTypes(handles)
	}

	n.Lock()
	h, ok = n.vgpuTypes[typeID]
	n.Unlock()
	if !ok {
		return nil, nvmlReturn(nvml.ERROR_NOT_FOUND)
	}
	return h, nvmlReturn(nvml.SUCCESS)
}

func (n *nvmlLib) Init() Return {
	return nvmlReturn(n.Interface.Init())
}

func (n *nvmlLib) Shutdown() Return {
	return nvmlReturn(n.Interface.Shutdown())
}

func (n *nvmlLib) DeviceGetCount() (int, Return) {
	c, ret := n.Interface.DeviceGetCount()
	return c, nvmlReturn(ret)
}

func (n *nvmlLib) DeviceGetHandleByIndex(index int) (Device, Return) {
	d, ret := n.Interface.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	return &nvmlDevice{d, n}, nvmlReturn(ret)
}

func (n *nvmlLib) DeviceGetHandleByUUID(uuid string) (Device, Return) {
	d, ret := n.Interface.DeviceGetHandleByUUID(uuid)
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	return &nvmlDevice{d, n}, nvmlReturn(ret)
}

func (n *nvmlLib) DeviceGetHandleByPciBusId(busID string) (Device, Return) {
	d, ret := n.Interface.DeviceGetHandleByPciBusId(busID)
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	return &nvmlDevice{d, n}, nvmlReturn(ret)
}

func (n *nvmlLib) VgpuTypeGetName(typeID int) (string, Return) {
	h, r := n.vgpuTypeById(typeID)
	if r.Value() != SUCCESS {
		return "", r
	}
	name, ret := h.GetName()
	return name, nvmlReturn(ret)
}

func (n *nvmlLib) VgpuTypeGetClass(typeID int) (string, Return) {
	h, r := n.vgpuTypeById(typeID)
	if r.Value() != SUCCESS {
		return "", r
	}
	class, ret := h.GetClass()
	return class, nvmlReturn(ret)
}

func (n *nvmlLib) VgpuTypeGetFramebufferSize(typeID int) (uint64, Return) {
	h, r := n.vgpuTypeById(typeID)
	if r.Value() != SUCCESS {
		return 0, r
	}
	size, ret := h.GetFramebufferSize()
	return size, nvmlReturn(ret)
}

func (n *nvmlLib) VgpuTypeGetGpuInstanceProfileId(typeID int) (uint32, Return) {
	h, r := n.vgpuTypeById(typeID)
	if r.Value() != SUCCESS {
		return 0, r
	}
	id, ret := h.GetGpuInstanceProfileId()
	return id, nvmlReturn(ret)
}

func (d *nvmlDevice) GetUUID() (string, Return) {
	uuid, ret := d.Device.GetUUID()
	return uuid, nvmlReturn(ret)
}

func (d *nvmlDevice) GetName() (string, Return) {
	name, ret := d.Device.GetName()
	return name, nvmlReturn(ret)
}

func (d *nvmlDevice) GetPciInfo() (PciInfo, Return) {
	info, ret := d.Device.GetPciInfo()
	return PciInfo(info), nvmlReturn(ret)
}

func (d *nvmlDevice) GetMigMode() (int, int, Return) {
	current, pending, ret := d.Device.GetMigMode()
	return current, pending, nvmlReturn(ret)
}

func (d *nvmlDevice) SetMigMode(mode int) (Return, Return) {
	r1, r2 := d.Device.SetMigMode(mode)
	return nvmlReturn(r1), nvmlReturn(r2)
}

func (d *nvmlDevice) GetGpuInstanceProfileInfo(profile int) (GpuInstanceProfileInfo, Return) {
	info, ret := d.Device.GetGpuInstanceProfileInfo(profile)
	return GpuInstanceProfileInfo(info), nvmlReturn(ret)
}

func (d *nvmlDevice) CreateGpuInstance(info *GpuInstanceProfileInfo) (GpuInstance, Return) {
	gi, ret := d.Device.CreateGpuInstance((*nvml.GpuInstanceProfileInfo)(info))
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	return &nvmlGpuInstance{gi, d.lib}, nvmlReturn(ret)
}

func (d *nvmlDevice) GetGpuInstances(info *GpuInstanceProfileInfo) ([]GpuInstance, Return) {
	gis, ret := d.Device.GetGpuInstances((*nvml.GpuInstanceProfileInfo)(info))
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	var result []GpuInstance
	for _, gi := range gis {
		result = append(result, &nvmlGpuInstance{gi, d.lib})
	}
	return result, nvmlReturn(ret)
}

func (d *nvmlDevice) GetGpuInstanceById(id int) (GpuInstance, Return) {
	gi, ret := d.Device.GetGpuInstanceById(id)
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	return &nvmlGpuInstance{gi, d.lib}, nvmlReturn(ret)
}

func (d *nvmlDevice) GetGpuInstanceRemainingCapacity(info *GpuInstanceProfileInfo) (int, Return) {
	count, ret := d.Device.GetGpuInstanceRemainingCapacity((*nvml.GpuInstanceProfileInfo)(info))
	return count, nvmlReturn(ret)
}

func (d *nvmlDevice) GetSupportedVgpus() ([]int, Return) {
	handles, ret := d.Device.GetSupportedVgpus()
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	return d.lib.recordVgpuTypes(handles), nvmlReturn(ret)
}

func (d *nvmlDevice) GetCreatableVgpus() ([]int, Return) {
	handles, ret := d.Device.GetCreatableVgpus()
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	return d.lib.recordVgpuTypes(handles), nvmlReturn(ret)
}

func (d *nvmlDevice) GetActiveVgpus() ([]VgpuInstance, Return) {
	instances, ret := d.Device.GetActiveVgpus()
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	var result []VgpuInstance
	for _, vgpu := range instances {
		result = append(result, &nvmlVgpuInstance{vgpu, d.lib})
	}
	return result, nvmlReturn(ret)
}

func (d *nvmlDevice) GetHostVgpuMode() (int, Return) {
	mode, ret := d.Device.GetHostVgpuMode()
	return int(mode), nvmlReturn(ret)
}

func (d *nvmlDevice) VgpuTypeGetMaxInstances(typeID int) (int, Return) {
	h, r := d.lib.vgpuTypeById(typeID)
	if r.Value() != SUCCESS {
		return 0, r
	}
	count, ret := h.GetMaxInstances(d.Device)
	return count, nvmlReturn(ret)
}

func (gi *nvmlGpuInstance) GetInfo() (GpuInstanceInfo, Return) {
	info, ret := gi.GpuInstance.GetInfo()
	if ret != nvml.SUCCESS {
		return GpuInstanceInfo{}, nvmlReturn(ret)
	}
	return GpuInstanceInfo{
		Device:    &nvmlDevice{info.Device, gi.lib},
		Id:        info.Id,
		ProfileId: info.ProfileId,
	}, nvmlReturn(ret)
}

func (gi *nvmlGpuInstance) GetComputeInstanceProfileInfo(profile int, engProfile int) (ComputeInstanceProfileInfo, Return) {
	info, ret := gi.GpuInstance.GetComputeInstanceProfileInfo(profile, engProfile)
	return ComputeInstanceProfileInfo(info), nvmlReturn(ret)
}

func (gi *nvmlGpuInstance) CreateComputeInstance(info *ComputeInstanceProfileInfo) (ComputeInstance, Return) {
	ci, ret := gi.GpuInstance.CreateComputeInstance((*nvml.ComputeInstanceProfileInfo)(info))
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	return &nvmlComputeInstance{ci}, nvmlReturn(ret)
}

func (gi *nvmlGpuInstance) GetComputeInstances(info *ComputeInstanceProfileInfo) ([]ComputeInstance, Return) {
	cis, ret := gi.GpuInstance.GetComputeInstances((*nvml.ComputeInstanceProfileInfo)(info))
	if ret != nvml.SUCCESS {
		return nil, nvmlReturn(ret)
	}
	var result []ComputeInstance
	for _, ci := range cis {
		result = append(result, &nvmlComputeInstance{ci})
	}
	return result, nvmlReturn(ret)
}

func (gi *nvmlGpuInstance) Destroy() Return {
	return nvmlReturn(gi.GpuInstance.Destroy())
}

func (ci *nvmlComputeInstance) GetInfo() (ComputeInstanceInfo, Return) {
	info, ret := ci.ComputeInstance.GetInfo()
	if ret != nvml.SUCCESS {
		return ComputeInstanceInfo{}, nvmlReturn(ret)
	}
	return ComputeInstanceInfo{
		Id:        info.Id,
		ProfileId: info.ProfileId,
	}, nvmlReturn(ret)
}

func (ci *nvmlComputeInstance) Destroy() Return {
	return nvmlReturn(ci.ComputeInstance.Destroy())
}

func (v *nvmlVgpuInstance) GetUUID() (string, Return) {
	uuid, ret := v.VgpuInstance.GetUUID()
	return uuid, nvmlReturn(ret)
}

func (v *nvmlVgpuInstance) GetType() (int, Return) {
	h, ret := v.VgpuInstance.GetType()
	if ret != nvml.SUCCESS {
		return 0, nvmlReturn(ret)
	}
	ids := v.lib.recordVgpuTypes([]nvml.VgpuTypeId{h})
	if len(ids) == 0 {
		return 0, nvmlReturn(nvml.ERROR_UNKNOWN)
	}
	return ids[0], nvmlReturn(ret)
}

func (v *nvmlVgpuInstance) GetGpuInstanceId() (int, Return) {
	id, ret := v.VgpuInstance.GetGpuInstanceId()
	return id, nvmlReturn(ret)
}
