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

	"github.com/virtaccel/gpu-partd/internal/nvml"
	"github.com/virtaccel/gpu-partd/pkg/types"
)

// GPUInstance is a live handle to one MIG GPU instance. It is valid while
// the owning GPU handle is held.
type GPUInstance struct {
	ID      int
	Profile types.GIProfile

	instance nvml.GpuInstance
	gpu      *GPU
}

// ComputeInstance is a live handle to one compute instance within a GPU
// instance.
type ComputeInstance struct {
	ID      int
	Profile types.CIProfile

	instance nvml.ComputeInstance
	parent   *GPUInstance
}

// SupportedGIProfiles returns the GPU instance profiles the GPU supports.
// Profiles the driver rejects for this chip are skipped, not errors.
func (g *GPU) SupportedGIProfiles() ([]types.GIProfile, error) {
	var profiles []types.GIProfile
	for p := 0; p < nvml.GPU_INSTANCE_PROFILE_COUNT; p++ {
		info, ret := g.device.GetGpuInstanceProfileInfo(p)
		if ret.Value() == nvml.ERROR_NOT_SUPPORTED || ret.Value() == nvml.ERROR_INVALID_ARGUMENT {
			continue
		}
		if ret.Value() != nvml.SUCCESS {
			return nil, fmt.Errorf("error getting GPU instance profile info for '%v': %v", p, ret)
		}
		profiles = append(profiles, giProfileFromInfo(p, info))
	}
	return profiles, nil
}

// GIProfileByID returns the GPU instance profile with the given driver id.
func (g *GPU) GIProfileByID(gipID uint32) (types.GIProfile, error) {
	enum, info, err := g.giProfileInfo(gipID)
	if err != nil {
		return types.GIProfile{}, err
	}
	return giProfileFromInfo(enum, info), nil
}

// GIRemainingCapacity returns how many more GPU instances of the given
// profile the GPU could create right now.
func (g *GPU) GIRemainingCapacity(gipID uint32) (int, error) {
	_, info, err := g.giProfileInfo(gipID)
	if err != nil {
		return 0, err
	}
	count, ret := g.device.GetGpuInstanceRemainingCapacity(&info)
	if ret.Value() != nvml.SUCCESS {
		return 0, fmt.Errorf("error getting remaining capacity of profile '%v' on GPU '%v': %v", gipID, g.UUID, ret)
	}
	return count, nil
}

// GPUInstances returns the GPU instances currently present on the GPU.
func (g *GPU) GPUInstances() ([]*GPUInstance, error) {
	current, _, err := g.MigMode()
	if err != nil {
		return nil, err
	}
	if current != types.MigEnabled {
		return nil, fmt.Errorf("GPU '%v': %w", g.UUID, ErrMigModeDisabled)
	}

	var instances []*GPUInstance
	for p := 0; p < nvml.GPU_INSTANCE_PROFILE_COUNT; p++ {
		info, ret := g.device.GetGpuInstanceProfileInfo(p)
		if ret.Value() == nvml.ERROR_NOT_SUPPORTED || ret.Value() == nvml.ERROR_INVALID_ARGUMENT {
			continue
		}
		if ret.Value() != nvml.SUCCESS {
			return nil, fmt.Errorf("error getting GPU instance profile info for '%v': %v", p, ret)
		}
		profile := giProfileFromInfo(p, info)

		gis, ret := g.device.GetGpuInstances(&info)
		if ret.Value() != nvml.SUCCESS {
			return nil, fmt.Errorf("error getting GPU instances of profile '%v' on GPU '%v': %v", profile, g.UUID, ret)
		}
		for _, gi := range gis {
			giInfo, ret := gi.GetInfo()
			if ret.Value() != nvml.SUCCESS {
				return nil, fmt.Errorf("error getting GPU instance info: %v", ret)
			}
			instances = append(instances, &GPUInstance{
				ID:       int(giInfo.Id),
				Profile:  profile,
				instance: gi,
				gpu:      g,
			})
		}
	}
	return instances, nil
}

// GPUInstanceByID returns the GPU instance with the given id.
func (g *GPU) GPUInstanceByID(id int) (*GPUInstance, error) {
	gi, ret := g.device.GetGpuInstanceById(id)
	if ret.Value() == nvml.ERROR_NOT_FOUND || ret.Value() == nvml.ERROR_INVALID_ARGUMENT {
		return nil, fmt.Errorf("GPU instance %v on GPU '%v': %w", id, g.UUID, ErrNotFound)
	}
	if ret.Value() != nvml.SUCCESS {
		return nil, fmt.Errorf("error getting GPU instance %v on GPU '%v': %v", id, g.UUID, ret)
	}
	giInfo, ret := gi.GetInfo()
	if ret.Value() != nvml.SUCCESS {
		return nil, fmt.Errorf("error getting GPU instance info: %v", ret)
	}
	profile, err := g.GIProfileByID(giInfo.ProfileId)
	if err != nil {
		return nil, err
	}
	return &GPUInstance{
		ID:       int(giInfo.Id),
		Profile:  profile,
		instance: gi,
		gpu:      g,
	}, nil
}

// CreateGPUInstance creates a GPU instance of the given profile together
// with its default compute instance spanning the whole slice budget.
func (g *GPU) CreateGPUInstance(gipID uint32) (*GPUInstance, error) {
	enum, info, err := g.giProfileInfo(gipID)
	if err != nil {
		return nil, err
	}

	gi, ret := g.device.CreateGpuInstance(&info)
	if ret.Value() == nvml.ERROR_INSUFFICIENT_SIZE || ret.Value() == nvml.ERROR_INSUFFICIENT_RESOURCES {
		return nil, fmt.Errorf("profile '%v' on GPU '%v': %w", gipID, g.UUID, ErrTypeUnavailable)
	}
	if ret.Value() != nvml.SUCCESS {
		return nil, fmt.Errorf("error creating GPU instance of profile '%v' on GPU '%v': %v", gipID, g.UUID, ret)
	}
	giInfo, ret := gi.GetInfo()
	if ret.Value() != nvml.SUCCESS {
		return nil, fmt.Errorf("error getting GPU instance info: %v", ret)
	}

	instance := &GPUInstance{
		ID:       int(giInfo.Id),
		Profile:  giProfileFromInfo(enum, info),
		instance: gi,
		gpu:      g,
	}
	// No rollback on a failed default compute instance: the GPU instance
	// stays behind for a later reconciliation pass to reclaim.
	if _, err := instance.createDefaultComputeInstance(); err != nil {
		return nil, err
	}
	return instance, nil
}

// createDefaultComputeInstance creates the compute instance that spans the
// GPU instance's whole slice budget, mirroring what the driver does for a
// freshly partitioned GPU.
func (gi *GPUInstance) createDefaultComputeInstance() (*ComputeInstance, error) {
	for p := 0; p < nvml.COMPUTE_INSTANCE_PROFILE_COUNT; p++ {
		info, ret := gi.instance.GetComputeInstanceProfileInfo(p, nvml.COMPUTE_INSTANCE_ENGINE_PROFILE_SHARED)
		if ret.Value() == nvml.ERROR_NOT_SUPPORTED || ret.Value() == nvml.ERROR_INVALID_ARGUMENT {
			continue
		}
		if ret.Value() != nvml.SUCCESS {
			return nil, fmt.Errorf("error getting compute instance profile info for '%v': %v", p, ret)
		}
		if info.SliceCount != gi.Profile.SliceCount {
			continue
		}
		return gi.createComputeInstance(info)
	}
	return nil, fmt.Errorf("GPU instance %v (%v): %w", gi.ID, gi.Profile, ErrCIProfileNotFound)
}

// CreateComputeInstance creates a compute instance of the given profile id
// within the GPU instance.
func (gi *GPUInstance) CreateComputeInstance(cipID uint32) (*ComputeInstance, error) {
	info, err := gi.ciProfileInfo(cipID)
	if err != nil {
		return nil, err
	}
	return gi.createComputeInstance(info)
}

func (gi *GPUInstance) createComputeInstance(info nvml.ComputeInstanceProfileInfo) (*ComputeInstance, error) {
	ci, ret := gi.instance.CreateComputeInstance(&info)
	if ret.Value() == nvml.ERROR_INSUFFICIENT_SIZE || ret.Value() == nvml.ERROR_INSUFFICIENT_RESOURCES {
		return nil, fmt.Errorf("compute profile '%v' in GPU instance %v: %w", info.Id, gi.ID, ErrTypeUnavailable)
	}
	if ret.Value() != nvml.SUCCESS {
		return nil, fmt.Errorf("error creating compute instance in GPU instance %v: %v", gi.ID, ret)
	}
	ciInfo, ret := ci.GetInfo()
	if ret.Value() != nvml.SUCCESS {
		return nil, fmt.Errorf("error getting compute instance info: %v", ret)
	}
	return &ComputeInstance{
		ID: int(ciInfo.Id),
		Profile: types.CIProfile{
			ID:         info.Id,
			SliceCount: info.SliceCount,
			Parent:     gi.Profile,
		},
		instance: ci,
		parent:   gi,
	}, nil
}

// SupportedCIProfiles returns the compute instance profiles available
// within the GPU instance.
func (gi *GPUInstance) SupportedCIProfiles() ([]types.CIProfile, error) {
	var profiles []types.CIProfile
	for p := 0; p < nvml.COMPUTE_INSTANCE_PROFILE_COUNT; p++ {
		info, ret := gi.instance.GetComputeInstanceProfileInfo(p, nvml.COMPUTE_INSTANCE_ENGINE_PROFILE_SHARED)
		if ret.Value() == nvml.ERROR_NOT_SUPPORTED || ret.Value() == nvml.ERROR_INVALID_ARGUMENT {
			continue
		}
		if ret.Value() != nvml.SUCCESS {
			return nil, fmt.Errorf("error getting compute instance profile info for '%v': %v", p, ret)
		}
		profiles = append(profiles, types.CIProfile{
			ID:         info.Id,
			SliceCount: info.SliceCount,
			Parent:     gi.Profile,
		})
	}
	return profiles, nil
}

// ComputeInstances returns the compute instances present in the GPU
// instance.
func (gi *GPUInstance) ComputeInstances() ([]*ComputeInstance, error) {
	var instances []*ComputeInstance
	for p := 0; p < nvml.COMPUTE_INSTANCE_PROFILE_COUNT; p++ {
		info, ret := gi.instance.GetComputeInstanceProfileInfo(p, nvml.COMPUTE_INSTANCE_ENGINE_PROFILE_SHARED)
		if ret.Value() == nvml.ERROR_NOT_SUPPORTED || ret.Value() == nvml.ERROR_INVALID_ARGUMENT {
			continue
		}
		if ret.Value() != nvml.SUCCESS {
			return nil, fmt.Errorf("error getting compute instance profile info for '%v': %v", p, ret)
		}
		cis, ret := gi.instance.GetComputeInstances(&info)
		if ret.Value() != nvml.SUCCESS {
			return nil, fmt.Errorf("error getting compute instances in GPU instance %v: %v", gi.ID, ret)
		}
		for _, ci := range cis {
			ciInfo, ret := ci.GetInfo()
			if ret.Value() != nvml.SUCCESS {
				return nil, fmt.Errorf("error getting compute instance info: %v", ret)
			}
			instances = append(instances, &ComputeInstance{
				ID: int(ciInfo.Id),
				Profile: types.CIProfile{
					ID:         info.Id,
					SliceCount: info.SliceCount,
					Parent:     gi.Profile,
				},
				instance: ci,
				parent:   gi,
			})
		}
	}
	return instances, nil
}

// Destroy removes the GPU instance, cascading over its compute instances
// first.
func (gi *GPUInstance) Destroy() error {
	cis, err := gi.ComputeInstances()
	if err != nil {
		return err
	}
	for _, ci := range cis {
		if err := ci.Destroy(); err != nil {
			return err
		}
	}
	if ret := gi.instance.Destroy(); ret.Value() != nvml.SUCCESS {
		return fmt.Errorf("error destroying GPU instance %v: %v", gi.ID, ret)
	}
	return nil
}

// Destroy removes the compute instance.
func (ci *ComputeInstance) Destroy() error {
	if ret := ci.instance.Destroy(); ret.Value() != nvml.SUCCESS {
		return fmt.Errorf("error destroying compute instance %v: %v", ci.ID, ret)
	}
	return nil
}

// ensureGPUInstances makes sure a GPU instance exists for the new partition
// type on top of those already claimed by existing partitions. Existing
// instances are paired off against existing partitions by profile; only a
// type with no unclaimed instance of its shape gets a new one.
func (g *GPU) ensureGPUInstances(typ types.PartitionType) error {
	partitions, err := g.Partitions()
	if err != nil {
		return err
	}
	instances, err := g.GPUInstances()
	if err != nil {
		return err
	}

	needed := make([]types.PartitionType, 0, len(partitions)+1)
	for _, p := range partitions {
		needed = append(needed, p.Type)
	}
	needed = append(needed, typ)

	for _, t := range needed {
		if !t.MIGBacked() {
			continue
		}
		claimed := -1
		for i, gi := range instances {
			if gi.Profile.ID == t.GIProfileID {
				claimed = i
				break
			}
		}
		if claimed >= 0 {
			instances = append(instances[:claimed], instances[claimed+1:]...)
			continue
		}
		if _, err := g.CreateGPUInstance(t.GIProfileID); err != nil {
			return err
		}
	}
	return nil
}

// maybeDestroyGPUInstance reclaims at most one GPU instance of the given
// type's profile, and only when more instances of that profile exist than
// partitions needing them. Instances backing VM-attached vGPUs are never
// touched.
func (g *GPU) maybeDestroyGPUInstance(typ types.PartitionType) error {
	instances, err := g.GPUInstances()
	if err != nil {
		return err
	}
	var candidates []*GPUInstance
	for _, gi := range instances {
		if gi.Profile.ID == typ.GIProfileID {
			candidates = append(candidates, gi)
		}
	}

	partitions, err := g.Partitions()
	if err != nil {
		return err
	}
	var dependents []*Partition
	for _, p := range partitions {
		if p.Type.GIProfileID == typ.GIProfileID {
			dependents = append(dependents, p)
		}
	}

	active, err := g.ActiveVgpus()
	if err != nil {
		return err
	}
	for _, v := range active {
		for i, gi := range candidates {
			if gi.ID == v.GpuInstanceID {
				candidates = append(candidates[:i], candidates[i+1:]...)
				break
			}
		}
		for i, p := range dependents {
			if p.Type.ID == v.Type.ID {
				dependents = append(dependents[:i], dependents[i+1:]...)
				break
			}
		}
	}

	if len(candidates) > len(dependents) {
		return candidates[0].Destroy()
	}
	return nil
}

func giProfileFromInfo(enum int, info nvml.GpuInstanceProfileInfo) types.GIProfile {
	return types.GIProfile{
		ID:          info.Id,
		SliceCount:  info.SliceCount,
		MemoryMB:    info.MemorySizeMB,
		MediaEngine: enum == nvml.GPU_INSTANCE_PROFILE_1_SLICE_REV1,
	}
}

// giProfileInfo scans the profile enum space for the profile with the
// given driver id.
func (g *GPU) giProfileInfo(gipID uint32) (int, nvml.GpuInstanceProfileInfo, error) {
	for p := 0; p < nvml.GPU_INSTANCE_PROFILE_COUNT; p++ {
		info, ret := g.device.GetGpuInstanceProfileInfo(p)
		if ret.Value() == nvml.ERROR_NOT_SUPPORTED || ret.Value() == nvml.ERROR_INVALID_ARGUMENT {
			continue
		}
		if ret.Value() != nvml.SUCCESS {
			return 0, nvml.GpuInstanceProfileInfo{}, fmt.Errorf("error getting GPU instance profile info for '%v': %v", p, ret)
		}
		if info.Id == gipID {
			return p, info, nil
		}
	}
	return 0, nvml.GpuInstanceProfileInfo{}, fmt.Errorf("GPU instance profile '%v' on GPU '%v': %w", gipID, g.UUID, ErrNotFound)
}

// ciProfileInfo scans the compute profile enum space for the profile with
// the given driver id.
func (gi *GPUInstance) ciProfileInfo(cipID uint32) (nvml.ComputeInstanceProfileInfo, error) {
	for p := 0; p < nvml.COMPUTE_INSTANCE_PROFILE_COUNT; p++ {
		info, ret := gi.instance.GetComputeInstanceProfileInfo(p, nvml.COMPUTE_INSTANCE_ENGINE_PROFILE_SHARED)
		if ret.Value() == nvml.ERROR_NOT_SUPPORTED || ret.Value() == nvml.ERROR_INVALID_ARGUMENT {
			continue
		}
		if ret.Value() != nvml.SUCCESS {
			return nvml.ComputeInstanceProfileInfo{}, fmt.Errorf("error getting compute instance profile info for '%v': %v", p, ret)
		}
		if info.Id == cipID {
			return info, nil
		}
	}
	return nvml.ComputeInstanceProfileInfo{}, fmt.Errorf("compute instance profile '%v' in GPU instance %v: %w", cipID, gi.ID, ErrNotFound)
}
