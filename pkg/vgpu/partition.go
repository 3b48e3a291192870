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
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/virtaccel/gpu-partd/internal/sysfs"
	"github.com/virtaccel/gpu-partd/pkg/types"
)

// Partition is a live handle to one mediated device. Partitions returned
// by GPU.Partitions are valid while that GPU handle is held; those from
// Manager.PartitionByUUID own a GPU reference and must be Released.
type Partition struct {
	UUID uuid.UUID
	Type types.PartitionType

	gpu  *GPU
	mdev sysfs.MdevHandle
	owns bool
}

// GPU returns the GPU the partition lives on.
func (p *Partition) GPU() *GPU {
	return p.gpu
}

// Release drops the GPU reference held by a partition resolved through
// Manager.PartitionByUUID. It is a no-op for partitions enumerated off a
// caller-held GPU.
func (p *Partition) Release() error {
	if !p.owns {
		return nil
	}
	p.owns = false
	return p.gpu.Release()
}

// ToWire returns the partition's wire representation.
func (p *Partition) ToWire() types.Partition {
	return types.Partition{UUID: p.UUID, Type: p.Type}
}

// Partitions returns every partition on the GPU: mediated devices created
// directly on the physical function plus, when SR-IOV is active, those on
// each virtual function.
func (g *GPU) Partitions() ([]*Partition, error) {
	dev, err := g.deviceHandle()
	if err != nil {
		return nil, err
	}

	var partitions []*Partition
	mdevs, err := dev.MdevDevices()
	if err != nil {
		return nil, err
	}
	for _, mdev := range mdevs {
		p, err := g.partitionFromMdev(mdev)
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, p)
	}

	active, err := dev.SriovActive()
	if err != nil {
		return nil, err
	}
	if active {
		vfs, err := dev.SriovVFs()
		if err != nil {
			return nil, err
		}
		for _, vf := range vfs {
			mdevs, err := vf.MdevDevices()
			if err != nil {
				return nil, err
			}
			for _, mdev := range mdevs {
				p, err := g.partitionFromMdev(mdev)
				if err != nil {
					return nil, err
				}
				partitions = append(partitions, p)
			}
		}
	}
	return partitions, nil
}

// PartitionByUUID returns the partition with the given mdev UUID on this
// GPU.
func (g *GPU) PartitionByUUID(u uuid.UUID) (*Partition, error) {
	partitions, err := g.Partitions()
	if err != nil {
		return nil, err
	}
	for _, p := range partitions {
		if p.UUID == u {
			return p, nil
		}
	}
	return nil, fmt.Errorf("partition '%v' on GPU '%v': %w", u, g.UUID, ErrNotFound)
}

// CreatePartition creates a partition of the given vGPU type on the GPU,
// converging MIG mode and GPU instances as needed. The mode is switched
// only when no partition exists; otherwise a mismatch is a conflict.
func (g *GPU) CreatePartition(typeID uint32) (*Partition, error) {
	typ, err := g.m.typeByID(int(typeID))
	if err != nil {
		return nil, err
	}
	supported, err := g.TypeSupported(typeID)
	if err != nil {
		return nil, err
	}
	if !supported {
		return nil, fmt.Errorf("vGPU type %v not supported by GPU '%v': %w", typeID, g.UUID, ErrTypeUnavailable)
	}

	requiredMode := types.MigDisabled
	if typ.MIGBacked() {
		requiredMode = types.MigEnabled
	}
	current, _, err := g.MigMode()
	if err != nil {
		return nil, err
	}
	if current != requiredMode {
		partitions, err := g.Partitions()
		if err != nil {
			return nil, err
		}
		if len(partitions) > 0 {
			return nil, fmt.Errorf("GPU '%v' needs MIG mode %v for type %v: %w", g.UUID, requiredMode, typeID, ErrModeChangeBlocked)
		}
		if err := g.setMigMode(requiredMode); err != nil {
			return nil, err
		}
	}

	if typ.MIGBacked() {
		if err := g.ensureGPUInstances(typ); err != nil {
			return nil, err
		}
	}

	parent, err := g.mdevParent()
	if err != nil {
		return nil, err
	}

	available, err := parent.AvailableInstances(typ.MdevType())
	if err != nil {
		if errors.Is(err, sysfs.ErrMdevTypeNotSupported) {
			return nil, fmt.Errorf("vGPU type %v on GPU '%v': %w", typeID, g.UUID, ErrTypeUnavailable)
		}
		return nil, err
	}
	if available <= 0 {
		return nil, fmt.Errorf("vGPU type %v exhausted on GPU '%v': %w", typeID, g.UUID, ErrTypeUnavailable)
	}

	u := uuid.New()
	if err := parent.CreateMdev(typ.MdevType(), u); err != nil {
		return nil, err
	}
	mdev, err := g.m.sysfs.MdevHandle(u)
	if err != nil {
		return nil, err
	}
	return &Partition{UUID: u, Type: typ, gpu: g, mdev: mdev}, nil
}

// Destroy removes the partition's mediated device and, for MIG-backed
// types, reclaims a surplus GPU instance if one is left over.
func (p *Partition) Destroy() error {
	if err := p.mdev.Remove(); err != nil {
		return err
	}
	if p.Type.MIGBacked() {
		return p.gpu.maybeDestroyGPUInstance(p.Type)
	}
	return nil
}

// mdevParent picks the device mdevs get created on: the GPU itself in
// legacy mode, a free virtual function in SR-IOV mode. SR-IOV is switched
// on first if it is not yet active.
func (g *GPU) mdevParent() (sysfs.DeviceHandle, error) {
	dev, err := g.deviceHandle()
	if err != nil {
		return nil, err
	}

	sriov, err := g.SriovMode()
	if err != nil {
		return nil, err
	}
	if !sriov {
		if !dev.MdevSupported() {
			return nil, fmt.Errorf("GPU '%v' is not mdev capable: %w", g.UUID, ErrTypeUnavailable)
		}
		return dev, nil
	}

	active, err := dev.SriovActive()
	if err != nil {
		return nil, err
	}
	if !active {
		if err := g.SetSriovEnabled(true); err != nil {
			return nil, err
		}
	}
	vf, err := dev.SriovAvailableVF()
	if err != nil {
		if errors.Is(err, sysfs.ErrNoAvailableVF) {
			return nil, fmt.Errorf("GPU '%v': %w", g.UUID, ErrNoAvailableVF)
		}
		return nil, err
	}
	return vf, nil
}

func (g *GPU) partitionFromMdev(mdev sysfs.MdevHandle) (*Partition, error) {
	mdevType, err := mdev.MdevType()
	if err != nil {
		return nil, err
	}
	typeID, err := parseMdevTypeID(mdevType)
	if err != nil {
		return nil, err
	}
	typ, err := g.m.typeByID(typeID)
	if err != nil {
		return nil, err
	}
	return &Partition{UUID: mdev.UUID(), Type: typ, gpu: g, mdev: mdev}, nil
}

// parseMdevTypeID extracts the driver vGPU type id from a kernel mdev type
// name like "nvidia-470".
func parseMdevTypeID(mdevType string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(mdevType, "nvidia-"))
	if err != nil {
		return 0, fmt.Errorf("error parsing mdev type name '%v': %v", mdevType, err)
	}
	return id, nil
}
