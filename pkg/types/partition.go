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

package types

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/virtaccel/gpu-partd/internal/nvml"
)

// PartitionTechnology distinguishes how a partition shares the GPU:
// time-shared scheduling on the whole device, or a dedicated MIG slice.
type PartitionTechnology string

const (
	TechTimeShared PartitionTechnology = "vgpu"
	TechMIGBacked  PartitionTechnology = "vgpu+mig"
)

// PartitionUse is the intended consumer of a partition. It namespaces the
// API and CLI surfaces; the engine itself treats both the same way.
type PartitionUse string

const (
	VMPartition   PartitionUse = "vm"
	HostPartition PartitionUse = "host"
)

// PartitionType describes one vGPU type a GPU can instantiate, as reported
// by the driver.
type PartitionType struct {
	ID          uint32 `json:"id"`
	Name        string `json:"name"`
	Class       string `json:"class"`
	MemoryMB    uint64 `json:"memory_mb"`
	GIProfileID uint32 `json:"gi_profile_id"`
}

// Tech returns the partition technology backing this type.
func (t PartitionType) Tech() PartitionTechnology {
	if t.MIGBacked() {
		return TechMIGBacked
	}
	return TechTimeShared
}

// MIGBacked reports whether instances of this type require a dedicated GPU
// instance. Time-shared types carry the driver's invalid-profile sentinel.
func (t PartitionType) MIGBacked() bool {
	return t.GIProfileID != nvml.INVALID_GPU_INSTANCE_PROFILE_ID
}

// MdevType returns the kernel mdev type name used to instantiate this type.
func (t PartitionType) MdevType() string {
	return fmt.Sprintf("nvidia-%d", t.ID)
}

// String returns a 'PartitionType' as a string.
func (t PartitionType) String() string {
	return fmt.Sprintf("%d: %s (%dMB)", t.ID, t.Name, t.MemoryMB)
}

// Partition represents one mediated device created from a PartitionType.
type Partition struct {
	UUID uuid.UUID     `json:"uuid"`
	Type PartitionType `json:"type"`
}

// String returns a 'Partition' as a string.
func (p Partition) String() string {
	return fmt.Sprintf("%v (%s)", p.UUID, p.Type.Name)
}
