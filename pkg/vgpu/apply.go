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

	v1 "github.com/virtaccel/gpu-partd/api/spec/v1"
)

// ApplyConfig converges every matching GPU onto the named partition
// configuration of the spec: partitions not in the desired multiset are
// destroyed first, then the missing ones are created. GPUs matched by no
// entry are left alone.
func (m *Manager) ApplyConfig(spec *v1.Spec, name string) error {
	configs, exists := spec.PartitionConfigs[name]
	if !exists {
		return fmt.Errorf("partition config '%v': %w", name, ErrNotFound)
	}

	gpus, err := m.GPUs()
	if err != nil {
		return err
	}
	defer releaseAll(gpus)

	for i, gpu := range gpus {
		for _, config := range configs {
			if !config.MatchesDeviceFilter(gpu.DeviceID) {
				continue
			}
			if !config.MatchesDevices(i) {
				continue
			}
			if err := gpu.applyConfig(&config); err != nil {
				return fmt.Errorf("error applying config to GPU '%v': %w", gpu.UUID, err)
			}
			break
		}
	}
	return nil
}

// applyConfig brings one GPU's partitions to the desired multiset of vGPU
// types.
func (g *GPU) applyConfig(config *v1.PartitionConfigSpec) error {
	desired := config.TypeCounts()

	partitions, err := g.Partitions()
	if err != nil {
		return err
	}
	for _, p := range partitions {
		if desired[p.Type.ID] > 0 {
			desired[p.Type.ID]--
			continue
		}
		if err := p.Destroy(); err != nil {
			return err
		}
	}

	for typeID, count := range desired {
		for i := 0; i < count; i++ {
			if _, err := g.CreatePartition(typeID); err != nil {
				return err
			}
		}
	}
	return nil
}
