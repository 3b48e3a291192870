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
	"sync"

	"github.com/virtaccel/gpu-partd/internal/nvml"
)

// libHandle refcounts NVML initialization. The library is initialized on
// the first acquire and shut down when the last holder releases, so GPU
// handles stay valid for as long as their owner keeps them.
type libHandle struct {
	sync.Mutex
	nvml     nvml.Interface
	refcount int
}

func (h *libHandle) acquire() error {
	h.Lock()
	defer h.Unlock()
	if h.refcount == 0 {
		if ret := h.nvml.Init(); ret.Value() != nvml.SUCCESS {
			return fmt.Errorf("error initializing NVML: %v", ret)
		}
	}
	h.refcount++
	return nil
}

func (h *libHandle) release() error {
	h.Lock()
	defer h.Unlock()
	if h.refcount <= 0 {
		return fmt.Errorf("release of unacquired NVML handle")
	}
	h.refcount--
	if h.refcount == 0 {
		if ret := h.nvml.Shutdown(); ret.Value() != nvml.SUCCESS {
			return fmt.Errorf("error shutting down NVML: %v", ret)
		}
	}
	return nil
}
