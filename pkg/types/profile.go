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
)

const (
	AttributeMediaExtensions = "me"
)

// GIProfile describes one GPU instance profile a GPU supports.
type GIProfile struct {
	ID          uint32 `json:"id"`
	SliceCount  uint32 `json:"slice_count"`
	MemoryMB    uint64 `json:"memory_mb"`
	MediaEngine bool   `json:"media_engine"`
}

// String renders a 'GIProfile' in its canonical "1g.5gb" form, with a "+me"
// suffix for media-extension variants.
func (p GIProfile) String() string {
	var suffix string
	if p.MediaEngine {
		suffix = "+" + AttributeMediaExtensions
	}
	gb := (p.MemoryMB + 1024 - 1) / 1024
	return fmt.Sprintf("%dg.%dgb%s", p.SliceCount, gb, suffix)
}

// CIProfile describes one compute instance profile within a GPU instance.
type CIProfile struct {
	ID         uint32    `json:"id"`
	SliceCount uint32    `json:"slice_count"`
	Parent     GIProfile `json:"parent"`
}

// String renders a 'CIProfile' in its canonical "1c.2g.10gb" form,
// collapsing to the parent's form when the compute slices span the whole
// GPU instance.
func (p CIProfile) String() string {
	if p.SliceCount == p.Parent.SliceCount {
		return p.Parent.String()
	}
	gb := (p.Parent.MemoryMB + 1024 - 1) / 1024
	return fmt.Sprintf("%dc.%dg.%dgb", p.SliceCount, p.Parent.SliceCount, gb)
}
