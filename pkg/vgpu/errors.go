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
)

var (
	// ErrNotFound reports that a GPU, partition, type or profile does not
	// exist.
	ErrNotFound = errors.New("not found")

	// ErrModeChangeBlocked reports that a MIG mode change was refused
	// because partitions still exist on the GPU.
	ErrModeChangeBlocked = errors.New("MIG mode change blocked by existing partitions")

	// ErrNoAvailableVF reports that every SR-IOV virtual function of a GPU
	// is already backing a partition.
	ErrNoAvailableVF = errors.New("no available virtual function")

	// ErrTypeUnavailable reports that a partition type cannot be
	// instantiated right now, either because the kernel does not expose it
	// on the chosen device or because its instance budget is exhausted.
	ErrTypeUnavailable = errors.New("partition type unavailable")

	// ErrMigModeDisabled reports a GPU instance query against a GPU whose
	// MIG mode is off.
	ErrMigModeDisabled = errors.New("MIG mode disabled")

	// ErrCIProfileNotFound reports that a GPU instance profile has no
	// matching whole-instance compute profile.
	ErrCIProfileNotFound = errors.New("no matching compute instance profile")
)
