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

package sysfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

type mdevHandle struct {
	path string
	uuid uuid.UUID
}

var _ MdevHandle = (*mdevHandle)(nil)

func newMdevHandle(path string) (*mdevHandle, error) {
	u, err := uuid.Parse(filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("path '%v': %w", path, ErrNotMdevDevice)
	}
	if _, err := os.Stat(filepath.Join(path, "mdev_type")); err != nil {
		return nil, fmt.Errorf("path '%v': %w", path, ErrNotMdevDevice)
	}
	return &mdevHandle{path: path, uuid: u}, nil
}

func (m *mdevHandle) UUID() uuid.UUID {
	return m.uuid
}

// MdevType returns the name of the mdev type this device was created from,
// read off the mdev_type link back into the parent's supported types.
func (m *mdevHandle) MdevType() (string, error) {
	resolved, err := filepath.EvalSymlinks(filepath.Join(m.path, "mdev_type"))
	if err != nil {
		return "", fmt.Errorf("error resolving mdev_type of '%v': %w", m.uuid, err)
	}
	return filepath.Base(resolved), nil
}

// ParentDevice returns the PCI device this mdev was created on. For SR-IOV
// backed mdevs this is the virtual function, not the physical GPU.
func (m *mdevHandle) ParentDevice() (DeviceHandle, error) {
	parent := filepath.Dir(m.path)
	if _, err := os.Stat(parent); err != nil {
		return nil, fmt.Errorf("error resolving parent of mdev '%v': %w", m.uuid, err)
	}
	return &deviceHandle{path: parent}, nil
}

// Remove asks the kernel to destroy the mediated device.
func (m *mdevHandle) Remove() error {
	if err := os.WriteFile(filepath.Join(m.path, "remove"), []byte("1"), 0200); err != nil {
		return fmt.Errorf("error removing mdev '%v': %w", m.uuid, err)
	}
	return nil
}
