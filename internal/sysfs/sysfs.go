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

// Package sysfs wraps the kernel's view of PCI devices and their mediated
// device (mdev) children. All state lives in the kernel; handles are plain
// path bindings and hold no resources.
package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var (
	// ErrMdevTypeNotSupported reports that a device does not expose the
	// requested mdev type. Callers are expected to treat this as a normal
	// negative result, not a failure.
	ErrMdevTypeNotSupported = errors.New("mdev type not supported on device")

	// ErrNoAvailableVF reports that no SR-IOV virtual function is free to
	// back a new mediated device.
	ErrNoAvailableVF = errors.New("no available virtual function")

	// ErrNotMdevDevice reports that a path does not point at a mediated
	// device node.
	ErrNotMdevDevice = errors.New("not a mdev device path")
)

// Interface resolves device and mdev handles against a sysfs tree.
type Interface interface {
	DeviceHandle(busID string) (DeviceHandle, error)
	MdevHandle(u uuid.UUID) (MdevHandle, error)
}

// DeviceHandle exposes the sysfs operations of one PCI device, either a
// physical GPU or one of its SR-IOV virtual functions.
type DeviceHandle interface {
	BusID() string
	MdevSupported() bool
	AvailableInstances(mdevType string) (int, error)
	CreateMdev(mdevType string, u uuid.UUID) error
	MdevDevices() ([]MdevHandle, error)
	SriovActive() (bool, error)
	SriovNumVFs() (int, error)
	SriovVFs() ([]DeviceHandle, error)
	SriovAvailableVF() (DeviceHandle, error)
	IsVF() bool
	Physfn() (DeviceHandle, error)
}

// MdevHandle exposes the sysfs operations of one mediated device node.
type MdevHandle interface {
	UUID() uuid.UUID
	MdevType() (string, error)
	ParentDevice() (DeviceHandle, error)
	Remove() error
}

type sysfs struct {
	root string
}

var _ Interface = (*sysfs)(nil)

// New returns an Interface bound to the running kernel's /sys.
func New() Interface {
	return &sysfs{root: "/sys"}
}

// NewWithRoot returns an Interface bound to an alternate sysfs root.
func NewWithRoot(root string) Interface {
	return &sysfs{root: root}
}

func (s *sysfs) DeviceHandle(busID string) (DeviceHandle, error) {
	path := filepath.Join(s.root, "bus", "pci", "devices", busID)
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("error resolving device path for '%v': %w", busID, err)
	}
	return &deviceHandle{path: resolved}, nil
}

func (s *sysfs) MdevHandle(u uuid.UUID) (MdevHandle, error) {
	path := filepath.Join(s.root, "bus", "mdev", "devices", u.String())
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("error resolving mdev path for '%v': %w", u, err)
	}
	return newMdevHandle(resolved)
}

func readSysfsFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
