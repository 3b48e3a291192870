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
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type deviceHandle struct {
	path string
}

var _ DeviceHandle = (*deviceHandle)(nil)

func (d *deviceHandle) BusID() string {
	return filepath.Base(d.path)
}

// MdevSupported reports whether the device can create mediated devices at
// all. Absence of the mdev_supported_types directory is the normal state for
// a device without the vfio-mdev driver bound, not an error.
func (d *deviceHandle) MdevSupported() bool {
	info, err := os.Stat(filepath.Join(d.path, "mdev_supported_types"))
	return err == nil && info.IsDir()
}

func (d *deviceHandle) mdevTypePath(mdevType string) (string, error) {
	path := filepath.Join(d.path, "mdev_supported_types", mdevType)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("mdev type '%v' on device '%v': %w", mdevType, d.BusID(), ErrMdevTypeNotSupported)
		}
		return "", fmt.Errorf("error checking mdev type '%v' on device '%v': %w", mdevType, d.BusID(), err)
	}
	return path, nil
}

func (d *deviceHandle) AvailableInstances(mdevType string) (int, error) {
	typePath, err := d.mdevTypePath(mdevType)
	if err != nil {
		return 0, err
	}
	data, err := readSysfsFile(filepath.Join(typePath, "available_instances"))
	if err != nil {
		return 0, fmt.Errorf("error reading available_instances for '%v' on device '%v': %w", mdevType, d.BusID(), err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(data))
	if err != nil {
		return 0, fmt.Errorf("error parsing available_instances for '%v' on device '%v': %w", mdevType, d.BusID(), err)
	}
	return count, nil
}

// CreateMdev asks the kernel to create a mediated device of the given type
// with the given UUID. The new device node appears synchronously under the
// mdev bus once the write returns.
func (d *deviceHandle) CreateMdev(mdevType string, u uuid.UUID) error {
	typePath, err := d.mdevTypePath(mdevType)
	if err != nil {
		return err
	}
	createPath := filepath.Join(typePath, "create")
	if err := os.WriteFile(createPath, []byte(u.String()), 0200); err != nil {
		return fmt.Errorf("error creating mdev '%v' of type '%v' on device '%v': %w", u, mdevType, d.BusID(), err)
	}
	return nil
}

// MdevDevices lists the mediated devices created directly on this handle,
// across all supported types.
func (d *deviceHandle) MdevDevices() ([]MdevHandle, error) {
	typesPath := filepath.Join(d.path, "mdev_supported_types")
	entries, err := os.ReadDir(typesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error listing mdev types on device '%v': %w", d.BusID(), err)
	}

	var mdevs []MdevHandle
	for _, entry := range entries {
		devicesPath := filepath.Join(typesPath, entry.Name(), "devices")
		children, err := os.ReadDir(devicesPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error listing mdevs of type '%v' on device '%v': %w", entry.Name(), d.BusID(), err)
		}
		for _, child := range children {
			resolved, err := filepath.EvalSymlinks(filepath.Join(devicesPath, child.Name()))
			if err != nil {
				return nil, fmt.Errorf("error resolving mdev '%v' on device '%v': %w", child.Name(), d.BusID(), err)
			}
			mdev, err := newMdevHandle(resolved)
			if err != nil {
				return nil, err
			}
			mdevs = append(mdevs, mdev)
		}
	}
	sort.Slice(mdevs, func(i, j int) bool {
		return mdevs[i].UUID().String() < mdevs[j].UUID().String()
	})
	return mdevs, nil
}

// SriovActive reports whether SR-IOV is enabled with at least one virtual
// function. A device without the sriov_numvfs file simply has no SR-IOV
// capability.
func (d *deviceHandle) SriovActive() (bool, error) {
	numvfs, err := d.SriovNumVFs()
	if err != nil {
		return false, err
	}
	return numvfs > 0, nil
}

func (d *deviceHandle) SriovNumVFs() (int, error) {
	data, err := readSysfsFile(filepath.Join(d.path, "sriov_numvfs"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("error reading sriov_numvfs on device '%v': %w", d.BusID(), err)
	}
	numvfs, err := strconv.Atoi(strings.TrimSpace(data))
	if err != nil {
		return 0, fmt.Errorf("error parsing sriov_numvfs on device '%v': %w", d.BusID(), err)
	}
	return numvfs, nil
}

// SriovVFs returns the virtual functions of this device in index order.
func (d *deviceHandle) SriovVFs() ([]DeviceHandle, error) {
	numvfs, err := d.SriovNumVFs()
	if err != nil {
		return nil, err
	}
	var vfs []DeviceHandle
	for i := 0; i < numvfs; i++ {
		resolved, err := filepath.EvalSymlinks(filepath.Join(d.path, fmt.Sprintf("virtfn%d", i)))
		if err != nil {
			return nil, fmt.Errorf("error resolving virtfn%d on device '%v': %w", i, d.BusID(), err)
		}
		vfs = append(vfs, &deviceHandle{path: resolved})
	}
	return vfs, nil
}

// SriovAvailableVF returns the first virtual function that is mdev capable
// and has no mediated devices on it yet.
func (d *deviceHandle) SriovAvailableVF() (DeviceHandle, error) {
	vfs, err := d.SriovVFs()
	if err != nil {
		return nil, err
	}
	for _, vf := range vfs {
		if !vf.MdevSupported() {
			continue
		}
		mdevs, err := vf.MdevDevices()
		if err != nil {
			return nil, err
		}
		if len(mdevs) == 0 {
			return vf, nil
		}
	}
	return nil, fmt.Errorf("device '%v': %w", d.BusID(), ErrNoAvailableVF)
}

func (d *deviceHandle) IsVF() bool {
	info, err := os.Stat(filepath.Join(d.path, "physfn"))
	return err == nil && info.IsDir()
}

func (d *deviceHandle) Physfn() (DeviceHandle, error) {
	resolved, err := filepath.EvalSymlinks(filepath.Join(d.path, "physfn"))
	if err != nil {
		return nil, fmt.Errorf("error resolving physfn of device '%v': %w", d.BusID(), err)
	}
	return &deviceHandle{path: resolved}, nil
}
