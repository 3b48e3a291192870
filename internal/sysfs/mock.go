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

	"github.com/google/uuid"
)

// Mock is an in-memory stand-in for the kernel's mdev machinery.
// CreateMdev materializes devices immediately, the way the kernel does.
type Mock struct {
	Devices map[string]*MockDevice
	Mdevs   map[uuid.UUID]*MockMdev
}

// MockDevice mocks one PCI device.
type MockDevice struct {
	sys *Mock

	PciBusID    string
	MdevCapable bool
	Types       map[string]int
	MdevList    []*MockMdev
	NumVFs      int
	VFs         []*MockDevice
	ParentPF    *MockDevice
}

// MockMdev mocks one mediated device node.
type MockMdev struct {
	sys *Mock

	Uuid   uuid.UUID
	Type   string
	Parent *MockDevice
}

var _ Interface = (*Mock)(nil)
var _ DeviceHandle = (*MockDevice)(nil)
var _ MdevHandle = (*MockMdev)(nil)

func NewMock() *Mock {
	return &Mock{
		Devices: make(map[string]*MockDevice),
		Mdevs:   make(map[uuid.UUID]*MockMdev),
	}
}

// AddDevice registers a PCI device with the mock tree.
func (s *Mock) AddDevice(busID string) *MockDevice {
	d := &MockDevice{sys: s, PciBusID: busID}
	s.Devices[busID] = d
	return d
}

// AddVFs gives a physical device the given number of virtual functions,
// each mdev capable for the given types.
func (s *Mock) AddVFs(pf *MockDevice, count int, types []string) {
	for i := 0; i < count; i++ {
		vf := s.AddDevice(fmt.Sprintf("%s.vf%d", pf.PciBusID, i))
		vf.ParentPF = pf
		vf.MdevCapable = true
		vf.Types = make(map[string]int)
		for _, t := range types {
			vf.Types[t] = 1
		}
		pf.VFs = append(pf.VFs, vf)
	}
	pf.NumVFs = count
}

func (s *Mock) DeviceHandle(busID string) (DeviceHandle, error) {
	d, exists := s.Devices[busID]
	if !exists {
		return nil, fmt.Errorf("no device at '%v'", busID)
	}
	return d, nil
}

func (s *Mock) MdevHandle(u uuid.UUID) (MdevHandle, error) {
	m, exists := s.Mdevs[u]
	if !exists {
		return nil, fmt.Errorf("no mdev '%v': %w", u, ErrNotMdevDevice)
	}
	return m, nil
}

func (d *MockDevice) BusID() string {
	return d.PciBusID
}

func (d *MockDevice) MdevSupported() bool {
	return d.MdevCapable
}

func (d *MockDevice) AvailableInstances(mdevType string) (int, error) {
	max, exists := d.Types[mdevType]
	if !exists {
		return 0, fmt.Errorf("mdev type '%v' on '%v': %w", mdevType, d.PciBusID, ErrMdevTypeNotSupported)
	}
	if d.ParentPF != nil {
		// VFs host a single mdev regardless of type.
		if len(d.MdevList) > 0 {
			return 0, nil
		}
		return 1, nil
	}
	used := 0
	for _, m := range d.MdevList {
		if m.Type == mdevType {
			used++
		}
	}
	return max - used, nil
}

func (d *MockDevice) CreateMdev(mdevType string, u uuid.UUID) error {
	if _, exists := d.Types[mdevType]; !exists {
		return fmt.Errorf("mdev type '%v' on '%v': %w", mdevType, d.PciBusID, ErrMdevTypeNotSupported)
	}
	m := &MockMdev{sys: d.sys, Uuid: u, Type: mdevType, Parent: d}
	d.MdevList = append(d.MdevList, m)
	d.sys.Mdevs[u] = m
	return nil
}

func (d *MockDevice) MdevDevices() ([]MdevHandle, error) {
	var handles []MdevHandle
	for _, m := range d.MdevList {
		handles = append(handles, m)
	}
	return handles, nil
}

func (d *MockDevice) SriovActive() (bool, error) {
	return d.NumVFs > 0, nil
}

func (d *MockDevice) SriovNumVFs() (int, error) {
	return d.NumVFs, nil
}

func (d *MockDevice) SriovVFs() ([]DeviceHandle, error) {
	var handles []DeviceHandle
	for _, vf := range d.VFs[:d.NumVFs] {
		handles = append(handles, vf)
	}
	return handles, nil
}

func (d *MockDevice) SriovAvailableVF() (DeviceHandle, error) {
	for _, vf := range d.VFs[:d.NumVFs] {
		if vf.MdevCapable && len(vf.MdevList) == 0 {
			return vf, nil
		}
	}
	return nil, fmt.Errorf("device '%v': %w", d.PciBusID, ErrNoAvailableVF)
}

func (d *MockDevice) IsVF() bool {
	return d.ParentPF != nil
}

func (d *MockDevice) Physfn() (DeviceHandle, error) {
	if d.ParentPF == nil {
		return nil, fmt.Errorf("device '%v' is not a virtual function", d.PciBusID)
	}
	return d.ParentPF, nil
}

func (m *MockMdev) UUID() uuid.UUID {
	return m.Uuid
}

func (m *MockMdev) MdevType() (string, error) {
	return m.Type, nil
}

func (m *MockMdev) ParentDevice() (DeviceHandle, error) {
	return m.Parent, nil
}

func (m *MockMdev) Remove() error {
	for i, existing := range m.Parent.MdevList {
		if existing == m {
			m.Parent.MdevList = append(m.Parent.MdevList[:i], m.Parent.MdevList[i+1:]...)
			break
		}
	}
	delete(m.sys.Mdevs, m.Uuid)
	return nil
}
