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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeTree builds a sysfs-shaped directory layout under a temp root, with
// the same symlink structure the kernel exposes.
type fakeTree struct {
	t    *testing.T
	root string
}

func newFakeTree(t *testing.T) *fakeTree {
	return &fakeTree{t: t, root: t.TempDir()}
}

func (f *fakeTree) addDevice(busID string) string {
	path := filepath.Join(f.root, "devices", busID)
	require.NoError(f.t, os.MkdirAll(path, 0755))
	linkDir := filepath.Join(f.root, "bus", "pci", "devices")
	require.NoError(f.t, os.MkdirAll(linkDir, 0755))
	require.NoError(f.t, os.Symlink(path, filepath.Join(linkDir, busID)))
	return path
}

func (f *fakeTree) addMdevType(devPath, mdevType string, available int) {
	typePath := filepath.Join(devPath, "mdev_supported_types", mdevType)
	require.NoError(f.t, os.MkdirAll(filepath.Join(typePath, "devices"), 0755))
	require.NoError(f.t, os.WriteFile(filepath.Join(typePath, "available_instances"), []byte(fmt.Sprintf("%d\n", available)), 0644))
	require.NoError(f.t, os.WriteFile(filepath.Join(typePath, "create"), nil, 0644))
}

func (f *fakeTree) addMdev(devPath, mdevType string, u uuid.UUID) {
	mdevPath := filepath.Join(devPath, u.String())
	require.NoError(f.t, os.MkdirAll(mdevPath, 0755))
	typePath := filepath.Join(devPath, "mdev_supported_types", mdevType)
	require.NoError(f.t, os.Symlink(typePath, filepath.Join(mdevPath, "mdev_type")))
	require.NoError(f.t, os.WriteFile(filepath.Join(mdevPath, "remove"), nil, 0644))
	require.NoError(f.t, os.Symlink(mdevPath, filepath.Join(typePath, "devices", u.String())))
	linkDir := filepath.Join(f.root, "bus", "mdev", "devices")
	require.NoError(f.t, os.MkdirAll(linkDir, 0755))
	require.NoError(f.t, os.Symlink(mdevPath, filepath.Join(linkDir, u.String())))
}

func (f *fakeTree) addVF(pfPath string, index int, busID string) string {
	vfPath := f.addDevice(busID)
	require.NoError(f.t, os.Symlink(vfPath, filepath.Join(pfPath, fmt.Sprintf("virtfn%d", index))))
	require.NoError(f.t, os.Symlink(pfPath, filepath.Join(vfPath, "physfn")))
	return vfPath
}

func (f *fakeTree) setNumVFs(pfPath string, count int) {
	require.NoError(f.t, os.WriteFile(filepath.Join(pfPath, "sriov_numvfs"), []byte(fmt.Sprintf("%d\n", count)), 0644))
}

func TestDeviceHandleLookup(t *testing.T) {
	tree := newFakeTree(t)
	tree.addDevice("0000:3b:00.0")
	sys := NewWithRoot(tree.root)

	dev, err := sys.DeviceHandle("0000:3b:00.0")
	require.NoError(t, err)
	require.Equal(t, "0000:3b:00.0", dev.BusID())

	_, err = sys.DeviceHandle("0000:ff:00.0")
	require.Error(t, err)
}

func TestMdevSupported(t *testing.T) {
	tree := newFakeTree(t)
	plain := tree.addDevice("0000:3b:00.0")
	capable := tree.addDevice("0000:86:00.0")
	tree.addMdevType(capable, "nvidia-470", 1)
	sys := NewWithRoot(tree.root)

	dev, err := sys.DeviceHandle("0000:3b:00.0")
	require.NoError(t, err)
	require.False(t, dev.MdevSupported())

	dev, err = sys.DeviceHandle("0000:86:00.0")
	require.NoError(t, err)
	require.True(t, dev.MdevSupported())

	_ = plain
}

func TestAvailableInstances(t *testing.T) {
	tree := newFakeTree(t)
	path := tree.addDevice("0000:3b:00.0")
	tree.addMdevType(path, "nvidia-470", 3)
	sys := NewWithRoot(tree.root)

	dev, err := sys.DeviceHandle("0000:3b:00.0")
	require.NoError(t, err)

	count, err := dev.AvailableInstances("nvidia-470")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	_, err = dev.AvailableInstances("nvidia-999")
	require.ErrorIs(t, err, ErrMdevTypeNotSupported)
}

func TestCreateMdev(t *testing.T) {
	tree := newFakeTree(t)
	path := tree.addDevice("0000:3b:00.0")
	tree.addMdevType(path, "nvidia-470", 1)
	sys := NewWithRoot(tree.root)

	dev, err := sys.DeviceHandle("0000:3b:00.0")
	require.NoError(t, err)

	u := uuid.MustParse("c73f1fa6-489e-4834-9476-d70dabd948c0")
	require.NoError(t, dev.CreateMdev("nvidia-470", u))

	data, err := os.ReadFile(filepath.Join(path, "mdev_supported_types", "nvidia-470", "create"))
	require.NoError(t, err)
	require.Equal(t, u.String(), string(data))

	err = dev.CreateMdev("nvidia-999", u)
	require.ErrorIs(t, err, ErrMdevTypeNotSupported)
}

func TestMdevDevices(t *testing.T) {
	tree := newFakeTree(t)
	path := tree.addDevice("0000:3b:00.0")
	tree.addMdevType(path, "nvidia-470", 1)
	tree.addMdevType(path, "nvidia-471", 1)
	u1 := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	u2 := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	tree.addMdev(path, "nvidia-470", u1)
	tree.addMdev(path, "nvidia-471", u2)
	sys := NewWithRoot(tree.root)

	dev, err := sys.DeviceHandle("0000:3b:00.0")
	require.NoError(t, err)

	mdevs, err := dev.MdevDevices()
	require.NoError(t, err)
	require.Len(t, mdevs, 2)
	require.Equal(t, u1, mdevs[0].UUID())
	require.Equal(t, u2, mdevs[1].UUID())

	mdevType, err := mdevs[0].MdevType()
	require.NoError(t, err)
	require.Equal(t, "nvidia-470", mdevType)
}

func TestMdevDevicesOnPlainDevice(t *testing.T) {
	tree := newFakeTree(t)
	tree.addDevice("0000:3b:00.0")
	sys := NewWithRoot(tree.root)

	dev, err := sys.DeviceHandle("0000:3b:00.0")
	require.NoError(t, err)

	mdevs, err := dev.MdevDevices()
	require.NoError(t, err)
	require.Empty(t, mdevs)
}

func TestSriov(t *testing.T) {
	tree := newFakeTree(t)
	pf := tree.addDevice("0000:3b:00.0")
	sys := NewWithRoot(tree.root)

	dev, err := sys.DeviceHandle("0000:3b:00.0")
	require.NoError(t, err)

	// No sriov_numvfs file at all: not an SR-IOV device.
	active, err := dev.SriovActive()
	require.NoError(t, err)
	require.False(t, active)

	tree.setNumVFs(pf, 0)
	active, err = dev.SriovActive()
	require.NoError(t, err)
	require.False(t, active)

	tree.addVF(pf, 0, "0000:3b:00.4")
	tree.addVF(pf, 1, "0000:3b:00.5")
	tree.setNumVFs(pf, 2)

	active, err = dev.SriovActive()
	require.NoError(t, err)
	require.True(t, active)

	vfs, err := dev.SriovVFs()
	require.NoError(t, err)
	require.Len(t, vfs, 2)
	require.Equal(t, "0000:3b:00.4", vfs[0].BusID())
	require.Equal(t, "0000:3b:00.5", vfs[1].BusID())

	require.True(t, vfs[0].IsVF())
	require.False(t, dev.IsVF())

	physfn, err := vfs[0].Physfn()
	require.NoError(t, err)
	require.Equal(t, "0000:3b:00.0", physfn.BusID())
}

func TestSriovAvailableVF(t *testing.T) {
	tree := newFakeTree(t)
	pf := tree.addDevice("0000:3b:00.0")
	vf0 := tree.addVF(pf, 0, "0000:3b:00.4")
	vf1 := tree.addVF(pf, 1, "0000:3b:00.5")
	tree.setNumVFs(pf, 2)
	tree.addMdevType(vf0, "nvidia-470", 1)
	tree.addMdevType(vf1, "nvidia-470", 1)
	sys := NewWithRoot(tree.root)

	dev, err := sys.DeviceHandle("0000:3b:00.0")
	require.NoError(t, err)

	// Both VFs free: the first by index wins.
	vf, err := dev.SriovAvailableVF()
	require.NoError(t, err)
	require.Equal(t, "0000:3b:00.4", vf.BusID())

	// Occupy the first VF: selection moves to the next one.
	tree.addMdev(vf0, "nvidia-470", uuid.MustParse("11111111-1111-1111-1111-111111111111"))
	vf, err = dev.SriovAvailableVF()
	require.NoError(t, err)
	require.Equal(t, "0000:3b:00.5", vf.BusID())

	// Occupy the second as well: nothing left.
	tree.addMdev(vf1, "nvidia-470", uuid.MustParse("22222222-2222-2222-2222-222222222222"))
	_, err = dev.SriovAvailableVF()
	require.ErrorIs(t, err, ErrNoAvailableVF)
}

func TestMdevHandleLookup(t *testing.T) {
	tree := newFakeTree(t)
	path := tree.addDevice("0000:3b:00.0")
	tree.addMdevType(path, "nvidia-470", 1)
	u := uuid.MustParse("c73f1fa6-489e-4834-9476-d70dabd948c0")
	tree.addMdev(path, "nvidia-470", u)
	sys := NewWithRoot(tree.root)

	mdev, err := sys.MdevHandle(u)
	require.NoError(t, err)
	require.Equal(t, u, mdev.UUID())

	mdevType, err := mdev.MdevType()
	require.NoError(t, err)
	require.Equal(t, "nvidia-470", mdevType)

	parent, err := mdev.ParentDevice()
	require.NoError(t, err)
	require.Equal(t, "0000:3b:00.0", parent.BusID())

	_, err = sys.MdevHandle(uuid.MustParse("99999999-9999-9999-9999-999999999999"))
	require.Error(t, err)
}

func TestMdevRemove(t *testing.T) {
	tree := newFakeTree(t)
	path := tree.addDevice("0000:3b:00.0")
	tree.addMdevType(path, "nvidia-470", 1)
	u := uuid.MustParse("c73f1fa6-489e-4834-9476-d70dabd948c0")
	tree.addMdev(path, "nvidia-470", u)
	sys := NewWithRoot(tree.root)

	mdev, err := sys.MdevHandle(u)
	require.NoError(t, err)
	require.NoError(t, mdev.Remove())

	data, err := os.ReadFile(filepath.Join(path, u.String(), "remove"))
	require.NoError(t, err)
	require.Equal(t, "1", string(data))
}
