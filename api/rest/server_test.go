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

package rest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/virtaccel/gpu-partd/internal/nvml"
	"github.com/virtaccel/gpu-partd/internal/sysfs"
	"github.com/virtaccel/gpu-partd/pkg/types"
	"github.com/virtaccel/gpu-partd/pkg/vgpu"
)

var mockMdevTypes = []string{"nvidia-1", "nvidia-2", "nvidia-470", "nvidia-471", "nvidia-472", "nvidia-474"}

func newTestServer(t *testing.T) (*Client, *nvml.MockVgpuServer) {
	gin.SetMode(gin.TestMode)

	driver := nvml.NewMockVgpuServer()
	sys := sysfs.NewMock()
	for i := range driver.Devices {
		dev := driver.Devices[i].(*nvml.MockVgpuDevice)
		pf := sys.AddDevice(dev.PciBusID)
		sys.AddVFs(pf, 2, mockMdevTypes)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	server := NewServer(vgpu.NewManager(driver, sys), log)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return NewClient(ts.URL), driver
}

func gpuUUID(driver *nvml.MockVgpuServer, i int) string {
	return driver.Devices[i].(*nvml.MockVgpuDevice).UUID
}

func TestListGPUs(t *testing.T) {
	client, driver := newTestServer(t)

	gpus, err := client.GPUs()
	require.NoError(t, err)
	require.Len(t, gpus, 2)
	require.Equal(t, gpuUUID(driver, 0), gpus[0].UUID)
	require.Equal(t, "Mock A100X-40GB", gpus[0].Name)
	require.Equal(t, "0000:3b:00.0", gpus[0].Address)
	require.Equal(t, "0000:86:00.0", gpus[1].Address)
}

func TestPartitionLifecycle(t *testing.T) {
	client, driver := newTestServer(t)
	uuid0 := gpuUUID(driver, 0)

	supported, err := client.SupportedTypes(uuid0, types.VMPartition)
	require.NoError(t, err)
	require.Len(t, supported, 6)

	// No mdevs yet, so the whole supported list is creatable.
	creatable, err := client.CreatableTypes(uuid0, types.VMPartition)
	require.NoError(t, err)
	require.Len(t, creatable, 6)

	p, err := client.CreatePartition(uuid0, types.VMPartition, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), p.Type.ID)

	// The time-shared mdev pins the mode and shrinks the creatable list
	// to what the driver reports.
	creatable, err = client.CreatableTypes(uuid0, types.VMPartition)
	require.NoError(t, err)
	require.Len(t, creatable, 2)

	partitions, err := client.Partitions(uuid0, types.VMPartition)
	require.NoError(t, err)
	require.Len(t, partitions, 1)
	require.Equal(t, p.UUID, partitions[0].UUID)

	// The hpart family sees the same partitions.
	partitions, err = client.Partitions(uuid0, types.HostPartition)
	require.NoError(t, err)
	require.Len(t, partitions, 1)

	require.NoError(t, client.DestroyPartition(uuid0, types.VMPartition, p.UUID))

	partitions, err = client.Partitions(uuid0, types.VMPartition)
	require.NoError(t, err)
	require.Empty(t, partitions)
}

func TestMigModeEndpoints(t *testing.T) {
	client, driver := newTestServer(t)
	uuid0 := gpuUUID(driver, 0)

	mode, err := client.MigMode(uuid0)
	require.NoError(t, err)
	require.Equal(t, types.MigDisabled, mode.Current)

	mode, err = client.SetMigMode(uuid0, types.MigEnabled)
	require.NoError(t, err)
	require.Equal(t, types.MigEnabled, mode.Current)

	// No mdev pins the mode yet, so every supported type stays creatable.
	creatable, err := client.CreatableTypes(uuid0, types.VMPartition)
	require.NoError(t, err)
	require.Len(t, creatable, 6)
}

func TestGPUInstanceEndpoints(t *testing.T) {
	client, driver := newTestServer(t)
	uuid0 := gpuUUID(driver, 0)

	_, err := client.SetMigMode(uuid0, types.MigEnabled)
	require.NoError(t, err)

	profiles, err := client.GIProfiles(uuid0)
	require.NoError(t, err)
	require.Len(t, profiles, 6)

	capacity, err := client.GICapacity(uuid0, nvml.GPU_INSTANCE_PROFILE_1_SLICE)
	require.NoError(t, err)
	require.Equal(t, 7, capacity)

	gi, err := client.CreateGPUInstance(uuid0, nvml.GPU_INSTANCE_PROFILE_2_SLICE)
	require.NoError(t, err)
	require.Equal(t, "2g.10gb", gi.Profile.String())

	got, err := client.GPUInstance(uuid0, gi.ID)
	require.NoError(t, err)
	require.Equal(t, gi.Profile, got.Profile)

	instances, err := client.GPUInstances(uuid0)
	require.NoError(t, err)
	require.Len(t, instances, 1)

	require.NoError(t, client.DestroyGPUInstance(uuid0, gi.ID))

	instances, err = client.GPUInstances(uuid0)
	require.NoError(t, err)
	require.Empty(t, instances)
}

func TestComputeInstanceEndpoints(t *testing.T) {
	client, driver := newTestServer(t)
	uuid0 := gpuUUID(driver, 0)

	_, err := client.SetMigMode(uuid0, types.MigEnabled)
	require.NoError(t, err)

	gi, err := client.CreateGPUInstance(uuid0, nvml.GPU_INSTANCE_PROFILE_2_SLICE)
	require.NoError(t, err)

	// Creation brings up the default whole-size compute instance.
	cis, err := client.ComputeInstances(uuid0, gi.ID)
	require.NoError(t, err)
	require.Len(t, cis, 1)
	require.Equal(t, "2g.10gb", cis[0].Profile.String())

	profiles, err := client.CIProfiles(uuid0, gi.ID)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	require.NoError(t, client.DestroyComputeInstance(uuid0, gi.ID, cis[0].ID))

	ci, err := client.CreateComputeInstance(uuid0, gi.ID, nvml.COMPUTE_INSTANCE_PROFILE_1_SLICE)
	require.NoError(t, err)
	require.Equal(t, "1c.2g.10gb", ci.Profile.String())
}

func TestErrorStatusMapping(t *testing.T) {
	client, driver := newTestServer(t)
	uuid0 := gpuUUID(driver, 0)

	status := func(method, path, body string) int {
		req, err := http.NewRequest(method, client.baseURL+"/api/v1"+path, strings.NewReader(body))
		require.NoError(t, err)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	// Unknown GPU.
	require.Equal(t, http.StatusNotFound,
		status(http.MethodGet, "/gpu/GPU-00000000-0000-0000-0000-000000000000/vpart", ""))

	// Malformed type id.
	require.Equal(t, http.StatusBadRequest,
		status(http.MethodPost, "/gpu/"+uuid0+"/vpart?type_id=bogus", ""))

	// GPU instance listing needs MIG mode.
	require.Equal(t, http.StatusConflict,
		status(http.MethodGet, "/gpu/"+uuid0+"/mig/gi", ""))

	// Mode change with live partitions.
	_, err := client.CreatePartition(uuid0, types.VMPartition, 1)
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict,
		status(http.MethodPost, "/gpu/"+uuid0+"/mig/mode", `{"mode": "enabled"}`))
}
