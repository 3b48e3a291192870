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

package util

import (
	"fmt"
	"os"
	"strings"

	cli "github.com/urfave/cli/v2"

	"github.com/NVIDIA/go-nvlib/pkg/nvpci"

	"github.com/virtaccel/gpu-partd/api/rest"
	"github.com/virtaccel/gpu-partd/pkg/types"
)

// NewClient builds an API client from the top-level 'url' flag.
func NewClient(c *cli.Context) *rest.Client {
	return rest.NewClient(c.String("url"))
}

// RequireGPU returns the value of the 'gpu-uuid' flag, which selects the GPU
// most subcommands operate on.
func RequireGPU(c *cli.Context) (string, error) {
	uuid := c.String("gpu-uuid")
	if uuid == "" {
		return "", fmt.Errorf("missing required flag 'gpu-uuid'")
	}
	return uuid, nil
}

// PartitionUse maps the 'host' flag to the partition use the subcommand
// operates with.
func PartitionUse(c *cli.Context) types.PartitionUse {
	if c.Bool("host") {
		return types.HostPartition
	}
	return types.VMPartition
}

func Capitalize(s string) string {
	return strings.ToUpper(s[0:1]) + s[1:]
}

// IsNvidiaModuleLoaded reports whether the nvidia kernel module is loaded.
// Partition operations need the driver; without it only the PCI bus is
// visible.
func IsNvidiaModuleLoaded() (bool, error) {
	modules, err := os.ReadFile("/proc/modules")
	if err != nil {
		return false, fmt.Errorf("unable to read /proc/modules: %v", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(modules)), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == "nvidia" {
			return true, nil
		}
	}
	return false, nil
}

// PciGPUDeviceIDs enumerates the NVIDIA GPUs visible on the PCI bus. It
// works without the driver loaded.
func PciGPUDeviceIDs() ([]types.DeviceID, error) {
	nvpciLib := nvpci.New()
	gpus, err := nvpciLib.GetGPUs()
	if err != nil {
		return nil, fmt.Errorf("error enumerating GPUs: %v", err)
	}

	var ids []types.DeviceID
	for _, gpu := range gpus {
		ids = append(ids, types.NewDeviceID(gpu.Device, gpu.Vendor))
	}
	return ids, nil
}
