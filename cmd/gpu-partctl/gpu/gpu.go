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

package gpu

import (
	"fmt"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/virtaccel/gpu-partd/cmd/gpu-partctl/util"
	"github.com/virtaccel/gpu-partd/pkg/types"
)

var log = logrus.New()

// GetLogger returns the 'logrus.Logger' instance used by this package.
func GetLogger() *logrus.Logger {
	return log
}

// Flags holds variables that represent the set of flags that can be passed
// to the 'gpu' subcommand.
type Flags struct {
	GpuUUID   string
	Creatable bool
}

// BuildCommand builds the 'gpu' subcommand for injection into the main gpu-partctl CLI.
func BuildCommand() *cli.Command {
	gpuFlags := Flags{}

	gpu := cli.Command{}
	gpu.Name = "gpu"
	gpu.Usage = "List GPUs and their partition types"

	list := cli.Command{}
	list.Name = "list"
	list.Usage = "List the GPUs connected to this host"
	list.Action = listWrapper

	types := cli.Command{}
	types.Name = "types"
	types.Usage = "List the partition types a GPU supports"
	types.Action = func(c *cli.Context) error {
		return typesWrapper(c, &gpuFlags)
	}
	types.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "gpu-uuid",
			Aliases:     []string{"u"},
			Usage:       "UUID of the GPU to operate on",
			Destination: &gpuFlags.GpuUUID,
			EnvVars:     []string{"GPU_PARTCTL_GPU_UUID"},
		},
		&cli.BoolFlag{
			Name:        "creatable",
			Aliases:     []string{"c"},
			Usage:       "Only list types that can be created right now",
			Destination: &gpuFlags.Creatable,
		},
	}

	gpu.Subcommands = []*cli.Command{&list, &types}
	return &gpu
}

func listWrapper(c *cli.Context) error {
	gpus, err := util.NewClient(c).GPUs()
	if err != nil {
		return fmt.Errorf("error listing GPUs: %v", err)
	}
	for _, gpu := range gpus {
		fmt.Printf("[%v] %v: %v\n", gpu.Address, gpu.UUID, gpu.Name)
	}
	return nil
}

func typesWrapper(c *cli.Context, f *Flags) error {
	uuid, err := util.RequireGPU(c)
	if err != nil {
		return err
	}

	client := util.NewClient(c)
	var partitionTypes []types.PartitionType
	if f.Creatable {
		partitionTypes, err = client.CreatableTypes(uuid, util.PartitionUse(c))
	} else {
		partitionTypes, err = client.SupportedTypes(uuid, util.PartitionUse(c))
	}
	if err != nil {
		return fmt.Errorf("error listing partition types: %v", err)
	}

	for _, typ := range partitionTypes {
		fmt.Println(typ)
	}
	return nil
}
