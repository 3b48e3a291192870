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

package partition

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/virtaccel/gpu-partd/cmd/gpu-partctl/util"
)

var log = logrus.New()

// GetLogger returns the 'logrus.Logger' instance used by this package.
func GetLogger() *logrus.Logger {
	return log
}

// Flags holds variables that represent the set of flags that can be passed
// to the 'partition' subcommand.
type Flags struct {
	GpuUUID  string
	Host     bool
	UUIDOnly bool
}

// BuildCommand builds the 'partition' subcommand for injection into the main gpu-partctl CLI.
func BuildCommand() *cli.Command {
	partitionFlags := Flags{}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "gpu-uuid",
			Aliases:     []string{"u"},
			Usage:       "UUID of the GPU to operate on",
			Destination: &partitionFlags.GpuUUID,
			EnvVars:     []string{"GPU_PARTCTL_GPU_UUID"},
		},
		&cli.BoolFlag{
			Name:        "host",
			Usage:       "Operate on host partitions instead of VM partitions",
			Destination: &partitionFlags.Host,
		},
	}

	partition := cli.Command{}
	partition.Name = "partition"
	partition.Usage = "Manage the partitions of a GPU"

	list := cli.Command{}
	list.Name = "list"
	list.Usage = "List the partitions created on a GPU"
	list.Action = listWrapper
	list.Flags = append(flags,
		&cli.BoolFlag{
			Name:        "uuid-only",
			Aliases:     []string{"q"},
			Usage:       "Only print partition UUIDs",
			Destination: &partitionFlags.UUIDOnly,
		},
	)

	create := cli.Command{}
	create.Name = "create"
	create.Usage = "Create a partition of the given type on a GPU"
	create.ArgsUsage = "<type-id>"
	create.Action = func(c *cli.Context) error {
		return createWrapper(c, &partitionFlags)
	}
	create.Flags = flags

	destroy := cli.Command{}
	destroy.Name = "destroy"
	destroy.Usage = "Destroy a partition"
	destroy.ArgsUsage = "<partition-uuid>"
	destroy.Action = destroyWrapper
	destroy.Flags = flags

	partition.Subcommands = []*cli.Command{&list, &create, &destroy}
	return &partition
}

func listWrapper(c *cli.Context) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}

	partitions, err := util.NewClient(c).Partitions(gpuUUID, util.PartitionUse(c))
	if err != nil {
		return fmt.Errorf("error listing partitions: %v", err)
	}

	for _, p := range partitions {
		if c.Bool("uuid-only") {
			fmt.Println(p.UUID)
		} else {
			fmt.Println(p)
		}
	}
	return nil
}

func createWrapper(c *cli.Context, f *Flags) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return fmt.Errorf("expected a single <type-id> argument")
	}
	typeID, err := strconv.ParseUint(c.Args().First(), 10, 32)
	if err != nil {
		return fmt.Errorf("malformed type id '%v': %v", c.Args().First(), err)
	}

	p, err := util.NewClient(c).CreatePartition(gpuUUID, util.PartitionUse(c), uint32(typeID))
	if err != nil {
		return fmt.Errorf("error creating partition: %v", err)
	}

	fmt.Println(p)
	return nil
}

func destroyWrapper(c *cli.Context) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return fmt.Errorf("expected a single <partition-uuid> argument")
	}
	u, err := uuid.Parse(c.Args().First())
	if err != nil {
		return fmt.Errorf("malformed partition uuid '%v': %v", c.Args().First(), err)
	}

	if err := util.NewClient(c).DestroyPartition(gpuUUID, util.PartitionUse(c), u); err != nil {
		return fmt.Errorf("error destroying partition: %v", err)
	}

	log.Infof("Destroyed partition %v", u)
	return nil
}
