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

package mig

import (
	"fmt"
	"strconv"

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
// to the 'mig' subcommand.
type Flags struct {
	GpuUUID     string
	GpuInstance int
}

// BuildCommand builds the 'mig' subcommand for injection into the main gpu-partctl CLI.
func BuildCommand() *cli.Command {
	migFlags := Flags{}

	gpuFlag := &cli.StringFlag{
		Name:        "gpu-uuid",
		Aliases:     []string{"u"},
		Usage:       "UUID of the GPU to operate on",
		Destination: &migFlags.GpuUUID,
		EnvVars:     []string{"GPU_PARTCTL_GPU_UUID"},
	}
	giFlag := &cli.IntFlag{
		Name:        "gpu-instance",
		Aliases:     []string{"g"},
		Usage:       "ID of the GPU instance to operate on",
		Destination: &migFlags.GpuInstance,
	}

	mig := cli.Command{}
	mig.Name = "mig"
	mig.Usage = "Manage the MIG mode and MIG instances of a GPU"
	mig.Subcommands = []*cli.Command{
		buildModeCommand(gpuFlag),
		buildGiCommand(gpuFlag),
		buildCiCommand(gpuFlag, giFlag, &migFlags),
	}
	return &mig
}

func buildModeCommand(gpuFlag cli.Flag) *cli.Command {
	mode := cli.Command{}
	mode.Name = "mode"
	mode.Usage = "Show the current and pending MIG mode of a GPU"
	mode.Flags = []cli.Flag{gpuFlag}
	mode.Action = getModeWrapper

	set := cli.Command{}
	set.Name = "set"
	set.Usage = "Set the MIG mode of a GPU"
	set.ArgsUsage = "<enabled|disabled>"
	set.Flags = []cli.Flag{gpuFlag}
	set.Action = setModeWrapper

	mode.Subcommands = []*cli.Command{&set}
	return &mode
}

func buildGiCommand(gpuFlag cli.Flag) *cli.Command {
	gi := cli.Command{}
	gi.Name = "gi"
	gi.Usage = "Manage the GPU instances of a MIG-enabled GPU"

	list := cli.Command{}
	list.Name = "list"
	list.Usage = "List the GPU instances created on a GPU"
	list.Flags = []cli.Flag{gpuFlag}
	list.Action = listGiWrapper

	profiles := cli.Command{}
	profiles.Name = "profiles"
	profiles.Usage = "List the GPU instance profiles a GPU supports"
	profiles.Flags = []cli.Flag{gpuFlag}
	profiles.Action = giProfilesWrapper

	capacity := cli.Command{}
	capacity.Name = "capacity"
	capacity.Usage = "Show how many more instances of a profile fit on a GPU"
	capacity.ArgsUsage = "<profile-id>"
	capacity.Flags = []cli.Flag{gpuFlag}
	capacity.Action = giCapacityWrapper

	create := cli.Command{}
	create.Name = "create"
	create.Usage = "Create a GPU instance with the given profile"
	create.ArgsUsage = "<profile-id>"
	create.Flags = []cli.Flag{gpuFlag}
	create.Action = createGiWrapper

	destroy := cli.Command{}
	destroy.Name = "destroy"
	destroy.Usage = "Destroy a GPU instance"
	destroy.ArgsUsage = "<instance-id>"
	destroy.Flags = []cli.Flag{gpuFlag}
	destroy.Action = destroyGiWrapper

	gi.Subcommands = []*cli.Command{&list, &profiles, &capacity, &create, &destroy}
	return &gi
}

func buildCiCommand(gpuFlag, giFlag cli.Flag, f *Flags) *cli.Command {
	ci := cli.Command{}
	ci.Name = "ci"
	ci.Usage = "Manage the compute instances of a GPU instance"

	list := cli.Command{}
	list.Name = "list"
	list.Usage = "List the compute instances created on a GPU instance"
	list.Flags = []cli.Flag{gpuFlag, giFlag}
	list.Action = func(c *cli.Context) error {
		return listCiWrapper(c, f)
	}

	profiles := cli.Command{}
	profiles.Name = "profiles"
	profiles.Usage = "List the compute instance profiles a GPU instance supports"
	profiles.Flags = []cli.Flag{gpuFlag, giFlag}
	profiles.Action = func(c *cli.Context) error {
		return ciProfilesWrapper(c, f)
	}

	create := cli.Command{}
	create.Name = "create"
	create.Usage = "Create a compute instance with the given profile"
	create.ArgsUsage = "<profile-id>"
	create.Flags = []cli.Flag{gpuFlag, giFlag}
	create.Action = func(c *cli.Context) error {
		return createCiWrapper(c, f)
	}

	destroy := cli.Command{}
	destroy.Name = "destroy"
	destroy.Usage = "Destroy a compute instance"
	destroy.ArgsUsage = "<instance-id>"
	destroy.Flags = []cli.Flag{gpuFlag, giFlag}
	destroy.Action = func(c *cli.Context) error {
		return destroyCiWrapper(c, f)
	}

	ci.Subcommands = []*cli.Command{&list, &profiles, &create, &destroy}
	return &ci
}

func getModeWrapper(c *cli.Context) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}

	mode, err := util.NewClient(c).MigMode(gpuUUID)
	if err != nil {
		return fmt.Errorf("error getting MIG mode: %v", err)
	}

	fmt.Printf("current: %v\npending: %v\n", mode.Current, mode.Pending)
	return nil
}

func setModeWrapper(c *cli.Context) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return fmt.Errorf("expected a single <enabled|disabled> argument")
	}
	mode, err := types.ParseMigMode(c.Args().First())
	if err != nil {
		return err
	}

	result, err := util.NewClient(c).SetMigMode(gpuUUID, mode)
	if err != nil {
		return fmt.Errorf("error setting MIG mode: %v", err)
	}

	if result.Current != result.Pending {
		log.Warnf("MIG mode %v is pending a GPU reset", result.Pending)
	}
	fmt.Printf("current: %v\npending: %v\n", result.Current, result.Pending)
	return nil
}

func listGiWrapper(c *cli.Context) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}

	instances, err := util.NewClient(c).GPUInstances(gpuUUID)
	if err != nil {
		return fmt.Errorf("error listing GPU instances: %v", err)
	}

	for _, gi := range instances {
		fmt.Printf("%v: %v\n", gi.ID, gi.Profile)
	}
	return nil
}

func giProfilesWrapper(c *cli.Context) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}

	profiles, err := util.NewClient(c).GIProfiles(gpuUUID)
	if err != nil {
		return fmt.Errorf("error listing GPU instance profiles: %v", err)
	}

	for _, profile := range profiles {
		fmt.Printf("%v: %v (slices=%v, memory=%vMB)\n", profile.ID, profile, profile.SliceCount, profile.MemoryMB)
	}
	return nil
}

func giCapacityWrapper(c *cli.Context) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}
	gipID, err := profileArg(c, "<profile-id>")
	if err != nil {
		return err
	}

	capacity, err := util.NewClient(c).GICapacity(gpuUUID, gipID)
	if err != nil {
		return fmt.Errorf("error getting profile capacity: %v", err)
	}

	fmt.Println(capacity)
	return nil
}

func createGiWrapper(c *cli.Context) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}
	gipID, err := profileArg(c, "<profile-id>")
	if err != nil {
		return err
	}

	gi, err := util.NewClient(c).CreateGPUInstance(gpuUUID, gipID)
	if err != nil {
		return fmt.Errorf("error creating GPU instance: %v", err)
	}

	fmt.Printf("%v: %v\n", gi.ID, gi.Profile)
	return nil
}

func destroyGiWrapper(c *cli.Context) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return fmt.Errorf("expected a single <instance-id> argument")
	}
	id, err := strconv.Atoi(c.Args().First())
	if err != nil {
		return fmt.Errorf("malformed instance id '%v': %v", c.Args().First(), err)
	}

	if err := util.NewClient(c).DestroyGPUInstance(gpuUUID, id); err != nil {
		return fmt.Errorf("error destroying GPU instance: %v", err)
	}

	log.Infof("Destroyed GPU instance %v", id)
	return nil
}

func listCiWrapper(c *cli.Context, f *Flags) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}

	instances, err := util.NewClient(c).ComputeInstances(gpuUUID, f.GpuInstance)
	if err != nil {
		return fmt.Errorf("error listing compute instances: %v", err)
	}

	for _, ci := range instances {
		fmt.Printf("%v: %v\n", ci.ID, ci.Profile)
	}
	return nil
}

func ciProfilesWrapper(c *cli.Context, f *Flags) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}

	profiles, err := util.NewClient(c).CIProfiles(gpuUUID, f.GpuInstance)
	if err != nil {
		return fmt.Errorf("error listing compute instance profiles: %v", err)
	}

	for _, profile := range profiles {
		fmt.Printf("%v: %v (slices=%v)\n", profile.ID, profile, profile.SliceCount)
	}
	return nil
}

func createCiWrapper(c *cli.Context, f *Flags) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}
	cipID, err := profileArg(c, "<profile-id>")
	if err != nil {
		return err
	}

	ci, err := util.NewClient(c).CreateComputeInstance(gpuUUID, f.GpuInstance, cipID)
	if err != nil {
		return fmt.Errorf("error creating compute instance: %v", err)
	}

	fmt.Printf("%v: %v\n", ci.ID, ci.Profile)
	return nil
}

func destroyCiWrapper(c *cli.Context, f *Flags) error {
	gpuUUID, err := util.RequireGPU(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return fmt.Errorf("expected a single <instance-id> argument")
	}
	id, err := strconv.Atoi(c.Args().First())
	if err != nil {
		return fmt.Errorf("malformed instance id '%v': %v", c.Args().First(), err)
	}

	if err := util.NewClient(c).DestroyComputeInstance(gpuUUID, f.GpuInstance, id); err != nil {
		return fmt.Errorf("error destroying compute instance: %v", err)
	}

	log.Infof("Destroyed compute instance %v", id)
	return nil
}

func profileArg(c *cli.Context, usage string) (uint32, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("expected a single %v argument", usage)
	}
	id, err := strconv.ParseUint(c.Args().First(), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed profile id '%v': %v", c.Args().First(), err)
	}
	return uint32(id), nil
}
