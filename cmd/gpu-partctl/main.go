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

package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/virtaccel/gpu-partd/api/rest"
	"github.com/virtaccel/gpu-partd/cmd/gpu-partctl/apply"
	"github.com/virtaccel/gpu-partd/cmd/gpu-partctl/export"
	"github.com/virtaccel/gpu-partd/cmd/gpu-partctl/gpu"
	"github.com/virtaccel/gpu-partd/cmd/gpu-partctl/mig"
	"github.com/virtaccel/gpu-partd/cmd/gpu-partctl/partition"
	"github.com/virtaccel/gpu-partd/cmd/gpu-partctl/util"
)

// Flags holds the set of top level flags that can be passed to the gpu-partctl CLI.
type Flags struct {
	Debug bool
	URL   string
}

func main() {
	flags := Flags{}

	c := cli.NewApp()
	c.Name = "gpu-partctl"
	c.UseShortOptionHandling = true
	c.EnableBashCompletion = true
	c.Usage = "Manage vGPU and MIG partitions on the NVIDIA GPUs of a host"
	c.Version = "0.1.0"

	c.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:        "debug",
			Aliases:     []string{"d"},
			Usage:       "Enable debug-level logging",
			Destination: &flags.Debug,
			EnvVars:     []string{"GPU_PARTCTL_DEBUG"},
		},
		&cli.StringFlag{
			Name:        "url",
			Usage:       "Base URL of the gpu-partd daemon",
			Value:       rest.DefaultBaseURL,
			Destination: &flags.URL,
			EnvVars:     []string{"GPU_PARTCTL_URL"},
		},
	}

	c.Commands = []*cli.Command{
		gpu.BuildCommand(),
		partition.BuildCommand(),
		mig.BuildCommand(),
		apply.BuildCommand(),
		export.BuildCommand(),
	}

	c.Before = func(c *cli.Context) error {
		logLevel := log.InfoLevel
		if flags.Debug {
			logLevel = log.DebugLevel
		}
		gpuLog := gpu.GetLogger()
		gpuLog.SetLevel(logLevel)
		partitionLog := partition.GetLogger()
		partitionLog.SetLevel(logLevel)
		migLog := mig.GetLogger()
		migLog.SetLevel(logLevel)
		applyLog := apply.GetLogger()
		applyLog.SetLevel(logLevel)
		exportLog := export.GetLogger()
		exportLog.SetLevel(logLevel)
		return nil
	}

	err := c.Run(os.Args)
	if err != nil {
		log.Fatal(util.Capitalize(err.Error()))
	}
}
