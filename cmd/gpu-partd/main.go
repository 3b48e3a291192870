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

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/virtaccel/gpu-partd/api/rest"
	"github.com/virtaccel/gpu-partd/pkg/vgpu"
)

// Flags holds the set of top level flags that can be passed to the gpu-partd daemon.
type Flags struct {
	Address string
	Debug   bool
}

func main() {
	flags := Flags{}

	c := cli.NewApp()
	c.Name = "gpu-partd"
	c.UseShortOptionHandling = true
	c.EnableBashCompletion = true
	c.Usage = "Serve the GPU partition API for the NVIDIA GPUs on this host"
	c.Version = "0.1.0"

	c.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "address",
			Aliases:     []string{"a"},
			Usage:       "Address for the API server to listen on",
			Value:       ":5000",
			Destination: &flags.Address,
			EnvVars:     []string{"GPU_PARTD_ADDRESS"},
		},
		&cli.BoolFlag{
			Name:        "debug",
			Aliases:     []string{"d"},
			Usage:       "Enable debug-level logging",
			Destination: &flags.Debug,
			EnvVars:     []string{"GPU_PARTD_DEBUG"},
		},
	}

	c.Action = func(c *cli.Context) error {
		return run(&flags)
	}

	err := c.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(f *Flags) error {
	logger := log.StandardLogger()
	if f.Debug {
		logger.SetLevel(log.DebugLevel)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := rest.NewServer(vgpu.New(), logger)

	logger.Infof("Serving the partition API on %v", f.Address)
	return server.Run(f.Address)
}
