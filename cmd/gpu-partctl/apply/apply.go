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

package apply

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"sigs.k8s.io/yaml"

	hooks "github.com/virtaccel/gpu-partd/api/hooks/v1"
	v1 "github.com/virtaccel/gpu-partd/api/spec/v1"
	"github.com/virtaccel/gpu-partd/cmd/gpu-partctl/util"
	"github.com/virtaccel/gpu-partd/pkg/vgpu"
)

var log = logrus.New()

// GetLogger returns the 'logrus.Logger' instance used by this package.
func GetLogger() *logrus.Logger {
	return log
}

// Flags holds variables that represent the set of flags that can be passed
// to the 'apply' subcommand.
type Flags struct {
	ConfigFile     string
	SelectedConfig string
	HooksFile      string
}

// BuildCommand builds the 'apply' subcommand for injection into the main gpu-partctl CLI.
func BuildCommand() *cli.Command {
	applyFlags := Flags{}

	apply := cli.Command{}
	apply.Name = "apply"
	apply.Usage = "Apply a partition configuration from a configuration file to the GPUs on this host"
	apply.Action = func(c *cli.Context) error {
		return applyWrapper(c, &applyFlags)
	}

	apply.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config-file",
			Aliases:     []string{"f"},
			Usage:       "Path to the configuration file",
			Destination: &applyFlags.ConfigFile,
			EnvVars:     []string{"GPU_PARTCTL_CONFIG_FILE"},
		},
		&cli.StringFlag{
			Name:        "selected-config",
			Aliases:     []string{"c"},
			Usage:       "The label of the partition-config from the config file to apply",
			Destination: &applyFlags.SelectedConfig,
			EnvVars:     []string{"GPU_PARTCTL_SELECTED_CONFIG"},
		},
		&cli.StringFlag{
			Name:        "hooks-file",
			Aliases:     []string{"k"},
			Usage:       "Path to the hooks file",
			Destination: &applyFlags.HooksFile,
			EnvVars:     []string{"GPU_PARTCTL_HOOKS_FILE"},
		},
	}

	return &apply
}

// ParseHooksFile parses a hooks file and unmarshals it into a 'hooks.Spec'.
func ParseHooksFile(hooksFile string) (*hooks.Spec, error) {
	hooksYaml, err := os.ReadFile(hooksFile)
	if err != nil {
		return nil, fmt.Errorf("read error: %v", err)
	}

	var spec hooks.Spec
	err = yaml.Unmarshal(hooksYaml, &spec)
	if err != nil {
		return nil, fmt.Errorf("unmarshal error: %v", err)
	}

	return &spec, nil
}

// CheckFlags ensures that any required flags are provided and ensures they are well-formed.
func CheckFlags(f *Flags) error {
	if f.ConfigFile == "" {
		return fmt.Errorf("missing required flag 'config-file'")
	}
	return nil
}

// ParseConfigFile parses a configuration file and unmarshals it into a 'v1.Spec'.
func ParseConfigFile(f *Flags) (*v1.Spec, error) {
	configYaml, err := os.ReadFile(f.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("read error: %v", err)
	}

	var spec v1.Spec
	err = yaml.Unmarshal(configYaml, &spec)
	if err != nil {
		return nil, fmt.Errorf("unmarshal error: %v", err)
	}

	// An empty document decodes to YAML null and leaves the spec zero
	// without its unmarshaler ever running.
	if spec.Version == "" {
		return nil, fmt.Errorf("empty config file '%v'", f.ConfigFile)
	}

	return &spec, nil
}

func applyWrapper(c *cli.Context, f *Flags) error {
	err := CheckFlags(f)
	if err != nil {
		_ = cli.ShowSubcommandHelp(c)
		return err
	}

	log.Debugf("Parsing config file...")
	spec, err := ParseConfigFile(f)
	if err != nil {
		return fmt.Errorf("error parsing config file: %v", err)
	}

	selected := f.SelectedConfig
	if selected == "" {
		if len(spec.PartitionConfigs) != 1 {
			return fmt.Errorf("missing required flag 'selected-config' when more than one config available")
		}
		for name := range spec.PartitionConfigs {
			selected = name
		}
	}

	loaded, err := util.IsNvidiaModuleLoaded()
	if err != nil {
		return err
	}
	if !loaded {
		ids, err := util.PciGPUDeviceIDs()
		if err != nil {
			return err
		}
		return fmt.Errorf("nvidia module not loaded (%v NVIDIA device(s) on the PCI bus)", len(ids))
	}

	applyHooks := hooks.HooksMap{}
	if f.HooksFile != "" {
		log.Debugf("Parsing hooks file...")
		hooksSpec, err := ParseHooksFile(f.HooksFile)
		if err != nil {
			return fmt.Errorf("error parsing hooks file: %v", err)
		}
		applyHooks = hooksSpec.Hooks
	}

	hookEnvs := hooks.EnvsMap{
		"GPU_PARTCTL_CONFIG_FILE":     f.ConfigFile,
		"GPU_PARTCTL_SELECTED_CONFIG": selected,
	}

	log.Debugf("Running pre-apply hooks...")
	if err := applyHooks.Run("pre-apply", hookEnvs, c.Bool("debug")); err != nil {
		return err
	}

	log.Debugf("Applying selected config...")
	err = vgpu.New().ApplyConfig(spec, selected)
	if err != nil {
		return fmt.Errorf("error applying config '%v': %v", selected, err)
	}

	log.Debugf("Running post-apply hooks...")
	if err := applyHooks.Run("post-apply", hookEnvs, c.Bool("debug")); err != nil {
		return err
	}

	fmt.Println("Partition configuration applied successfully")
	return nil
}
