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

package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"sigs.k8s.io/yaml"

	v1 "github.com/virtaccel/gpu-partd/api/spec/v1"
	"github.com/virtaccel/gpu-partd/pkg/vgpu"
)

var log = logrus.New()

// GetLogger returns the 'logrus.Logger' instance used by this package.
func GetLogger() *logrus.Logger {
	return log
}

const (
	JSONFormat         = "json"
	YAMLFormat         = "yaml"
	DefaultConfigLabel = "current"
)

// Flags holds variables that represent the set of flags that can be passed
// to the 'export' subcommand.
type Flags struct {
	OutputFormat string
	ConfigLabel  string
}

// BuildCommand builds the 'export' subcommand for injection into the main gpu-partctl CLI.
func BuildCommand() *cli.Command {
	exportFlags := Flags{}

	export := cli.Command{}
	export.Name = "export"
	export.Usage = "Export the partition layout of all GPUs as a configuration file"
	export.Action = func(c *cli.Context) error {
		return exportWrapper(c, &exportFlags)
	}

	export.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "output-format",
			Aliases:     []string{"o"},
			Usage:       "Format for the output [json | yaml]",
			Destination: &exportFlags.OutputFormat,
			Value:       YAMLFormat,
			EnvVars:     []string{"GPU_PARTCTL_OUTPUT_FORMAT"},
		},
		&cli.StringFlag{
			Name:        "config-label",
			Aliases:     []string{"l"},
			Usage:       "Label to apply to the exported config",
			Destination: &exportFlags.ConfigLabel,
			Value:       DefaultConfigLabel,
			EnvVars:     []string{"GPU_PARTCTL_CONFIG_LABEL"},
		},
	}

	return &export
}

func exportWrapper(c *cli.Context, f *Flags) error {
	err := CheckFlags(f)
	if err != nil {
		_ = cli.ShowSubcommandHelp(c)
		return err
	}

	spec, err := ExportPartitionConfigs(vgpu.New(), f.ConfigLabel)
	if err != nil {
		return err
	}

	return WriteOutput(os.Stdout, spec, f)
}

// CheckFlags ensures that any required flags are provided and ensures they are well-formed.
func CheckFlags(f *Flags) error {
	switch f.OutputFormat {
	case JSONFormat:
	case YAMLFormat:
	default:
		return fmt.Errorf("unrecognized 'output-format': %v", f.OutputFormat)
	}
	return nil
}

// ExportPartitionConfigs builds a 'v1.Spec' describing the partitions
// currently created on every GPU of this host. Applying the exported spec
// on an identical host reproduces the layout.
func ExportPartitionConfigs(manager *vgpu.Manager, label string) (*v1.Spec, error) {
	gpus, err := manager.GPUs()
	if err != nil {
		return nil, fmt.Errorf("error enumerating GPUs: %v", err)
	}
	defer func() {
		for _, gpu := range gpus {
			_ = gpu.Release()
		}
	}()

	var configs []v1.PartitionConfigSpec
	for i, gpu := range gpus {
		partitions, err := gpu.Partitions()
		if err != nil {
			return nil, fmt.Errorf("error listing partitions of GPU %v: %v", gpu.UUID, err)
		}

		typeIDs := []uint32{}
		for _, p := range partitions {
			typeIDs = append(typeIDs, p.Type.ID)
		}

		configs = append(configs, v1.PartitionConfigSpec{
			DeviceFilter: gpu.DeviceID.String(),
			Devices:      []int{i},
			Partitions:   typeIDs,
		})
	}

	spec := v1.Spec{
		Version: v1.Version,
		PartitionConfigs: map[string]v1.PartitionConfigSpecSlice{
			label: configs,
		},
	}
	return &spec, nil
}

// WriteOutput renders a 'v1.Spec' to the given writer in the selected format.
func WriteOutput(w io.Writer, spec *v1.Spec, f *Flags) error {
	switch f.OutputFormat {
	case YAMLFormat:
		output, err := yaml.Marshal(spec)
		if err != nil {
			return fmt.Errorf("error marshaling partition config to YAML: %v", err)
		}
		if _, err := w.Write(output); err != nil {
			return fmt.Errorf("error writing YAML output: %w", err)
		}
	case JSONFormat:
		output, err := json.MarshalIndent(spec, "", "  ")
		if err != nil {
			return fmt.Errorf("error marshaling partition config to JSON: %v", err)
		}
		if _, err := w.Write(output); err != nil {
			return fmt.Errorf("error writing JSON output: %w", err)
		}
	}
	return nil
}
