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

package v1

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Version indicates the version of the 'Spec' struct used to hold declarative partition configurations.
const Version = "v1"

// Spec is a versioned struct used to hold named partition configurations.
type Spec struct {
	Version          string                              `json:"version"                     yaml:"version"`
	PartitionConfigs map[string]PartitionConfigSpecSlice `json:"partition-configs,omitempty" yaml:"partition-configs,omitempty"`
}

// PartitionConfigSpec declares the desired set of partitions for a set of GPUs
// as a multiset of vGPU type ids.
type PartitionConfigSpec struct {
	DeviceFilter interface{} `json:"device-filter,omitempty" yaml:"device-filter,flow,omitempty"`
	Devices      interface{} `json:"devices"                 yaml:"devices,flow"`
	Partitions   []uint32    `json:"partitions"              yaml:"partitions,flow" validate:"dive,gte=1"`
}

// PartitionConfigSpecSlice represents a slice of 'PartitionConfigSpec'.
type PartitionConfigSpecSlice []PartitionConfigSpec

// UnmarshalJSON unmarshals raw bytes into a versioned 'Spec'.
func (s *Spec) UnmarshalJSON(b []byte) error {
	spec := make(map[string]json.RawMessage)
	err := json.Unmarshal(b, &spec)
	if err != nil {
		return err
	}

	if !containsKey(spec, "version") && len(spec) > 0 {
		return fmt.Errorf("unable to parse with missing 'version' field")
	}

	result := Spec{}
	for k, v := range spec {
		switch k {
		case "version":
			var version string
			err := json.Unmarshal(v, &version)
			if err != nil {
				return err
			}
			result.Version = version
		}
	}

	if result.Version != Version {
		return fmt.Errorf("unknown version: %v", result.Version)
	}

	delete(spec, "version")
	for k, v := range spec {
		switch k {
		case "partition-configs":
			configs := map[string]PartitionConfigSpecSlice{}
			err := json.Unmarshal(v, &configs)
			if err != nil {
				return err
			}
			if len(configs) == 0 {
				return fmt.Errorf("at least one entry in '%v' is required", k)
			}
			for c, s := range configs {
				if len(s) == 0 {
					return fmt.Errorf("at least one entry in '%v' is required", c)
				}
			}
			result.PartitionConfigs = configs
		default:
			return fmt.Errorf("unexpected field: %v", k)
		}
	}

	*s = result
	return nil
}

// UnmarshalJSON unmarshals raw bytes into a 'PartitionConfigSpec'.
func (s *PartitionConfigSpec) UnmarshalJSON(b []byte) error {
	spec := make(map[string]json.RawMessage)
	err := json.Unmarshal(b, &spec)
	if err != nil {
		return err
	}

	required := []string{"devices", "partitions"}
	for _, r := range required {
		if !containsKey(spec, r) {
			return fmt.Errorf("missing required field: %v", r)
		}
	}

	result := PartitionConfigSpec{}
	for k, v := range spec {
		switch k {
		case "device-filter":
			var str string
			err1 := json.Unmarshal(v, &str)
			if err1 == nil {
				result.DeviceFilter = str
				break
			}
			var strslice []string
			err2 := json.Unmarshal(v, &strslice)
			if err2 == nil {
				result.DeviceFilter = strslice
				break
			}
			return fmt.Errorf("(%v, %v)", err1, err2)
		case "devices":
			var str string
			err1 := json.Unmarshal(v, &str)
			if err1 == nil {
				if str != "all" {
					return fmt.Errorf("invalid string input for '%v': %v", k, str)
				}
				result.Devices = str
				break
			}
			var intslice []int
			err2 := json.Unmarshal(v, &intslice)
			if err2 == nil {
				result.Devices = intslice
				break
			}
			return fmt.Errorf("(%v, %v)", err1, err2)
		case "partitions":
			var partitions []uint32
			err := json.Unmarshal(v, &partitions)
			if err != nil {
				return err
			}
			result.Partitions = partitions
		default:
			return fmt.Errorf("unexpected field: %v", k)
		}
	}

	if err := validate.Struct(&result); err != nil {
		return fmt.Errorf("error validating 'partitions' field: %v", err)
	}

	*s = result
	return nil
}

var validate = validator.New()

func containsKey(m map[string]json.RawMessage, s string) bool {
	_, exists := m[s]
	return exists
}
