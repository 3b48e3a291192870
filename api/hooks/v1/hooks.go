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

// Package v1 defines the hooks file format for 'gpu-partctl apply'. Hooks
// are arbitrary commands run at named stages around the application of a
// partition configuration, e.g. to drain VMs before partitions are
// destroyed.
package v1

import (
	"fmt"
	"os"
	"os/exec"
)

// Version indicates the version of the 'Spec' struct used to hold hooks information.
const Version = "v1"

// Spec is a versioned struct used to hold hooks information.
type Spec struct {
	Version string   `json:"version"`
	Hooks   HooksMap `json:"hooks"`
}

// HookSpec holds the definition of an individual hook.
type HookSpec struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Envs    EnvsMap  `json:"envs"`
	Workdir string   `json:"workdir"`
}

// EnvsMap holds the environment variables passed to a hook command.
type EnvsMap map[string]string

// HooksMap maps stage names to the list of hooks run at that stage.
type HooksMap map[string][]HookSpec

// Run executes all hooks registered for the given stage, in order. A stage
// with no hooks is a no-op.
func (h HooksMap) Run(stage string, envs EnvsMap, output bool) error {
	for _, hook := range h[stage] {
		err := hook.Run(envs, output)
		if err != nil {
			return fmt.Errorf("error running hook for stage '%v': %v", stage, err)
		}
	}
	return nil
}

// Run executes the hook command with its environment merged over 'envs'.
func (h *HookSpec) Run(envs EnvsMap, output bool) error {
	cmd := exec.Command(h.Command, h.Args...)
	cmd.Env = envs.Combine(h.Envs).Format()
	cmd.Dir = h.Workdir
	if output {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	return cmd.Run()
}

// Combine merges two 'EnvsMap's, with values from 'e2' taking precedence.
func (e1 EnvsMap) Combine(e2 EnvsMap) EnvsMap {
	combined := make(EnvsMap)
	for k, v := range e1 {
		combined[k] = v
	}
	for k, v := range e2 {
		combined[k] = v
	}
	return combined
}

// Format renders an 'EnvsMap' as a list of KEY=VALUE strings.
func (e EnvsMap) Format() []string {
	var envs []string
	for k, v := range e {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}
