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

package vgpu

import (
	"bytes"
	"fmt"
	"os/exec"
)

const sriovManagePath = "/usr/lib/nvidia/sriov-manage"

// runSriovManage invokes the vendor's SR-IOV management script. Overridable
// for tests.
var runSriovManage = func(flag string, busID string) ([]byte, error) {
	return exec.Command(sriovManagePath, flag, busID).CombinedOutput()
}

// SetSriovEnabled switches SR-IOV on or off for the GPU through the
// vendor's sriov-manage script. The script exits zero even on permission
// failures, so its output is checked as well.
func (g *GPU) SetSriovEnabled(enable bool) error {
	flag := "-d"
	if enable {
		flag = "-e"
	}
	out, err := runSriovManage(flag, g.BusID)
	if err != nil {
		return fmt.Errorf("error running sriov-manage for GPU '%v': %v: %s", g.UUID, err, out)
	}
	if bytes.Contains(out, []byte("Permission denied")) {
		return fmt.Errorf("sriov-manage: permission denied managing SR-IOV on GPU '%v'", g.UUID)
	}
	return nil
}
