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

package nvml

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Return wraps an NVML return code so that code built against this package
// never compares raw library enums directly.
type Return interface {
	Value() int
	String() string
}

type nvmlReturn nvml.Return

// MockReturn is used by mock implementations to fabricate return codes.
type MockReturn int

var _ Return = (nvmlReturn)(0)
var _ Return = (MockReturn)(0)

func (r nvmlReturn) Value() int {
	return int(r)
}

func (r nvmlReturn) String() string {
	return nvml.Return(r).Error()
}

func (r MockReturn) Value() int {
	return int(r)
}

func (r MockReturn) String() string {
	switch int(r) {
	case SUCCESS:
		return "SUCCESS"
	case ERROR_UNINITIALIZED:
		return "ERROR_UNINITIALIZED"
	case ERROR_INVALID_ARGUMENT:
		return "ERROR_INVALID_ARGUMENT"
	case ERROR_NOT_SUPPORTED:
		return "ERROR_NOT_SUPPORTED"
	case ERROR_NO_PERMISSION:
		return "ERROR_NO_PERMISSION"
	case ERROR_NOT_FOUND:
		return "ERROR_NOT_FOUND"
	case ERROR_IN_USE:
		return "ERROR_IN_USE"
	}
	return fmt.Sprintf("ERROR_CODE(%d)", int(r))
}
