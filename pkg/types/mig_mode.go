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

package types

import (
	"encoding/json"
	"fmt"
)

// MigMode represents the MIG operating mode of a GPU. It is a single global
// flag per GPU; a set mode only becomes current after a device reset, so a
// GPU carries both a current and a pending value.
type MigMode int

const (
	MigDisabled MigMode = iota
	MigEnabled
)

// ParseMigMode parses a 'MigMode' from its string representation.
func ParseMigMode(str string) (MigMode, error) {
	switch str {
	case "disabled":
		return MigDisabled, nil
	case "enabled":
		return MigEnabled, nil
	}
	return MigDisabled, fmt.Errorf("invalid MIG mode: '%v'", str)
}

// String returns a 'MigMode' as a string.
func (m MigMode) String() string {
	switch m {
	case MigDisabled:
		return "disabled"
	case MigEnabled:
		return "enabled"
	}
	return fmt.Sprintf("unknown(%d)", int(m))
}

// MarshalJSON marshals a 'MigMode' to its string representation.
func (m MigMode) MarshalJSON() ([]byte, error) {
	switch m {
	case MigDisabled, MigEnabled:
		return json.Marshal(m.String())
	}
	return nil, fmt.Errorf("invalid MIG mode: %v", int(m))
}

// UnmarshalJSON unmarshals a 'MigMode' from its string representation.
func (m *MigMode) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	mode, err := ParseMigMode(str)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}
