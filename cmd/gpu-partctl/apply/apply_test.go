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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfigFile(t *testing.T) {
	testCases := []struct {
		description string
		contents    string
		valid       bool
	}{
		{
			"Well formed",
			`
version: v1
partition-configs:
  default:
    - devices: all
      partitions: [470, 470]
`,
			true,
		},
		{
			"Empty file",
			"",
			false,
		},
		{
			"Whitespace only",
			"\n\n",
			false,
		},
		{
			"Missing version",
			`
partition-configs:
  default:
    - devices: all
      partitions: [1]
`,
			false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.contents), 0644))

			spec, err := ParseConfigFile(&Flags{ConfigFile: path})
			if !tc.valid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "v1", spec.Version)
			require.Len(t, spec.PartitionConfigs, 1)
		})
	}
}

func TestParseConfigFileMissing(t *testing.T) {
	_, err := ParseConfigFile(&Flags{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
}
