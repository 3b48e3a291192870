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

package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/virtaccel/gpu-partd/pkg/types"
)

// DefaultBaseURL is where a locally running daemon listens.
const DefaultBaseURL = "http://localhost:5000"

// Client is a thin JSON binding for the daemon API, one method per route.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for a daemon at the given base URL. An empty
// base URL means DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: baseURL, http: http.DefaultClient}
}

func (c *Client) GPUs() ([]GPUModel, error) {
	var gpus []GPUModel
	return gpus, c.do(http.MethodGet, "/gpu", nil, &gpus)
}

func (c *Client) SupportedTypes(gpuUUID string, use types.PartitionUse) ([]types.PartitionType, error) {
	var partitionTypes []types.PartitionType
	path := fmt.Sprintf("/gpu/%v/%v/types", gpuUUID, usePath(use))
	return partitionTypes, c.do(http.MethodGet, path, nil, &partitionTypes)
}

func (c *Client) CreatableTypes(gpuUUID string, use types.PartitionUse) ([]types.PartitionType, error) {
	var partitionTypes []types.PartitionType
	path := fmt.Sprintf("/gpu/%v/%v/types", gpuUUID, usePath(use))
	query := url.Values{"creatable": []string{"true"}}
	return partitionTypes, c.do(http.MethodGet, path, query, &partitionTypes)
}

func (c *Client) Partitions(gpuUUID string, use types.PartitionUse) ([]types.Partition, error) {
	var partitions []types.Partition
	path := fmt.Sprintf("/gpu/%v/%v", gpuUUID, usePath(use))
	return partitions, c.do(http.MethodGet, path, nil, &partitions)
}

func (c *Client) CreatePartition(gpuUUID string, use types.PartitionUse, typeID uint32) (types.Partition, error) {
	var partition types.Partition
	path := fmt.Sprintf("/gpu/%v/%v", gpuUUID, usePath(use))
	query := url.Values{"type_id": []string{fmt.Sprintf("%d", typeID)}}
	return partition, c.do(http.MethodPost, path, query, &partition)
}

func (c *Client) DestroyPartition(gpuUUID string, use types.PartitionUse, partitionUUID uuid.UUID) error {
	var ok okResponse
	path := fmt.Sprintf("/gpu/%v/%v/%v", gpuUUID, usePath(use), partitionUUID)
	return c.do(http.MethodDelete, path, nil, &ok)
}

func (c *Client) MigMode(gpuUUID string) (MigModeModel, error) {
	var mode MigModeModel
	path := fmt.Sprintf("/gpu/%v/mig/mode", gpuUUID)
	return mode, c.do(http.MethodGet, path, nil, &mode)
}

func (c *Client) SetMigMode(gpuUUID string, mode types.MigMode) (MigModeModel, error) {
	var result MigModeModel
	path := fmt.Sprintf("/gpu/%v/mig/mode", gpuUUID)
	body := struct {
		Mode types.MigMode `json:"mode"`
	}{Mode: mode}
	return result, c.doJSON(http.MethodPost, path, body, &result)
}

func (c *Client) GPUInstances(gpuUUID string) ([]GPUInstanceModel, error) {
	var instances []GPUInstanceModel
	path := fmt.Sprintf("/gpu/%v/mig/gi", gpuUUID)
	return instances, c.do(http.MethodGet, path, nil, &instances)
}

func (c *Client) GPUInstance(gpuUUID string, id int) (GPUInstanceModel, error) {
	var gi GPUInstanceModel
	path := fmt.Sprintf("/gpu/%v/mig/gi/%d", gpuUUID, id)
	return gi, c.do(http.MethodGet, path, nil, &gi)
}

func (c *Client) CreateGPUInstance(gpuUUID string, gipID uint32) (GPUInstanceModel, error) {
	var gi GPUInstanceModel
	path := fmt.Sprintf("/gpu/%v/mig/gi", gpuUUID)
	query := url.Values{"gip_id": []string{fmt.Sprintf("%d", gipID)}}
	return gi, c.do(http.MethodPost, path, query, &gi)
}

func (c *Client) DestroyGPUInstance(gpuUUID string, id int) error {
	var ok okResponse
	path := fmt.Sprintf("/gpu/%v/mig/gi/%d", gpuUUID, id)
	return c.do(http.MethodDelete, path, nil, &ok)
}

func (c *Client) GIProfiles(gpuUUID string) ([]types.GIProfile, error) {
	var profiles []types.GIProfile
	path := fmt.Sprintf("/gpu/%v/mig/gi/profile", gpuUUID)
	return profiles, c.do(http.MethodGet, path, nil, &profiles)
}

func (c *Client) GICapacity(gpuUUID string, gipID uint32) (int, error) {
	var capacity CapacityModel
	path := fmt.Sprintf("/gpu/%v/mig/gi/profile/%d/capacity", gpuUUID, gipID)
	return capacity.Capacity, c.do(http.MethodGet, path, nil, &capacity)
}

func (c *Client) ComputeInstances(gpuUUID string, giID int) ([]ComputeInstanceModel, error) {
	var instances []ComputeInstanceModel
	path := fmt.Sprintf("/gpu/%v/mig/gi/%d/ci", gpuUUID, giID)
	return instances, c.do(http.MethodGet, path, nil, &instances)
}

func (c *Client) CIProfiles(gpuUUID string, giID int) ([]types.CIProfile, error) {
	var profiles []types.CIProfile
	path := fmt.Sprintf("/gpu/%v/mig/gi/%d/ci/profile", gpuUUID, giID)
	return profiles, c.do(http.MethodGet, path, nil, &profiles)
}

func (c *Client) CreateComputeInstance(gpuUUID string, giID int, cipID uint32) (ComputeInstanceModel, error) {
	var ci ComputeInstanceModel
	path := fmt.Sprintf("/gpu/%v/mig/gi/%d/ci", gpuUUID, giID)
	query := url.Values{"cip_id": []string{fmt.Sprintf("%d", cipID)}}
	return ci, c.do(http.MethodPost, path, query, &ci)
}

func (c *Client) DestroyComputeInstance(gpuUUID string, giID, ciID int) error {
	var ok okResponse
	path := fmt.Sprintf("/gpu/%v/mig/gi/%d/ci/%d", gpuUUID, giID, ciID)
	return c.do(http.MethodDelete, path, nil, &ok)
}

func (c *Client) do(method, path string, query url.Values, out interface{}) error {
	return c.request(method, path, query, nil, out)
}

func (c *Client) doJSON(method, path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error encoding request body: %v", err)
	}
	return c.request(method, path, nil, data, out)
}

func (c *Client) request(method, path string, query url.Values, body []byte, out interface{}) error {
	u := c.baseURL + "/api/v1" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return fmt.Errorf("error building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if err := json.Unmarshal(data, &e); err == nil && e.Error != "" {
			return fmt.Errorf("%v %v: %v", method, path, e.Error)
		}
		return fmt.Errorf("%v %v: unexpected status %v", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error decoding response: %v", err)
	}
	return nil
}

func usePath(use types.PartitionUse) string {
	if use == types.HostPartition {
		return "hpart"
	}
	return "vpart"
}
