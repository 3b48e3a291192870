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
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/virtaccel/gpu-partd/pkg/types"
	"github.com/virtaccel/gpu-partd/pkg/vgpu"
)

// The vpart and hpart route families share the same engine operations; the
// partition use only namespaces the URLs and tags the logs.

func (s *Server) listPartitionTypes(use types.PartitionUse) gpuHandler {
	return func(c *gin.Context, gpu *vgpu.GPU) {
		creatable := false
		if v := c.Query("creatable"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				s.badRequest(c, fmt.Errorf("invalid 'creatable' value '%v'", v))
				return
			}
			creatable = b
		}

		var (
			partitionTypes []types.PartitionType
			err            error
		)
		if creatable {
			partitionTypes, err = gpu.CreatableTypes()
		} else {
			partitionTypes, err = gpu.SupportedTypes()
		}
		if err != nil {
			s.abort(c, err)
			return
		}
		if partitionTypes == nil {
			partitionTypes = []types.PartitionType{}
		}
		c.JSON(http.StatusOK, partitionTypes)
	}
}

func (s *Server) listPartitions(use types.PartitionUse) gpuHandler {
	return func(c *gin.Context, gpu *vgpu.GPU) {
		partitions, err := gpu.Partitions()
		if err != nil {
			s.abort(c, err)
			return
		}

		models := make([]types.Partition, 0, len(partitions))
		for _, p := range partitions {
			models = append(models, p.ToWire())
		}
		c.JSON(http.StatusOK, models)
	}
}

func (s *Server) createPartition(use types.PartitionUse) gpuHandler {
	return func(c *gin.Context, gpu *vgpu.GPU) {
		typeID, err := strconv.ParseUint(c.Query("type_id"), 10, 32)
		if err != nil {
			s.badRequest(c, fmt.Errorf("invalid 'type_id' value '%v'", c.Query("type_id")))
			return
		}

		p, err := gpu.CreatePartition(uint32(typeID))
		if err != nil {
			s.abort(c, err)
			return
		}

		s.log.WithFields(logrus.Fields{
			"gpu":  gpu.UUID,
			"use":  use,
			"type": typeID,
		}).Infof("created partition %v", p.UUID)
		c.JSON(http.StatusOK, p.ToWire())
	}
}

func (s *Server) destroyPartition(use types.PartitionUse) gpuHandler {
	return func(c *gin.Context, gpu *vgpu.GPU) {
		u, err := uuid.Parse(c.Param("partition"))
		if err != nil {
			s.badRequest(c, fmt.Errorf("invalid partition uuid '%v'", c.Param("partition")))
			return
		}

		p, err := gpu.PartitionByUUID(u)
		if err != nil {
			s.abort(c, err)
			return
		}
		if err := p.Destroy(); err != nil {
			s.abort(c, err)
			return
		}

		s.log.WithFields(logrus.Fields{
			"gpu": gpu.UUID,
			"use": use,
		}).Infof("destroyed partition %v", u)
		c.JSON(http.StatusOK, okResponse{OK: true})
	}
}
