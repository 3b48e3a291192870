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

	"github.com/virtaccel/gpu-partd/pkg/types"
	"github.com/virtaccel/gpu-partd/pkg/vgpu"
)

func (s *Server) getMigMode(c *gin.Context, gpu *vgpu.GPU) {
	current, pending, err := gpu.MigMode()
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, MigModeModel{Current: current, Pending: pending})
}

func (s *Server) setMigMode(c *gin.Context, gpu *vgpu.GPU) {
	var body struct {
		Mode *types.MigMode `json:"mode"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, fmt.Errorf("invalid mode request: %v", err))
		return
	}
	if body.Mode == nil {
		s.badRequest(c, fmt.Errorf("missing 'mode' field"))
		return
	}

	if err := gpu.SetMigMode(*body.Mode); err != nil {
		s.abort(c, err)
		return
	}

	current, pending, err := gpu.MigMode()
	if err != nil {
		s.abort(c, err)
		return
	}
	s.log.WithField("gpu", gpu.UUID).Infof("MIG mode set to %v", *body.Mode)
	c.JSON(http.StatusOK, MigModeModel{Current: current, Pending: pending})
}

func (s *Server) listGPUInstances(c *gin.Context, gpu *vgpu.GPU) {
	instances, err := gpu.GPUInstances()
	if err != nil {
		s.abort(c, err)
		return
	}

	models := make([]GPUInstanceModel, 0, len(instances))
	for _, gi := range instances {
		models = append(models, giModel(gi))
	}
	c.JSON(http.StatusOK, models)
}

func (s *Server) createGPUInstance(c *gin.Context, gpu *vgpu.GPU) {
	gipID, err := strconv.ParseUint(c.Query("gip_id"), 10, 32)
	if err != nil {
		s.badRequest(c, fmt.Errorf("invalid 'gip_id' value '%v'", c.Query("gip_id")))
		return
	}

	gi, err := gpu.CreateGPUInstance(uint32(gipID))
	if err != nil {
		s.abort(c, err)
		return
	}

	s.log.WithField("gpu", gpu.UUID).Infof("created GPU instance %v (%v)", gi.ID, gi.Profile)
	c.JSON(http.StatusOK, giModel(gi))
}

func (s *Server) listGIProfiles(c *gin.Context, gpu *vgpu.GPU) {
	profiles, err := gpu.SupportedGIProfiles()
	if err != nil {
		s.abort(c, err)
		return
	}
	if profiles == nil {
		profiles = []types.GIProfile{}
	}
	c.JSON(http.StatusOK, profiles)
}

func (s *Server) getGICapacity(c *gin.Context, gpu *vgpu.GPU) {
	gipID, err := strconv.ParseUint(c.Param("profile"), 10, 32)
	if err != nil {
		s.badRequest(c, fmt.Errorf("invalid profile id '%v'", c.Param("profile")))
		return
	}

	capacity, err := gpu.GIRemainingCapacity(uint32(gipID))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, CapacityModel{Capacity: capacity})
}

func (s *Server) getGPUInstance(c *gin.Context, gpu *vgpu.GPU) {
	gi, ok := s.gpuInstance(c, gpu)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, giModel(gi))
}

func (s *Server) destroyGPUInstance(c *gin.Context, gpu *vgpu.GPU) {
	gi, ok := s.gpuInstance(c, gpu)
	if !ok {
		return
	}
	if err := gi.Destroy(); err != nil {
		s.abort(c, err)
		return
	}

	s.log.WithField("gpu", gpu.UUID).Infof("destroyed GPU instance %v", gi.ID)
	c.JSON(http.StatusOK, okResponse{OK: true})
}

func (s *Server) listComputeInstances(c *gin.Context, gpu *vgpu.GPU) {
	gi, ok := s.gpuInstance(c, gpu)
	if !ok {
		return
	}

	instances, err := gi.ComputeInstances()
	if err != nil {
		s.abort(c, err)
		return
	}

	models := make([]ComputeInstanceModel, 0, len(instances))
	for _, ci := range instances {
		models = append(models, ciModel(gi, ci))
	}
	c.JSON(http.StatusOK, models)
}

func (s *Server) listCIProfiles(c *gin.Context, gpu *vgpu.GPU) {
	gi, ok := s.gpuInstance(c, gpu)
	if !ok {
		return
	}

	profiles, err := gi.SupportedCIProfiles()
	if err != nil {
		s.abort(c, err)
		return
	}
	if profiles == nil {
		profiles = []types.CIProfile{}
	}
	c.JSON(http.StatusOK, profiles)
}

func (s *Server) createComputeInstance(c *gin.Context, gpu *vgpu.GPU) {
	gi, ok := s.gpuInstance(c, gpu)
	if !ok {
		return
	}

	cipID, err := strconv.ParseUint(c.Query("cip_id"), 10, 32)
	if err != nil {
		s.badRequest(c, fmt.Errorf("invalid 'cip_id' value '%v'", c.Query("cip_id")))
		return
	}

	ci, err := gi.CreateComputeInstance(uint32(cipID))
	if err != nil {
		s.abort(c, err)
		return
	}

	s.log.WithField("gpu", gpu.UUID).Infof("created compute instance %v on GPU instance %v", ci.ID, gi.ID)
	c.JSON(http.StatusOK, ciModel(gi, ci))
}

func (s *Server) destroyComputeInstance(c *gin.Context, gpu *vgpu.GPU) {
	gi, ok := s.gpuInstance(c, gpu)
	if !ok {
		return
	}

	ciID, err := strconv.Atoi(c.Param("ci"))
	if err != nil {
		s.badRequest(c, fmt.Errorf("invalid compute instance id '%v'", c.Param("ci")))
		return
	}

	instances, err := gi.ComputeInstances()
	if err != nil {
		s.abort(c, err)
		return
	}
	for _, ci := range instances {
		if ci.ID != ciID {
			continue
		}
		if err := ci.Destroy(); err != nil {
			s.abort(c, err)
			return
		}

		s.log.WithField("gpu", gpu.UUID).Infof("destroyed compute instance %v on GPU instance %v", ciID, gi.ID)
		c.JSON(http.StatusOK, okResponse{OK: true})
		return
	}
	s.abort(c, fmt.Errorf("compute instance %v on GPU instance %v: %w", ciID, gi.ID, vgpu.ErrNotFound))
}

// gpuInstance resolves the :gi path parameter. On failure the request has
// already been aborted.
func (s *Server) gpuInstance(c *gin.Context, gpu *vgpu.GPU) (*vgpu.GPUInstance, bool) {
	id, err := strconv.Atoi(c.Param("gi"))
	if err != nil {
		s.badRequest(c, fmt.Errorf("invalid GPU instance id '%v'", c.Param("gi")))
		return nil, false
	}

	gi, err := gpu.GPUInstanceByID(id)
	if err != nil {
		s.abort(c, err)
		return nil, false
	}
	return gi, true
}
