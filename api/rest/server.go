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

// Package rest exposes the partition engine over HTTP. All routes live
// under /api/v1; per-GPU routes carry the GPU UUID in the path. Mutating
// handlers are serialized per GPU so concurrent requests cannot interleave
// a mode switch with a partition create.
package rest

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/virtaccel/gpu-partd/pkg/types"
	"github.com/virtaccel/gpu-partd/pkg/vgpu"
)

// Server serves the partition API for a single host.
type Server struct {
	manager *vgpu.Manager
	log     *logrus.Logger

	sync.Mutex
	gpuLocks map[string]*sync.Mutex
}

// NewServer creates a Server around the given engine.
func NewServer(manager *vgpu.Manager, log *logrus.Logger) *Server {
	return &Server{
		manager:  manager,
		log:      log,
		gpuLocks: make(map[string]*sync.Mutex),
	}
}

// Handler builds the route tree. The returned handler is safe for
// concurrent use.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	v1.GET("/gpu", s.listGPUs)

	gpu := v1.Group("/gpu/:uuid")
	s.partitionRoutes(gpu.Group("/vpart"), types.VMPartition)
	s.partitionRoutes(gpu.Group("/hpart"), types.HostPartition)
	s.migRoutes(gpu.Group("/mig"))

	return r
}

// Run serves the API on the given address until the listener fails.
func (s *Server) Run(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) partitionRoutes(g *gin.RouterGroup, use types.PartitionUse) {
	g.GET("/types", s.withGPU(s.listPartitionTypes(use)))
	g.GET("", s.withGPU(s.listPartitions(use)))
	g.POST("", s.withLockedGPU(s.createPartition(use)))
	g.DELETE("/:partition", s.withLockedGPU(s.destroyPartition(use)))
}

func (s *Server) migRoutes(g *gin.RouterGroup) {
	g.GET("/mode", s.withGPU(s.getMigMode))
	g.POST("/mode", s.withLockedGPU(s.setMigMode))

	g.GET("/gi", s.withGPU(s.listGPUInstances))
	g.POST("/gi", s.withLockedGPU(s.createGPUInstance))
	g.GET("/gi/profile", s.withGPU(s.listGIProfiles))
	g.GET("/gi/profile/:profile/capacity", s.withGPU(s.getGICapacity))
	g.GET("/gi/:gi", s.withGPU(s.getGPUInstance))
	g.DELETE("/gi/:gi", s.withLockedGPU(s.destroyGPUInstance))

	g.GET("/gi/:gi/ci", s.withGPU(s.listComputeInstances))
	g.GET("/gi/:gi/ci/profile", s.withGPU(s.listCIProfiles))
	g.POST("/gi/:gi/ci", s.withLockedGPU(s.createComputeInstance))
	g.DELETE("/gi/:gi/ci/:ci", s.withLockedGPU(s.destroyComputeInstance))
}

func (s *Server) listGPUs(c *gin.Context) {
	gpus, err := s.manager.GPUs()
	if err != nil {
		s.abort(c, err)
		return
	}
	defer releaseGPUs(gpus)

	models := make([]GPUModel, 0, len(gpus))
	for _, gpu := range gpus {
		models = append(models, gpuModel(gpu))
	}
	c.JSON(http.StatusOK, models)
}

type gpuHandler func(c *gin.Context, gpu *vgpu.GPU)

// withGPU resolves the :uuid path parameter to a live GPU handle held for
// the duration of the request.
func (s *Server) withGPU(handler gpuHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		gpu, err := s.manager.GPUByUUID(c.Param("uuid"))
		if err != nil {
			s.abort(c, err)
			return
		}
		defer gpu.Release()

		handler(c, gpu)
	}
}

// withLockedGPU additionally serializes the request against other mutating
// requests for the same GPU.
func (s *Server) withLockedGPU(handler gpuHandler) gin.HandlerFunc {
	return s.withGPU(func(c *gin.Context, gpu *vgpu.GPU) {
		lock := s.gpuLock(gpu.UUID)
		lock.Lock()
		defer lock.Unlock()

		handler(c, gpu)
	})
}

func (s *Server) gpuLock(uuid string) *sync.Mutex {
	s.Lock()
	defer s.Unlock()

	lock, ok := s.gpuLocks[uuid]
	if !ok {
		lock = &sync.Mutex{}
		s.gpuLocks[uuid] = lock
	}
	return lock
}

// abort translates an engine error to an HTTP status and ends the request.
func (s *Server) abort(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"gpu":    c.Param("uuid"),
		}).Errorf("request failed: %v", err)
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, vgpu.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vgpu.ErrModeChangeBlocked),
		errors.Is(err, vgpu.ErrNoAvailableVF),
		errors.Is(err, vgpu.ErrTypeUnavailable),
		errors.Is(err, vgpu.ErrMigModeDisabled),
		errors.Is(err, vgpu.ErrCIProfileNotFound):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func releaseGPUs(gpus []*vgpu.GPU) {
	for _, gpu := range gpus {
		gpu.Release()
	}
}
