// Package api is adscout's thin HTTP veneer over the scheduler and
// listing store, built on gin the way the teacher's internal/api
// package already was.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/tbrandt/adscout/internal/middleware"
	"github.com/tbrandt/adscout/internal/scheduler"
	"github.com/tbrandt/adscout/internal/store"
)

// Server HOLDS THE DEPENDENCIES EVERY HANDLER NEEDS
type Server struct {
	scheduler *scheduler.Scheduler
	listings  *store.ListingStore
}

// NewServer CONSTRUCTS A Server
func NewServer(sched *scheduler.Scheduler, listings *store.ListingStore) *Server {
	return &Server{scheduler: sched, listings: listings}
}

// SetupRouter BUILDS THE gin ENGINE, MIRRORING THE TEACHER'S internal/api/routes.go
// MIDDLEWARE SETUP (gin.Logger + gin.Recovery, NO TRAILING-SLASH REDIRECTS)
func (s *Server) SetupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), middleware.CORS())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/jobs", s.ListJobs)
		apiGroup.POST("/jobs", s.CreateJob)
		apiGroup.GET("/jobs/:id", s.GetJob)
		apiGroup.PATCH("/jobs/:id", s.UpdateJob)
		apiGroup.DELETE("/jobs/:id", s.DeleteJob)
		apiGroup.POST("/jobs/:id/start", s.SetJobActive(true))
		apiGroup.POST("/jobs/:id/stop", s.SetJobActive(false))
		apiGroup.POST("/jobs/:id/run-once", s.RunJobOnce)

		apiGroup.GET("/listings", s.ListListings)
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	return r
}
