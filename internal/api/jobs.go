package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbrandt/adscout/internal/models"
	"github.com/tbrandt/adscout/internal/store"
)

// jobIDParam PARSES THE :id URL PARAMETER AS AN int64
func jobIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}

// ListJobs HANDLES GET /api/jobs
func (s *Server) ListJobs(c *gin.Context) {
	jobs, err := s.scheduler.List(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, jobs)
}

// GetJob HANDLES GET /api/jobs/:id
func (s *Server) GetJob(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	jobs, err := s.scheduler.List(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	for _, j := range jobs {
		if j.ID == id {
			SuccessResponse(c, http.StatusOK, j)
			return
		}
	}
	ErrorResponse(c, http.StatusNotFound, "job not found")
}

// createJobRequest IS THE POST /api/jobs BODY
type createJobRequest struct {
	Name            string   `json:"name" binding:"required"`
	Query           string   `json:"query"`
	Location        string   `json:"location"`
	Radius          *float64 `json:"radius"`
	MinPrice        *float64 `json:"min_price"`
	MaxPrice        *float64 `json:"max_price"`
	PageCount       int      `json:"page_count"`
	IntervalSeconds int      `json:"interval_seconds"`
	IsActive        bool     `json:"is_active"`
}

// CreateJob HANDLES POST /api/jobs
func (s *Server) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.IntervalSeconds < 60 {
		req.IntervalSeconds = 60
	}
	if req.PageCount <= 0 {
		req.PageCount = 1
	}

	job := models.ScheduledJob{
		Name:            req.Name,
		Query:           req.Query,
		Location:        req.Location,
		Radius:          req.Radius,
		MinPrice:        req.MinPrice,
		MaxPrice:        req.MaxPrice,
		PageCount:       req.PageCount,
		IntervalSeconds: req.IntervalSeconds,
		IsActive:        req.IsActive,
	}

	created, err := s.scheduler.Add(c.Request.Context(), job)
	if err != nil {
		writeErr(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, created)
}

// updateJobRequest IS THE PATCH /api/jobs/:id BODY; ANY FIELD LEFT nil IS UNCHANGED
type updateJobRequest struct {
	Query           *string  `json:"query"`
	Location        *string  `json:"location"`
	Radius          *float64 `json:"radius"`
	MinPrice        *float64 `json:"min_price"`
	MaxPrice        *float64 `json:"max_price"`
	PageCount       *int     `json:"page_count"`
	IntervalSeconds *int     `json:"interval_seconds"`
	IsActive        *bool    `json:"is_active"`
}

// UpdateJob HANDLES PATCH /api/jobs/:id
func (s *Server) UpdateJob(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	var req updateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	patch := store.JobPatch{
		Query:           req.Query,
		Location:        req.Location,
		PageCount:       req.PageCount,
		IntervalSeconds: req.IntervalSeconds,
		IsActive:        req.IsActive,
	}
	if req.Radius != nil {
		patch.Radius = &req.Radius
	}
	if req.MinPrice != nil {
		patch.MinPrice = &req.MinPrice
	}
	if req.MaxPrice != nil {
		patch.MaxPrice = &req.MaxPrice
	}

	updated, err := s.scheduler.Update(c.Request.Context(), id, patch)
	if err != nil {
		writeErr(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, updated)
}

// DeleteJob HANDLES DELETE /api/jobs/:id
func (s *Server) DeleteJob(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	if err := s.scheduler.Delete(c.Request.Context(), id); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetJobActive RETURNS A HANDLER FOR POST /api/jobs/:id/start OR /stop
func (s *Server) SetJobActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := jobIDParam(c)
		if !ok {
			return
		}
		updated, err := s.scheduler.SetActive(c.Request.Context(), id, active)
		if err != nil {
			writeErr(c, err)
			return
		}
		SuccessResponse(c, http.StatusOK, updated)
	}
}

// RunJobOnce HANDLES POST /api/jobs/:id/run-once
func (s *Server) RunJobOnce(c *gin.Context) {
	id, ok := jobIDParam(c)
	if !ok {
		return
	}
	outcome, err := s.scheduler.RunOnce(c.Request.Context(), id)
	if err != nil {
		writeErr(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, outcome)
}
