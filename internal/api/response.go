package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbrandt/adscout/internal/errs"
)

// ErrorResponse WRITES A {"success":false,"error":...} BODY, MIRRORING THE TEACHER'S
// internal/api/handlers.go response envelope
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// SuccessResponse WRITES A {"success":true,"data":...} BODY
func SuccessResponse(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// writeErr MAPS THE SCHEDULER/STORE SENTINEL ERRORS TO HTTP STATUS CODES PER SPEC_FULL.md §6
func writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrNameTaken):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrBusy):
		ErrorResponse(c, http.StatusConflict, err.Error())
	default:
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
