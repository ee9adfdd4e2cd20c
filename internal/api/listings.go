package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbrandt/adscout/internal/store"
)

// ListListings HANDLES GET /api/listings?limit=&offset=&query_name=&status=&search=
func (s *Server) ListListings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	opts := store.ListOptions{
		Limit:      limit,
		Offset:     offset,
		QueryName:  c.Query("query_name"),
		Status:     c.Query("status"),
		SearchTerm: c.Query("search"),
	}

	listings, total, err := s.listings.List(c.Request.Context(), opts)
	if err != nil {
		writeErr(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, gin.H{
		"listings": listings,
		"total":    total,
	})
}
