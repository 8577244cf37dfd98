package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quocanhngo/fleetwatch/internal/model"
	"github.com/quocanhngo/fleetwatch/internal/service"
)

// ArchiveReport godoc
// @Summary Upload the current session report to object storage
// @Description The same report is uploaded automatically when the session ends.
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Success 201 {object} model.SuccessResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /reports [post]
func (h *DashboardHandler) ArchiveReport(c *gin.Context) {
	res, err := h.session.ArchiveReport(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrNoArchive) {
			c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{Error: "Report storage not available"})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Failed to archive report", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, model.SuccessResponse{
		Message: "Report archived",
		Data: gin.H{
			"key":       res.Key,
			"url":       res.URL,
			"file_size": res.FileSize,
		},
	})
}
