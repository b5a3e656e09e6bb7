package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/services"
)

type UploadsHandler struct {
	uploads services.UploadService
}

func NewUploadsHandler(uploads services.UploadService) *UploadsHandler {
	return &UploadsHandler{uploads: uploads}
}

// POST /api/uploads/request-url
func (h *UploadsHandler) RequestURL(c *gin.Context) {
	var req services.UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	resp, err := h.uploads.RequestUploadURL(dbctx.Context{Ctx: c.Request.Context()}, req)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, resp)
}

// POST /api/uploads/complete
func (h *UploadsHandler) Complete(c *gin.Context) {
	var req services.UploadCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	resp, err := h.uploads.CompleteUpload(dbctx.Context{Ctx: c.Request.Context()}, req)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, resp)
}
