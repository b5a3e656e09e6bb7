package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/services"
)

type DocumentsHandler struct {
	documents services.DocumentService
	pipeline  services.PipelineService
}

func NewDocumentsHandler(documents services.DocumentService, pipeline services.PipelineService) *DocumentsHandler {
	return &DocumentsHandler{documents: documents, pipeline: pipeline}
}

// GET /api/documents
func (h *DocumentsHandler) List(c *gin.Context) {
	offset := intQuery(c, "offset", 0)
	limit := intQuery(c, "limit", 50)
	resp, err := h.documents.List(dbctx.Context{Ctx: c.Request.Context()}, offset, limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, resp)
}

// GET /api/documents/:guid
func (h *DocumentsHandler) Get(c *gin.Context) {
	guid, err := uuid.Parse(c.Param("guid"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_document_guid", err)
		return
	}
	doc, err := h.documents.GetByGUID(dbctx.Context{Ctx: c.Request.Context()}, guid)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, doc)
}

// GET /api/documents/:guid/chunks
func (h *DocumentsHandler) Chunks(c *gin.Context) {
	guid, err := uuid.Parse(c.Param("guid"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_document_guid", err)
		return
	}
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 0)
	resp, err := h.documents.Chunks(dbctx.Context{Ctx: c.Request.Context()}, guid, page, pageSize)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, resp)
}

// GET /api/documents/:guid/download-url
func (h *DocumentsHandler) DownloadURL(c *gin.Context) {
	guid, err := uuid.Parse(c.Param("guid"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_document_guid", err)
		return
	}
	resp, err := h.documents.DownloadURL(dbctx.Context{Ctx: c.Request.Context()}, guid)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, resp)
}

// POST /api/documents/:guid/reprocess
func (h *DocumentsHandler) Reprocess(c *gin.Context) {
	guid, err := uuid.Parse(c.Param("guid"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_document_guid", err)
		return
	}
	job, err := h.pipeline.Reprocess(dbctx.Context{Ctx: c.Request.Context()}, guid)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
