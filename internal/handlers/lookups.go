package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/services"
)

type LookupsHandler struct {
	lookups services.LookupService
}

func NewLookupsHandler(lookups services.LookupService) *LookupsHandler {
	return &LookupsHandler{lookups: lookups}
}

// GET /api/aircraft-models
func (h *LookupsHandler) AircraftModels(c *gin.Context) {
	rows, err := h.lookups.AircraftModels(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, rows)
}

// GET /api/categories
func (h *LookupsHandler) Categories(c *gin.Context) {
	rows, err := h.lookups.Categories(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, rows)
}

// GET /api/platforms
func (h *LookupsHandler) Platforms(c *gin.Context) {
	rows, err := h.lookups.Platforms(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, rows)
}

// GET /api/document-types
func (h *LookupsHandler) DocumentTypes(c *gin.Context) {
	rows, err := h.lookups.DocumentTypes(dbctx.Context{Ctx: c.Request.Context()})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, rows)
}
