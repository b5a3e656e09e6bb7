package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aerodocs/techpubs-backend/internal/platform/dbctx"
	"github.com/aerodocs/techpubs-backend/internal/services"
)

type SearchHandler struct {
	search services.SearchService
}

func NewSearchHandler(search services.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

// POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req services.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	resp, err := h.search.Search(dbctx.Context{Ctx: c.Request.Context()}, req)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, resp)
}
