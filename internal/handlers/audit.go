package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/passgate/internal/services"
	"github.com/charlesng35/passgate/pkg/response"
)

type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/v1/admin/audit-logs
func (h *AuditHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	per := parseIntQuery(c, "per_page", 50)

	filters := services.AuditFilters{
		UserID:  c.Query("user_id"),
		Address: c.Query("email"),
		Action:  c.Query("action"),
		Result:  c.Query("result"),
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filters.Since = &t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			filters.Until = &t
		}
	}

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"items":    logs,
		"page":     page,
		"per_page": per,
		"total":    total,
	})
}
