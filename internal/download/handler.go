package download

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/httpx"
	"mangashelf/pkg/models"
)

type Handler struct {
	Manager *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{Manager: m}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.list)                     // GET /downloads?status=QUEUED,ERROR
	rg.POST("", h.queue)                   // POST /downloads {chapter_id}
	rg.DELETE("/:chapter_id", h.cancel)    // DELETE /downloads/:chapter_id
	rg.POST("/:chapter_id/retry", h.retry) // POST /downloads/:chapter_id/retry
}

func (h *Handler) list(c *gin.Context) {
	var statuses []models.DownloadStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, ok := models.ParseDownloadStatus(strings.ToUpper(strings.TrimSpace(s)))
			if !ok {
				httpx.BadRequest(c, "invalid status filter")
				return
			}
			statuses = append(statuses, st)
		}
	}

	items, err := h.Manager.List(c.Request.Context(), statuses...)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type queueReq struct {
	ChapterID string `json:"chapter_id"`
}

func (h *Handler) queue(c *gin.Context) {
	var req queueReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ChapterID) == "" {
		httpx.BadRequest(c, "chapter_id required")
		return
	}
	t, err := h.Manager.QueueByID(c.Request.Context(), strings.TrimSpace(req.ChapterID))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, t)
}

func (h *Handler) cancel(c *gin.Context) {
	t, err := h.Manager.Cancel(c.Request.Context(), c.Param("chapter_id"))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) retry(c *gin.Context) {
	t, err := h.Manager.Retry(c.Request.Context(), c.Param("chapter_id"))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, t)
}
