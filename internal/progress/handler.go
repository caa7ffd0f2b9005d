package progress

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/httpx"
)

type Handler struct {
	Tracker *Tracker
}

func NewHandler(tracker *Tracker) *Handler {
	return &Handler{Tracker: tracker}
}

// RegisterRoutes mounts under the /manga group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.PUT("/:id/progress", h.record) // PUT /manga/:id/progress
	rg.GET("/:id/progress", h.get)    // GET /manga/:id/progress
	rg.GET("/:id/history", h.history) // GET /manga/:id/history?limit=&offset=
}

type recordReq struct {
	ChapterID  string `json:"chapter_id"`
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
}

func (h *Handler) record(c *gin.Context) {
	var req recordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, "invalid json")
		return
	}
	if strings.TrimSpace(req.ChapterID) == "" {
		httpx.BadRequest(c, "chapter_id required")
		return
	}

	p, err := h.Tracker.RecordRead(c.Request.Context(), c.Param("id"), req.ChapterID, req.Page, req.TotalPages)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) get(c *gin.Context) {
	p, err := h.Tracker.Repo.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) history(c *gin.Context) {
	limit := httpx.ParseInt(c.Query("limit"), 50)
	offset := httpx.ParseInt(c.Query("offset"), 0)

	items, total, err := h.Tracker.Repo.ListHistory(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"items":  items,
	})
}
