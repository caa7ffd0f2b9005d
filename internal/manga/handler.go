package manga

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/httpx"
)

type Handler struct {
	Store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{Store: store}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.list)                  // GET /manga?q=&in_library=&limit=&offset=
	rg.GET("/:id", h.getByID)           // GET /manga/:id
	rg.GET("/:id/chapters", h.chapters) // GET /manga/:id/chapters
}

func (h *Handler) list(c *gin.Context) {
	q := ListQuery{
		Q:      c.Query("q"),
		Limit:  httpx.ParseInt(c.Query("limit"), 50),
		Offset: httpx.ParseInt(c.Query("offset"), 0),
	}
	switch strings.ToLower(c.Query("in_library")) {
	case "true", "1":
		q.InLibrary = boolPtr(true)
	case "false", "0":
		q.InLibrary = boolPtr(false)
	}

	items, err := h.Store.ListManga(c.Request.Context(), q)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	q = q.normalized()
	c.JSON(http.StatusOK, gin.H{
		"limit":  q.Limit,
		"offset": q.Offset,
		"items":  items,
	})
}

func (h *Handler) getByID(c *gin.Context) {
	m, err := h.Store.GetManga(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) chapters(c *gin.Context) {
	m, err := h.Store.GetManga(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": m.Chapters})
}

func boolPtr(b bool) *bool { return &b }
