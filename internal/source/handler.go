package source

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/httpx"
)

type Handler struct {
	Registry *Registry
}

func NewHandler(reg *Registry) *Handler {
	return &Handler{Registry: reg}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.list)                  // GET /sources?restricted=true
	rg.GET("/:id/search", h.search)     // GET /sources/:id/search?q=&page=
	rg.GET("/:id/popular", h.popular)   // GET /sources/:id/popular?page=
	rg.GET("/:id/latest", h.latest)     // GET /sources/:id/latest?page=
	rg.GET("/:id/details", h.details)   // GET /sources/:id/details?url=
	rg.GET("/:id/chapters", h.chapters) // GET /sources/:id/chapters?url=
	rg.GET("/:id/pages", h.pages)       // GET /sources/:id/pages?url=
}

func (h *Handler) list(c *gin.Context) {
	restricted := strings.EqualFold(c.Query("restricted"), "true")
	srcs := h.Registry.Available(restricted)
	items := make([]SourceInfo, 0, len(srcs))
	for _, s := range srcs {
		items = append(items, s.Info())
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) source(c *gin.Context) (Source, bool) {
	src, err := h.Registry.Lookup(c.Param("id"))
	if err != nil {
		httpx.WriteError(c, err)
		return nil, false
	}
	return src, true
}

func (h *Handler) search(c *gin.Context) {
	src, ok := h.source(c)
	if !ok {
		return
	}
	res, err := src.Search(c.Request.Context(), c.Query("q"), httpx.Page(c))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) popular(c *gin.Context) {
	src, ok := h.source(c)
	if !ok {
		return
	}
	res, err := src.Popular(c.Request.Context(), httpx.Page(c))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) latest(c *gin.Context) {
	src, ok := h.source(c)
	if !ok {
		return
	}
	res, err := src.Latest(c.Request.Context(), httpx.Page(c))
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) details(c *gin.Context) {
	src, ok := h.source(c)
	if !ok {
		return
	}
	u := c.Query("url")
	if u == "" {
		httpx.BadRequest(c, "url is required")
		return
	}
	d, err := src.MangaDetails(c.Request.Context(), u)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) chapters(c *gin.Context) {
	src, ok := h.source(c)
	if !ok {
		return
	}
	u := c.Query("url")
	if u == "" {
		httpx.BadRequest(c, "url is required")
		return
	}
	chs, err := src.ChapterList(c.Request.Context(), u)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": chs})
}

func (h *Handler) pages(c *gin.Context) {
	src, ok := h.source(c)
	if !ok {
		return
	}
	u := c.Query("url")
	if u == "" {
		httpx.BadRequest(c, "url is required")
		return
	}
	pages, err := src.PageList(c.Request.Context(), u)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": pages})
}
