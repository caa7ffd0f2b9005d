package library

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/httpx"
)

type Handler struct {
	Service    *Service
	Categories *Repo
}

func NewHandler(svc *Service, categories *Repo) *Handler {
	return &Handler{Service: svc, Categories: categories}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/library", h.list)
	rg.POST("/library", h.add)
	rg.DELETE("/library/:id", h.remove)
	rg.PUT("/library/:id/status", h.setStatus)

	rg.GET("/categories", h.listCategories)
	rg.POST("/categories", h.createCategory)
	rg.PUT("/categories/:id", h.updateCategory)
	rg.DELETE("/categories/:id", h.deleteCategory)
	rg.PUT("/categories/:id/manga/:manga_id", h.addToCategory)
	rg.DELETE("/categories/:id/manga/:manga_id", h.removeFromCategory)
}

type addReq struct {
	SourceID string `json:"source_id"`
	URL      string `json:"url"`
}

func (h *Handler) add(c *gin.Context) {
	var req addReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, "invalid json")
		return
	}
	if strings.TrimSpace(req.SourceID) == "" || strings.TrimSpace(req.URL) == "" {
		httpx.BadRequest(c, "source_id and url required")
		return
	}

	m, err := h.Service.AddManga(c.Request.Context(), strings.TrimSpace(req.SourceID), req.URL)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) list(c *gin.Context) {
	limit := httpx.ParseInt(c.Query("limit"), 50)
	offset := httpx.ParseInt(c.Query("offset"), 0)

	items, err := h.Service.List(c.Request.Context(), limit, offset)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"limit":  limit,
		"offset": offset,
		"items":  items,
	})
}

func (h *Handler) remove(c *gin.Context) {
	if err := h.Service.RemoveFromLibrary(c.Request.Context(), c.Param("id")); err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "removed"})
}

type statusReq struct {
	ReadingStatus string `json:"reading_status"`
}

func (h *Handler) setStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, "invalid json")
		return
	}
	m, err := h.Service.SetReadingStatus(c.Request.Context(), c.Param("id"), req.ReadingStatus)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) listCategories(c *gin.Context) {
	items, err := h.Categories.ListCategories(c.Request.Context())
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type categoryReq struct {
	Name  *string `json:"name"`
	Order *int    `json:"order"`
}

func (h *Handler) createCategory(c *gin.Context) {
	var req categoryReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == nil {
		httpx.BadRequest(c, "name required")
		return
	}
	cat, err := h.Categories.CreateCategory(c.Request.Context(), *req.Name)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	if req.Order != nil {
		if err := h.Categories.ReorderCategory(c.Request.Context(), cat.ID, *req.Order); err != nil {
			httpx.WriteError(c, err)
			return
		}
		cat.Order = *req.Order
	}
	c.JSON(http.StatusCreated, cat)
}

func (h *Handler) updateCategory(c *gin.Context) {
	var req categoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BadRequest(c, "invalid json")
		return
	}
	id := c.Param("id")
	if req.Name != nil {
		if err := h.Categories.RenameCategory(c.Request.Context(), id, *req.Name); err != nil {
			httpx.WriteError(c, err)
			return
		}
	}
	if req.Order != nil {
		if err := h.Categories.ReorderCategory(c.Request.Context(), id, *req.Order); err != nil {
			httpx.WriteError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

func (h *Handler) deleteCategory(c *gin.Context) {
	if err := h.Categories.DeleteCategory(c.Request.Context(), c.Param("id")); err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) addToCategory(c *gin.Context) {
	if err := h.Categories.AddToCategory(c.Request.Context(), c.Param("id"), c.Param("manga_id")); err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "added"})
}

func (h *Handler) removeFromCategory(c *gin.Context) {
	if err := h.Categories.RemoveFromCategory(c.Request.Context(), c.Param("id"), c.Param("manga_id")); err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "removed"})
}
