package librarysync

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mangashelf/internal/apperr"
	"mangashelf/internal/httpx"
)

// Handler starts passes in the background. Base outlives the request so
// a pass keeps going after the 202 is written.
type Handler struct {
	Scheduler *Scheduler
	Base      context.Context
}

func NewHandler(s *Scheduler, base context.Context) *Handler {
	return &Handler{Scheduler: s, Base: base}
}

// RegisterRoutes mounts under the /library group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sync", h.start) // POST /library/sync {ids}
	rg.GET("/sync", h.status) // GET /library/sync
}

type startReq struct {
	IDs []string `json:"ids"`
}

func (h *Handler) start(c *gin.Context) {
	var req startReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
	}
	if h.Scheduler.Engine.Running() {
		httpx.WriteError(c, apperr.ErrSyncInProgress)
		return
	}

	go func() {
		_, err := h.Scheduler.RunOnce(h.Base, req.IDs, nil)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.Scheduler.Log.Warn("manual sync", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "sync started"})
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running": h.Scheduler.Engine.Running(),
		"last":    h.Scheduler.Engine.Last(),
	})
}
