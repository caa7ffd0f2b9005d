package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mangashelf/internal/download"
	"mangashelf/internal/events"
	"mangashelf/internal/library"
	"mangashelf/internal/librarysync"
	"mangashelf/internal/manga"
	"mangashelf/internal/progress"
	"mangashelf/internal/source"
)

// Router mounts every HTTP route. Background syncs started over HTTP run
// on base, not on the request context.
func (a *App) Router(base context.Context) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(a.Log.Named("http")))
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": a.Config.DBPath})
	})
	router.GET("/ready", a.ready)
	router.GET("/ws", events.WSHandler(a.Hub))

	source.NewHandler(a.Registry).RegisterRoutes(router.Group("/sources"))

	mangaGroup := router.Group("/manga")
	manga.NewHandler(a.Manga).RegisterRoutes(mangaGroup)
	progress.NewHandler(a.Tracker).RegisterRoutes(mangaGroup)

	root := router.Group("")
	library.NewHandler(a.Library, a.Categories).RegisterRoutes(root)
	librarysync.NewHandler(a.Scheduler, base).RegisterRoutes(router.Group("/library"))

	download.NewHandler(a.Downloads).RegisterRoutes(router.Group("/downloads"))
	return router
}

func (a *App) ready(c *gin.Context) {
	stats := a.Hub.Stats()
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"tcp_clients":    stats.TCPClients,
		"ws_clients":     stats.WSClients,
		"downloads_loop": a.Downloads.Running(),
		"sync_running":   a.Engine.Running(),
	}
	if err := a.DB.PingContext(ctx); err != nil {
		body["status"] = "not_ready"
		body["db_error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ready"
	body["db"] = "ok"
	c.JSON(http.StatusOK, body)
}
