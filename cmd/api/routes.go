package main

import (
	"github.com/gin-gonic/gin"

	"vcall-platform/internal/httpapi"
)

type routeDeps struct {
	handlers  httpapi.Handlers
	authMW    gin.HandlerFunc
	signaling gin.HandlerFunc
	publicDir string
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := deps.handlers

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Signaling is public like the join page; the room name is the session
	// token, which is the capability a joiner must hold.
	r.GET("/ws/signal", deps.signaling)

	// Finalized recordings served as static files.
	r.Static("/storage", deps.publicDir)

	v1 := r.Group("/v1")
	{
		// The join page resolves its token without a bearer credential.
		v1.GET("/sessions/:token", h.JoinInfo)

		protected := v1.Group("")
		protected.Use(deps.authMW)
		{
			protected.POST("/ping", func(c *gin.Context) {
				c.JSON(200, gin.H{"status": "ok"})
			})
			protected.POST("/sessions", h.CreateSession)
			protected.POST("/sessions/self", h.CreateSelfSession)
			protected.POST("/sessions/retake", h.Retake)
			protected.POST("/sessions/:token/chunks", h.UploadChunk)
			protected.POST("/sessions/:token/finalize", h.Finalize)
			protected.POST("/recordings/fetch", h.FetchRecordings)
		}
	}
}
