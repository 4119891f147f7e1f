package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/rvcstore/internal/middleware"
	"github.com/lgulliver/rvcstore/internal/registry"
	"github.com/lgulliver/rvcstore/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func setupRouter(cfg *config.ServerConfig, service *registry.Service) *gin.Engine {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.MaxMultipartMemory = cfg.MaxMultipartMemory

	// Middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", handleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	models := router.Group("/api/models")
	{
		models.GET("/current", handleListModels(service))
		models.POST("/download", handleDownloadModel(service))
		models.POST("/upload", handleUploadModel(service))
		models.GET("/:name", handleGetModel(service))
		models.GET("/:name/history", handleModelHistory(service))
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
