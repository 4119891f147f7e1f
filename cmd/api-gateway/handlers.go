package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	apitypes "github.com/lgulliver/rvcstore/cmd/api-gateway/types"
	"github.com/lgulliver/rvcstore/internal/acquire"
	"github.com/lgulliver/rvcstore/internal/registry"
	"github.com/lgulliver/rvcstore/pkg/types"
	"github.com/rs/zerolog/log"
)

const serviceName = "rvcstore-api-gateway"

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, apitypes.HealthResponse{
			Status:  "healthy",
			Service: serviceName,
			Time:    time.Now().UTC(),
		})
	}
}

func handleListModels(service *registry.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := service.List(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("failed to list models")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: err.Error()})
			return
		}
		if names == nil {
			names = []string{}
		}
		c.JSON(http.StatusOK, names)
	}
}

func handleDownloadModel(service *registry.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req apitypes.DownloadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{Error: "Invalid request format: url and dirName are required"})
			return
		}

		if _, err := service.Download(c.Request.Context(), req.URL, req.DirName); err != nil {
			respondAcquisitionError(c, req.DirName, err)
			return
		}

		c.JSON(http.StatusOK, apitypes.MessageResponse{
			Message: fmt.Sprintf("%s Model successfully downloaded!", req.DirName),
		})
	}
}

func handleUploadModel(service *registry.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		dirName := c.PostForm("dirName")
		if c.Request.MultipartForm != nil {
			defer c.Request.MultipartForm.RemoveAll()
		}

		// a missing file still goes through the service so the attempt is
		// validated and recorded like any other
		var (
			upload   acquire.Upload
			size     int64
			filename string
		)
		if header, err := c.FormFile("zipFile"); err == nil {
			file, err := header.Open()
			if err != nil {
				log.Error().Err(err).Str("model", dirName).Msg("failed to open uploaded archive")
				c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "Failed to read uploaded file"})
				return
			}
			upload, size, filename = file, header.Size, header.Filename
		}

		if _, err := service.Upload(c.Request.Context(), upload, size, filename, dirName); err != nil {
			respondAcquisitionError(c, dirName, err)
			return
		}

		c.JSON(http.StatusOK, apitypes.MessageResponse{
			Message: fmt.Sprintf("%s Model successfully uploaded!", dirName),
		})
	}
}

func handleGetModel(service *registry.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		model, err := service.Model(c.Request.Context(), name)
		if err != nil {
			status := types.HTTPStatus(err)
			if status >= http.StatusInternalServerError {
				log.Error().Err(err).Str("model", name).Msg("failed to get model")
			}
			c.JSON(status, apitypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, model)
	}
}

func handleModelHistory(service *registry.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := registry.DefaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{Error: "limit must be a positive integer"})
				return
			}
			limit = parsed
		}

		records, err := service.History(c.Request.Context(), c.Param("name"), limit)
		if err != nil {
			log.Error().Err(err).Str("model", c.Param("name")).Msg("failed to load acquisition history")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

// respondAcquisitionError maps an acquisition failure to its status and message
func respondAcquisitionError(c *gin.Context, dirName string, err error) {
	message := err.Error()
	if errors.Is(err, types.ErrNameCollision) {
		message = fmt.Sprintf("Voice model directory %s already exists!", dirName)
	}
	c.JSON(types.HTTPStatus(err), apitypes.ErrorResponse{Error: message})
}
