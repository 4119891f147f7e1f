package types

import "time"

// ErrorResponse is returned by every failing endpoint
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is returned by successful acquisitions
type MessageResponse struct {
	Message string `json:"message"`
}

// DownloadRequest is the body of POST /api/models/download
type DownloadRequest struct {
	URL     string `json:"url" binding:"required"`
	DirName string `json:"dirName" binding:"required"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string    `json:"status"`
	Service string    `json:"service"`
	Time    time.Time `json:"time"`
}
