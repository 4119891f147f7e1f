package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apitypes "github.com/lgulliver/rvcstore/cmd/api-gateway/types"
	"github.com/lgulliver/rvcstore/internal/storage"
	"github.com/lgulliver/rvcstore/internal/testutil"
	"github.com/lgulliver/rvcstore/pkg/config"
	"github.com/lgulliver/rvcstore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.RootPath = t.TempDir()
	cfg.Storage.ListCacheTTL = 0
	cfg.Fetch.Timeout = 10 * time.Second
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "history.db")
	return cfg
}

func setupTestServer(t *testing.T) (*gin.Engine, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := setupTestConfig(t)
	a, err := newApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	return setupRouter(&cfg.Server, a.service), cfg
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doUpload(t *testing.T, router *gin.Engine, dirName string, archive []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if dirName != "" {
		require.NoError(t, mw.WriteField("dirName", dirName))
	}
	if archive != nil {
		part, err := mw.CreateFormFile("zipFile", "model.zip")
		require.NoError(t, err)
		_, err = part.Write(archive)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/models/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func listModels(t *testing.T, router *gin.Engine) []string {
	t.Helper()
	w := doJSON(t, router, http.MethodGet, "/api/models/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var names []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &names))
	return names
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp apitypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp apitypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, serviceName, resp.Service)
}

func TestMetrics(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestListModels_Empty(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/api/models/current", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestListModels_ExcludesReserved(t *testing.T) {
	router, cfg := setupTestServer(t)
	for _, name := range []string{"hubert_base.pt", "MODELS.txt", "public_models.json", "rmvpe.pt"} {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Storage.RootPath, name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(cfg.Storage.RootPath, "singer1"), 0755))

	assert.Equal(t, []string{"singer1"}, listModels(t, router))
}

func TestDownloadModel(t *testing.T) {
	archive := testutil.BuildZip(t, testutil.File("singer1.pth", "weights"))
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer origin.Close()

	router, cfg := setupTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/models/download", apitypes.DownloadRequest{
		URL:     origin.URL + "/model.zip",
		DirName: "singer1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp apitypes.MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "singer1 Model successfully downloaded!", resp.Message)

	assert.Contains(t, listModels(t, router), "singer1")
	assert.FileExists(t, filepath.Join(cfg.Storage.RootPath, "singer1", "singer1.pth"))

	t.Run("collision", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/models/download", apitypes.DownloadRequest{
			URL:     origin.URL + "/other.zip",
			DirName: "singer1",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Voice model directory singer1 already exists!", decodeError(t, w))
	})

	t.Run("detail", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/models/singer1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var model types.Model
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &model))
		assert.Equal(t, []types.ModelFile{{Path: "singer1.pth", Size: int64(len("weights"))}}, model.Files)
	})

	t.Run("history", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/models/singer1/history?limit=10", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var records []types.Acquisition
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
		require.Len(t, records, 2)
		assert.Equal(t, types.StatusFailed, records[0].Status, "newest first")
		assert.Equal(t, types.StatusSucceeded, records[1].Status)
	})
}

func TestDownloadModel_Failures(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "corrupt.zip") {
			w.Write([]byte("not a zip"))
			return
		}
		http.NotFound(w, r)
	}))
	defer origin.Close()

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{"missing fields", map[string]string{"url": origin.URL + "/model.zip"}, http.StatusBadRequest},
		{"invalid json", "not an object", http.StatusBadRequest},
		{"invalid name", apitypes.DownloadRequest{URL: origin.URL + "/model.zip", DirName: "../escape"}, http.StatusBadRequest},
		{"reserved name", apitypes.DownloadRequest{URL: origin.URL + "/model.zip", DirName: "rmvpe.pt"}, http.StatusBadRequest},
		{"fetch failure", apitypes.DownloadRequest{URL: origin.URL + "/missing.zip", DirName: "singer1"}, http.StatusInternalServerError},
		{"corrupt archive", apitypes.DownloadRequest{URL: origin.URL + "/corrupt.zip", DirName: "singer1"}, http.StatusInternalServerError},
		{"unsupported scheme", apitypes.DownloadRequest{URL: "ftp://x/model.zip", DirName: "singer1"}, http.StatusInternalServerError},
		{"malformed url", apitypes.DownloadRequest{URL: "not a url", DirName: "singer1"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, cfg := setupTestServer(t)

			w := doJSON(t, router, http.MethodPost, "/api/models/download", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.NotEmpty(t, decodeError(t, w))
			assert.Empty(t, listModels(t, router))
			assert.Empty(t, testutil.DirEntries(t, filepath.Join(cfg.Storage.RootPath, storage.StagingDirName)))
			assert.Empty(t, testutil.DirEntries(t, filepath.Join(cfg.Storage.RootPath, storage.DownloadsDirName)))
		})
	}
}

func TestDownloadModel_CollisionBeforeURLCheck(t *testing.T) {
	router, cfg := setupTestServer(t)
	existing := filepath.Join(cfg.Storage.RootPath, "singer1")
	require.NoError(t, os.MkdirAll(existing, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "keep.pth"), []byte("original"), 0644))

	for _, url := range []string{"ftp://x/model.zip", "not a url"} {
		w := doJSON(t, router, http.MethodPost, "/api/models/download",
			apitypes.DownloadRequest{URL: url, DirName: "singer1"})
		assert.Equal(t, http.StatusBadRequest, w.Code, url)
		assert.Equal(t, "Voice model directory singer1 already exists!", decodeError(t, w))
	}
	assert.Equal(t, map[string]string{"keep.pth": "original"}, testutil.ReadTree(t, existing))
}

func TestUploadModel(t *testing.T) {
	router, cfg := setupTestServer(t)
	archive := testutil.BuildZip(t, testutil.File("a.txt", "alpha"), testutil.File("sub/b.txt", "beta"))

	w := doUpload(t, router, "X", archive)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp apitypes.MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "X Model successfully uploaded!", resp.Message)
	assert.Equal(t, map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"},
		testutil.ReadTree(t, filepath.Join(cfg.Storage.RootPath, "X")))

	w = doUpload(t, router, "X", archive)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Voice model directory X already exists!", decodeError(t, w))
}

func TestUploadModel_Failures(t *testing.T) {
	tests := []struct {
		name     string
		dirName  string
		archive  func(t *testing.T) []byte
		wantCode int
	}{
		{"no file", "X", func(t *testing.T) []byte { return nil }, http.StatusInternalServerError},
		{"no name", "", func(t *testing.T) []byte { return testutil.BuildZip(t, testutil.File("a", "a")) }, http.StatusBadRequest},
		{"corrupt archive", "X", func(t *testing.T) []byte { return []byte("garbage") }, http.StatusInternalServerError},
		{"traversal entry", "X", func(t *testing.T) []byte {
			return testutil.BuildZip(t, testutil.File("../../evil", "x"))
		}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, cfg := setupTestServer(t)

			w := doUpload(t, router, tt.dirName, tt.archive(t))
			assert.Equal(t, tt.wantCode, w.Code)
			assert.NotEmpty(t, decodeError(t, w))
			assert.NoDirExists(t, filepath.Join(cfg.Storage.RootPath, "X"))
			assert.Empty(t, testutil.DirEntries(t, filepath.Join(cfg.Storage.RootPath, storage.StagingDirName)))
		})
	}
}

func TestGetModel_NotFound(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/api/models/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModelHistory_InvalidLimit(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/api/models/singer1/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
