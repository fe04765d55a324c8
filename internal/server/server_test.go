package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idt/internal/descriptions"
	"idt/internal/workflow"
)

const runName = "wf_ollama_llava_latest_detailed_20260101_120000"

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	dir := filepath.Join(root, runName)
	l := workflow.Layout{Root: dir}

	meta := workflow.Metadata{
		RunID:       uuid.New(),
		Provider:    "ollama",
		Model:       "llava:latest",
		PromptStyle: "detailed",
		Steps:       workflow.AllSteps,
		Completed:   workflow.AllSteps,
		StartedAt:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	writeJSON(t, l.MetadataPath(), meta)
	writeJSON(t, l.StatisticsPath(), workflow.Summary{ImagesFound: 2, Total: 2, Described: 2})
	require.NoError(t, descriptions.Append(l.DescriptionsPath(), descriptions.Entry{
		File: "a.jpg", Provider: "ollama", Model: "llava:latest", PromptStyle: "detailed", Description: "A cat.",
	}))
	require.NoError(t, os.MkdirAll(l.HTMLDir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(l.HTMLDir(), "index.html"), []byte("<h1>gallery</h1>"), 0644))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "wf_broken"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "photos"), 0755))

	return New(root, nil).Router()
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListRuns(t *testing.T) {
	r := setupRouter(t)
	w := get(r, "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Runs  []Run `json:"runs"`
		Count int   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, runName, body.Runs[0].Name)
	assert.Equal(t, "llava:latest", body.Runs[0].Model)
	require.NotNil(t, body.Runs[0].Summary)
	assert.Equal(t, 2, body.Runs[0].Summary.Described)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestGetRun(t *testing.T) {
	r := setupRouter(t)
	assert.Equal(t, http.StatusOK, get(r, "/api/runs/"+runName).Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/api/runs/wf_missing").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/api/runs/photos").Code)
}

func TestListDescriptions(t *testing.T) {
	r := setupRouter(t)
	w := get(r, "/api/runs/"+runName+"/descriptions")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Descriptions []descriptions.Entry `json:"descriptions"`
		Count        int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "A cat.", body.Descriptions[0].Description)
}

func TestRunFile(t *testing.T) {
	r := setupRouter(t)

	w := get(r, "/runs/"+runName+"/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gallery")

	assert.Equal(t, http.StatusOK, get(r, "/runs/"+runName+"/index.html").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/runs/"+runName+"/nope.jpg").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/runs/"+runName+"/../../"+runName+"/workflow_metadata.json").Code)
}

func TestIndexAndHealth(t *testing.T) {
	r := setupRouter(t)

	w := get(r, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `href="/runs/`+runName+`/"`)

	w = get(r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}
