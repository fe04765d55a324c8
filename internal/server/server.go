// Package server browses workflow runs over HTTP: their galleries, metadata,
// statistics and descriptions.
package server

import (
	"errors"
	"html/template"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"idt/internal/descriptions"
	"idt/internal/media"
	"idt/internal/workflow"
)

var ErrRunNotFound = errors.New("run not found")

const headerRequestID = "X-Request-ID"

var runsTemplate = template.Must(template.New("runs").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>idt runs</title></head>
<body>
<h1>Workflow runs</h1>
{{- if not . }}
<p>No runs found.</p>
{{- else }}
<ul>
{{- range . }}
<li><a href="/runs/{{ .Name }}/">{{ .Name }}</a> &middot; {{ .Provider }} / {{ .Model }} / {{ .PromptStyle }}{{ if .Summary }} &middot; {{ .Summary.Described }} described{{ end }}</li>
{{- end }}
</ul>
{{- end }}
</body>
</html>`))

// Run is one run directory as listed by the API.
type Run struct {
	Name        string            `json:"name"`
	RunID       string            `json:"run_id"`
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	PromptStyle string            `json:"prompt_style"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	Completed   []workflow.Step   `json:"steps_completed"`
	Summary     *workflow.Summary `json:"statistics,omitempty"`
}

type Handler struct {
	root   string
	logger *zap.Logger
}

// New serves the runs found directly under root.
func New(root string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{root: root, logger: logger}
}

// Router builds the gin engine with request ID and logging middleware.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(h.logger))
	r.SetHTMLTemplate(runsTemplate)
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/", h.Index)
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/runs/:name/*file", h.RunFile)

	api := r.Group("/api")
	api.GET("/runs", h.ListRuns)
	api.GET("/runs/:name", h.GetRun)
	api.GET("/runs/:name/descriptions", h.ListDescriptions)
}

func (h *Handler) Index(c *gin.Context) {
	runs, err := h.runs()
	if err != nil {
		mapError(c, err)
		return
	}
	c.HTML(http.StatusOK, "runs", runs)
}

func (h *Handler) ListRuns(c *gin.Context) {
	runs, err := h.runs()
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.loadRun(c.Param("name"))
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) ListDescriptions(c *gin.Context) {
	dir, err := h.runDir(c.Param("name"))
	if err != nil {
		mapError(c, err)
		return
	}
	entries, err := descriptions.Load(workflow.Layout{Root: dir}.DescriptionsPath())
	if err != nil {
		mapError(c, err)
		return
	}
	if entries == nil {
		entries = []descriptions.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"descriptions": entries, "count": len(entries)})
}

// RunFile serves files of a run's html_reports directory.
func (h *Handler) RunFile(c *gin.Context) {
	dir, err := h.runDir(c.Param("name"))
	if err != nil {
		mapError(c, err)
		return
	}
	rel := path.Clean("/" + c.Param("file"))
	if rel == "/" {
		rel = "/index.html"
	}
	file := filepath.Join(workflow.Layout{Root: dir}.HTMLDir(), filepath.FromSlash(rel))
	if info, err := os.Stat(file); err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.File(file)
}

// runDir resolves a run name to its directory, refusing anything that is not
// a plain run directory name under root.
func (h *Handler) runDir(name string) (string, error) {
	if !strings.HasPrefix(name, media.RunDirPrefix) || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", ErrRunNotFound
	}
	dir := filepath.Join(h.root, name)
	if _, err := os.Stat(filepath.Join(dir, workflow.MetadataFile)); err != nil {
		return "", ErrRunNotFound
	}
	return dir, nil
}

func (h *Handler) loadRun(name string) (*Run, error) {
	dir, err := h.runDir(name)
	if err != nil {
		return nil, err
	}
	meta, err := workflow.LoadMetadata(dir)
	if err != nil {
		return nil, err
	}
	run := &Run{
		Name:        name,
		RunID:       meta.RunID.String(),
		Provider:    meta.Provider,
		Model:       meta.Model,
		PromptStyle: meta.PromptStyle,
		StartedAt:   meta.StartedAt,
		FinishedAt:  meta.FinishedAt,
		Completed:   meta.Completed,
	}
	if sum, err := workflow.LoadSummary(dir); err == nil {
		run.Summary = sum
	}
	return run, nil
}

// runs lists every readable run under root, newest first.
func (h *Handler) runs() ([]*Run, error) {
	dirEntries, err := os.ReadDir(h.root)
	if err != nil {
		return nil, err
	}
	runs := []*Run{}
	for _, d := range dirEntries {
		if !d.IsDir() || !strings.HasPrefix(d.Name(), media.RunDirPrefix) {
			continue
		}
		run, err := h.loadRun(d.Name())
		if err != nil {
			h.logger.Debug("skipping directory", zap.String("dir", d.Name()), zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}

func mapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set("request_id", requestID)
		c.Header(headerRequestID, requestID)

		c.Next()
	}
}

// Logger logs one line per request.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		}
		if len(c.Errors) > 0 {
			logger.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		logger.Info("request", fields...)
	}
}
