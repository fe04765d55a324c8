package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"idt/internal/descriptions"
	"idt/internal/media"
)

const (
	framesDir       = "extracted_frames"
	convertedDir    = "converted_images"
	descriptionsDir = "descriptions"
	htmlDir         = "html_reports"
	logsDir         = "logs"

	MetadataFile   = "workflow_metadata.json"
	StatisticsFile = "workflow_statistics.json"
	framesManifest = "frames.json"
	logFile        = "workflow.log"
)

var nameReplacer = strings.NewReplacer(":", "_", "/", "_", "\\", "_", " ", "_")

// RunName builds the directory name of a run started at t.
func RunName(provider, model, style string, t time.Time) string {
	return media.RunDirPrefix + strings.Join([]string{
		sanitize(provider), sanitize(model), sanitize(style), t.Format("20060102_150405"),
	}, "_")
}

func sanitize(s string) string {
	return nameReplacer.Replace(strings.TrimSpace(s))
}

// Layout resolves the well-known paths of one run directory.
type Layout struct {
	Root string
}

func (l Layout) Name() string           { return filepath.Base(l.Root) }
func (l Layout) FramesDir() string      { return filepath.Join(l.Root, framesDir) }
func (l Layout) ConvertedDir() string   { return filepath.Join(l.Root, convertedDir) }
func (l Layout) HTMLDir() string        { return filepath.Join(l.Root, htmlDir) }
func (l Layout) LogsDir() string        { return filepath.Join(l.Root, logsDir) }
func (l Layout) MetadataPath() string   { return filepath.Join(l.Root, MetadataFile) }
func (l Layout) StatisticsPath() string { return filepath.Join(l.Root, logsDir, StatisticsFile) }
func (l Layout) FramesManifest() string { return filepath.Join(l.Root, framesDir, framesManifest) }
func (l Layout) LogPath() string        { return filepath.Join(l.Root, logsDir, logFile) }

func (l Layout) DescriptionsPath() string {
	return filepath.Join(l.Root, descriptionsDir, descriptions.FileName)
}

// Rel expresses path relative to the run root with forward slashes, or
// returns it unchanged when it lies outside the run.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func (l Layout) create() error {
	for _, d := range []string{l.FramesDir(), l.ConvertedDir(), filepath.Join(l.Root, descriptionsDir), l.HTMLDir(), l.LogsDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", d, err)
		}
	}
	return nil
}

// Metadata describes a run and is rewritten after every completed step.
type Metadata struct {
	RunID       uuid.UUID  `json:"run_id"`
	InputDir    string     `json:"input_dir"`
	Provider    string     `json:"provider"`
	Model       string     `json:"model"`
	PromptStyle string     `json:"prompt_style"`
	Steps       []Step     `json:"steps"`
	Completed   []Step     `json:"steps_completed"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (m *Metadata) completed(s Step) bool {
	for _, c := range m.Completed {
		if c == s {
			return true
		}
	}
	return false
}

func (m *Metadata) markCompleted(s Step) {
	if !m.completed(s) {
		m.Completed = append(m.Completed, s)
	}
}

// LoadMetadata reads the metadata of the run rooted at dir.
func LoadMetadata(dir string) (*Metadata, error) {
	path := Layout{Root: dir}.MetadataPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse '%s': %w", path, err)
	}
	return &m, nil
}

func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal '%s': %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write '%s': %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
