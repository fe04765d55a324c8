package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Stats tracks what a run has seen and done. Every counter is a set keyed by
// the canonical source of an item, so an item reported twice (a HEIC found by
// the scan and again as its converted JPEG, or frames re-read on resume) is
// counted once.
type Stats struct {
	mu        sync.Mutex
	images    map[string]bool
	heic      map[string]bool
	converted map[string]bool
	videos    map[string]bool
	frames    map[string]bool
	described map[string]bool
	cached    map[string]bool
	skipped   map[string]bool
	failed    map[string]bool
	started   time.Time
}

func NewStats() *Stats {
	return &Stats{
		images:    map[string]bool{},
		heic:      map[string]bool{},
		converted: map[string]bool{},
		videos:    map[string]bool{},
		frames:    map[string]bool{},
		described: map[string]bool{},
		cached:    map[string]bool{},
		skipped:   map[string]bool{},
		failed:    map[string]bool{},
		started:   time.Now(),
	}
}

func (s *Stats) add(set map[string]bool, key string) {
	s.mu.Lock()
	set[key] = true
	s.mu.Unlock()
}

// AddImage records a still image from the input. HEIC images are also images.
func (s *Stats) AddImage(key string, heic bool) {
	s.add(s.images, key)
	if heic {
		s.add(s.heic, key)
	}
}

func (s *Stats) AddVideo(key string)      { s.add(s.videos, key) }
func (s *Stats) AddFrame(key string)      { s.add(s.frames, key) }
func (s *Stats) MarkConverted(key string) { s.add(s.converted, key) }

// MarkDescribed records a fresh or cached description and clears any earlier
// failure for the same item.
func (s *Stats) MarkDescribed(key string, fromCache bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.described[key] = true
	delete(s.failed, key)
	delete(s.skipped, key)
	if fromCache {
		s.cached[key] = true
	}
}

// MarkSkipped records an item already described by an earlier attempt.
func (s *Stats) MarkSkipped(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.described[key] {
		s.skipped[key] = true
		delete(s.failed, key)
	}
}

func (s *Stats) MarkFailed(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.described[key] && !s.skipped[key] {
		s.failed[key] = true
	}
}

// Summary is the persisted statistics record of a run.
type Summary struct {
	ImagesFound     int       `json:"images_found"`
	HEICFound       int       `json:"heic_found"`
	Converted       int       `json:"converted"`
	VideosFound     int       `json:"videos_found"`
	FramesExtracted int       `json:"frames_extracted"`
	Total           int       `json:"total_to_describe"`
	Described       int       `json:"described"`
	FromCache       int       `json:"from_cache"`
	Skipped         int       `json:"skipped"`
	WithDescription int       `json:"with_description"`
	Failed          int       `json:"failed"`
	Pending         int       `json:"pending"`
	Started         time.Time `json:"started_at"`
	Duration        string    `json:"duration"`
	FailedFiles     []string  `json:"failed_files,omitempty"`
	DescribedFiles  []string  `json:"described_files,omitempty"`
	CachedFiles     []string  `json:"cached_files,omitempty"`
}

// Summary snapshots the counters. Described, skipped and failed only count
// items that belong to the describable total.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.images) + len(s.frames)
	inTotal := func(set map[string]bool) int {
		return len(lo.Filter(lo.Keys(set), func(k string, _ int) bool { return s.images[k] || s.frames[k] }))
	}
	sum := Summary{
		ImagesFound:     len(s.images),
		HEICFound:       len(s.heic),
		Converted:       inTotal(s.converted),
		VideosFound:     len(s.videos),
		FramesExtracted: len(s.frames),
		Total:           total,
		Described:       inTotal(s.described),
		FromCache:       inTotal(s.cached),
		Skipped:         inTotal(s.skipped),
		Failed:          inTotal(s.failed),
		Started:         s.started,
		Duration:        time.Since(s.started).Round(time.Second).String(),
	}
	sum.WithDescription = sum.Described + sum.Skipped
	sum.Pending = total - sum.Described - sum.Skipped - sum.Failed
	sum.FailedFiles = s.sortedInTotal(s.failed)
	sum.DescribedFiles = s.sortedInTotal(s.described)
	sum.CachedFiles = s.sortedInTotal(s.cached)
	return sum
}

func (s *Stats) sortedInTotal(set map[string]bool) []string {
	keys := lo.Filter(lo.Keys(set), func(k string, _ int) bool { return s.images[k] || s.frames[k] })
	slices.Sort(keys)
	return keys
}

// Restore marks an item that already has a description. Items the previous
// record counted as described keep that status and their cache origin;
// anything else is skipped.
func (s *Stats) Restore(prev *Summary, key string) {
	if prev != nil && slices.Contains(prev.DescribedFiles, key) {
		s.MarkDescribed(key, slices.Contains(prev.CachedFiles, key))
		return
	}
	s.MarkSkipped(key)
}

// Fields renders the summary for a structured log line.
func (sum Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("images_found", sum.ImagesFound),
		zap.Int("heic_found", sum.HEICFound),
		zap.Int("converted", sum.Converted),
		zap.Int("videos_found", sum.VideosFound),
		zap.Int("frames_extracted", sum.FramesExtracted),
		zap.Int("total", sum.Total),
		zap.Int("described", sum.Described),
		zap.Int("from_cache", sum.FromCache),
		zap.Int("skipped", sum.Skipped),
		zap.Int("with_description", sum.WithDescription),
		zap.Int("failed", sum.Failed),
		zap.Int("pending", sum.Pending),
		zap.String("duration", sum.Duration),
	}
}

// LoadSummary reads the statistics written for the run rooted at dir.
func LoadSummary(dir string) (*Summary, error) {
	path := Layout{Root: dir}.StatisticsPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read statistics: %w", err)
	}
	var sum Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("failed to parse '%s': %w", path, err)
	}
	return &sum, nil
}
