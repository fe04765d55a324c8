// Package descriptions reads and writes the human-readable descriptions file
// a workflow run produces. One block per image:
//
//	File: converted_images/IMG_0001.jpg
//	Source: IMG_0001.HEIC
//	Provider: ollama
//	Model: llava:latest
//	Prompt Style: detailed
//	Photo Date: 2024-06-01 14:03:22
//	Camera: Apple iPhone 15
//	Location: 47.60621, -122.33207
//	Timestamp: 2026-10-18T10:11:12Z
//	Description: A red barn ...
//	(description continues until the separator)
//	--------------------------------------------------------------------------------
package descriptions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	FileName      = "image_descriptions.txt"
	photoDateForm = "2006-01-02 15:04:05"
)

var Separator = strings.Repeat("-", 80)

type Entry struct {
	File        string    `json:"file"`
	Source      string    `json:"source,omitempty"` // original file when File was converted or extracted
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	PromptStyle string    `json:"prompt_style"`
	PhotoDate   time.Time `json:"photo_date,omitempty"`
	Camera      string    `json:"camera,omitempty"`
	Location    string    `json:"location,omitempty"` // "lat, lon" in decimal degrees
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

// Write renders one block including the trailing separator.
func Write(w io.Writer, e Entry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", e.File)
	if e.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", e.Source)
	}
	fmt.Fprintf(&b, "Provider: %s\n", e.Provider)
	fmt.Fprintf(&b, "Model: %s\n", e.Model)
	fmt.Fprintf(&b, "Prompt Style: %s\n", e.PromptStyle)
	if !e.PhotoDate.IsZero() {
		fmt.Fprintf(&b, "Photo Date: %s\n", e.PhotoDate.Format(photoDateForm))
	}
	if e.Camera != "" {
		fmt.Fprintf(&b, "Camera: %s\n", e.Camera)
	}
	if e.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", e.Location)
	}
	fmt.Fprintf(&b, "Timestamp: %s\n", e.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Description: %s\n", strings.ReplaceAll(strings.TrimSpace(e.Description), "\r\n", "\n"))
	b.WriteString(Separator)
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// Append adds e to the descriptions file at path, creating it if needed.
func Append(path string, e Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", path, err)
	}
	if err := Write(f, e); err != nil {
		f.Close()
		return fmt.Errorf("failed to write '%s': %w", path, err)
	}
	return f.Close()
}

// Parse reads every complete block from r. A trailing block without a
// separator is kept as long as it has a file and a description.
func Parse(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		cur     Entry
		desc    []string
		inDesc  bool
	)
	flush := func() {
		cur.Description = strings.TrimSpace(strings.Join(desc, "\n"))
		if cur.File != "" && cur.Description != "" {
			entries = append(entries, cur)
		}
		cur, desc, inDesc = Entry{}, nil, false
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == Separator {
			flush()
			continue
		}
		if inDesc {
			desc = append(desc, line)
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "File":
			cur.File = value
		case "Source":
			cur.Source = value
		case "Provider":
			cur.Provider = value
		case "Model":
			cur.Model = value
		case "Prompt Style":
			cur.PromptStyle = value
		case "Photo Date":
			if t, err := time.ParseInLocation(photoDateForm, value, time.Local); err == nil {
				cur.PhotoDate = t
			}
		case "Camera":
			cur.Camera = value
		case "Location":
			cur.Location = value
		case "Timestamp":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				cur.Timestamp = t
			}
		case "Description":
			inDesc = true
			desc = append(desc, value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read descriptions: %w", err)
	}
	flush()
	return entries, nil
}

// Load parses the descriptions file at path. A missing file yields no entries.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Described returns the described file of every entry, for skipping on resume.
func Described(entries []Entry) map[string]bool {
	done := make(map[string]bool, len(entries))
	for _, e := range entries {
		done[e.File] = true
	}
	return done
}

// ExportJSON writes entries as an indented JSON array.
func ExportJSON(entries []Entry, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal descriptions: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write '%s': %w", path, err)
	}
	return nil
}
