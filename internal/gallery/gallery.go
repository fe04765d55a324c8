// Package gallery renders described images into a static HTML report.
package gallery

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"idt/internal/descriptions"
	"idt/internal/media"
)

//go:embed templates/index.html.tmpl
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl"))

const (
	IndexFile = "index.html"
	JSONFile  = "descriptions.json"
	thumbsDir = "thumbs"
	imagesDir = "images"
)

type Options struct {
	Title      string
	ThumbWidth uint
}

// Fact is one labelled value in the report header.
type Fact struct {
	Label string
	Value string
}

type card struct {
	Anchor      string
	Name        string
	Image       string
	Thumb       string
	Alt         string
	Date        string
	Camera      string
	Location    string
	MapURL      string
	Source      string
	Provider    string
	Model       string
	PromptStyle string
	Description string
}

type page struct {
	Title     string
	Facts     []Fact
	Cards     []card
	Generated string
}

// Result reports what Generate produced.
type Result struct {
	Index   string
	Cards   int
	Missing []string // entries whose image file could not be found or decoded
}

// Generate writes index.html, thumbnails, linked images and a JSON export
// into htmlDir. Relative entry paths are resolved against runDir.
func Generate(runDir, htmlDir string, entries []descriptions.Entry, facts []Fact, opts Options) (*Result, error) {
	for _, d := range []string{htmlDir, filepath.Join(htmlDir, thumbsDir), filepath.Join(htmlDir, imagesDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory '%s': %w", d, err)
		}
	}
	if opts.ThumbWidth == 0 {
		opts.ThumbWidth = 400
	}

	sorted := sortEntries(entries)
	res := &Result{Index: filepath.Join(htmlDir, IndexFile)}
	p := page{Title: opts.Title, Facts: facts, Generated: time.Now().Format("2006-01-02 15:04")}

	for i, e := range sorted {
		c := card{
			Anchor:      fmt.Sprintf("img-%04d", i+1),
			Name:        filepath.Base(e.File),
			Alt:         firstSentence(e.Description),
			Camera:      e.Camera,
			Location:    e.Location,
			MapURL:      mapURL(e.Location),
			Source:      e.Source,
			Provider:    e.Provider,
			Model:       e.Model,
			PromptStyle: e.PromptStyle,
			Description: e.Description,
		}
		if !e.PhotoDate.IsZero() {
			c.Date = e.PhotoDate.Format("2006-01-02 15:04")
		}

		src := e.File
		if !filepath.IsAbs(src) {
			src = filepath.Join(runDir, filepath.FromSlash(src))
		}
		image, thumb, err := publishImage(src, htmlDir, i+1, opts.ThumbWidth)
		if err != nil {
			res.Missing = append(res.Missing, e.File)
		} else {
			c.Image, c.Thumb = image, thumb
		}
		p.Cards = append(p.Cards, c)
	}
	res.Cards = len(p.Cards)

	if err := renderIndex(res.Index, p); err != nil {
		return nil, err
	}
	if err := descriptions.ExportJSON(sorted, filepath.Join(htmlDir, JSONFile)); err != nil {
		return nil, err
	}
	return res, nil
}

func renderIndex(path string, p page) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", tmp, err)
	}
	if err := indexTemplate.Execute(f, p); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to render gallery: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// publishImage links the full image into images/ and writes a thumbnail
// into thumbs/, returning both as paths relative to htmlDir.
func publishImage(src, htmlDir string, n int, thumbWidth uint) (image, thumb string, err error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", "", err
	}
	base := filepath.Base(src)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	thumbName := fmt.Sprintf("%04d_%s.jpg", n, stem)
	thumbData, err := media.Thumbnail(data, thumbWidth)
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(filepath.Join(htmlDir, thumbsDir, thumbName), thumbData, 0644); err != nil {
		return "", "", fmt.Errorf("failed to write thumbnail: %w", err)
	}

	imageName := fmt.Sprintf("%04d_%s", n, base)
	if err := linkOrCopy(src, filepath.Join(htmlDir, imagesDir, imageName)); err != nil {
		return "", "", err
	}
	return imagesDir + "/" + imageName, thumbsDir + "/" + thumbName, nil
}

// linkOrCopy hardlinks src to dst, copying when the two live on different
// filesystems. An existing dst is replaced.
func linkOrCopy(src, dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale '%s': %w", dst, err)
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy '%s' to '%s': %w", src, dst, err)
	}
	return out.Close()
}

// sortEntries orders by photo date, undated entries last, then by file.
func sortEntries(entries []descriptions.Entry) []descriptions.Entry {
	sorted := append([]descriptions.Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.PhotoDate.IsZero() != b.PhotoDate.IsZero() {
			return !a.PhotoDate.IsZero()
		}
		if !a.PhotoDate.Equal(b.PhotoDate) {
			return a.PhotoDate.Before(b.PhotoDate)
		}
		return a.File < b.File
	})
	return sorted
}

// firstSentence is the alt text: up to the first period or newline, at most
// 150 runes.
func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".\n"); i > 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 150 {
		s = string(r[:150])
	}
	return s
}

// mapURL links a "lat, lon" location to OpenStreetMap.
func mapURL(loc string) string {
	lat, lon, ok := strings.Cut(loc, ",")
	if !ok {
		return ""
	}
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)
	if _, err := strconv.ParseFloat(lat, 64); err != nil {
		return ""
	}
	if _, err := strconv.ParseFloat(lon, 64); err != nil {
		return ""
	}
	return fmt.Sprintf("https://www.openstreetmap.org/?mlat=%s&mlon=%s#map=15/%s/%s", lat, lon, lat, lon)
}
