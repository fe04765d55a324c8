package gallery

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idt/internal/descriptions"
)

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	require.NoError(t, jpeg.Encode(buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestGenerate(t *testing.T) {
	runDir := t.TempDir()
	inputDir := t.TempDir()
	htmlDir := filepath.Join(runDir, "html_reports")

	writeJPEG(t, filepath.Join(runDir, "converted_images", "b.jpg"), 800, 600)
	writeJPEG(t, filepath.Join(inputDir, "a.jpg"), 100, 80)

	early := time.Date(2023, 5, 1, 9, 0, 0, 0, time.Local)
	late := time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local)
	entries := []descriptions.Entry{
		{File: "converted_images/b.jpg", Source: "/in/b.HEIC", Provider: "ollama", Model: "llava", PromptStyle: "detailed", PhotoDate: late, Location: "47.60621, -122.33207", Description: "A <b>bold</b> barn."},
		{File: filepath.Join(inputDir, "a.jpg"), Provider: "ollama", Model: "llava", PromptStyle: "detailed", PhotoDate: early, Description: "A field."},
		{File: "extracted_frames/gone.jpg", Provider: "ollama", Model: "llava", PromptStyle: "detailed", Description: "Lost frame."},
	}

	res, err := Generate(runDir, htmlDir, entries, []Fact{{Label: "Provider", Value: "ollama"}}, Options{Title: "Trip", ThumbWidth: 200})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Cards)
	assert.Equal(t, []string{"extracted_frames/gone.jpg"}, res.Missing)

	index, err := os.ReadFile(filepath.Join(htmlDir, IndexFile))
	require.NoError(t, err)
	html := string(index)
	assert.Contains(t, html, "<title>Trip</title>")
	assert.Contains(t, html, "A &lt;b&gt;bold&lt;/b&gt; barn.")
	assert.Contains(t, html, `src="thumbs/0001_a.jpg"`)
	assert.Contains(t, html, `href="images/0002_b.jpg"`)
	assert.Contains(t, html, "image not available")
	assert.Contains(t, html, ">47.60621, -122.33207</a>")
	assert.Contains(t, html, "openstreetmap.org/?mlat=47.60621")
	assert.Less(t, strings.Index(html, "A field."), strings.Index(html, "barn."), "earlier photo first")
	assert.Less(t, strings.Index(html, "barn."), strings.Index(html, "Lost frame."), "undated last")

	thumb, err := os.ReadFile(filepath.Join(htmlDir, "thumbs", "0002_b.jpg"))
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)

	_, err = os.Stat(filepath.Join(htmlDir, "images", "0001_a.jpg"))
	assert.NoError(t, err)

	exported, err := os.ReadFile(filepath.Join(htmlDir, JSONFile))
	require.NoError(t, err)
	assert.Contains(t, string(exported), `"file": "converted_images/b.jpg"`)
}

func TestGenerateEmpty(t *testing.T) {
	runDir := t.TempDir()
	res, err := Generate(runDir, filepath.Join(runDir, "html_reports"), nil, nil, Options{Title: "Empty"})
	require.NoError(t, err)
	assert.Zero(t, res.Cards)

	index, err := os.ReadFile(res.Index)
	require.NoError(t, err)
	assert.Contains(t, string(index), "No descriptions yet")
	assert.Contains(t, string(index), "0 described images")
}

func TestLinkOrCopyReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	require.NoError(t, linkOrCopy(src, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestFirstSentence(t *testing.T) {
	assert.Equal(t, "A dog", firstSentence("  A dog. It runs."))
	assert.Equal(t, "line one", firstSentence("line one\nline two"))
	assert.Len(t, firstSentence(strings.Repeat("x", 400)), 150)

	long := firstSentence(strings.Repeat("é", 200))
	assert.True(t, utf8.ValidString(long))
	assert.Equal(t, 150, utf8.RuneCountInString(long))
}

func TestMapURL(t *testing.T) {
	assert.Equal(t, "https://www.openstreetmap.org/?mlat=-33.86882&mlon=151.20930#map=15/-33.86882/151.20930", mapURL("-33.86882, 151.20930"))
	assert.Empty(t, mapURL(""))
	assert.Empty(t, mapURL("north, south"))
}
