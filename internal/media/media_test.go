package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	buf := bytes.NewBuffer(nil)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Kind
	}{
		{name: "jpeg upper", input: "IMG_0001.JPG", expected: KindImage},
		{name: "webp", input: "a.webp", expected: KindImage},
		{name: "heic", input: "IMG_0002.HEIC", expected: KindHEIC},
		{name: "hif", input: "x.hif", expected: KindHEIC},
		{name: "video", input: "clip.MOV", expected: KindVideo},
		{name: "text", input: "notes.txt", expected: KindOther},
		{name: "no extension", input: "README", expected: KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.input))
		})
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	mk := func(rel string) {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	mk("b.jpg")
	mk("a.heic")
	mk("notes.txt")
	mk("sub/c.mp4")
	mk(".hidden/d.jpg")
	mk("wf_ollama_llava_detailed_20260101_000000/html_reports/images/e.jpg")
	mk(".DS_Store.jpg")

	files, err := Scan(root, true)
	require.NoError(t, err)
	var rels []string
	for _, f := range files {
		rels = append(rels, f.Rel)
	}
	assert.Equal(t, []string{"a.heic", "b.jpg", filepath.Join("sub", "c.mp4")}, rels)
	assert.Equal(t, KindHEIC, files[0].Kind)

	files, err = Scan(root, false)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = Scan(filepath.Join(root, "b.jpg"), true)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b.jpg", files[0].Rel)

	_, err = Scan(filepath.Join(root, "missing"), true)
	assert.Error(t, err)
}

func TestDownscale(t *testing.T) {
	src := encodePNG(t, 400, 200)

	out, err := Downscale(src, 1000)
	require.NoError(t, err)
	assert.Equal(t, src, out, "narrow images are returned untouched")

	out, err = Downscale(src, 100)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	_, err = Downscale([]byte("not an image"), 100)
	assert.Error(t, err)
}

func TestDownscaleReencodesUnsupportedFormats(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	require.NoError(t, bmp.Encode(buf, image.NewRGBA(image.Rect(0, 0, 40, 20))))

	out, err := Downscale(buf.Bytes(), 1000)
	require.NoError(t, err)
	_, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestThumbnail(t *testing.T) {
	out, err := Thumbnail(encodePNG(t, 50, 20), 100)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())

	out, err = Thumbnail(encodePNG(t, 800, 400), 200)
	require.NoError(t, err)
	img, err = jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
}

func TestFrameFilter(t *testing.T) {
	vf, err := frameFilter(ExtractOptions{Mode: ModeInterval, Interval: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "fps=1/5", vf)

	vf, err = frameFilter(ExtractOptions{Mode: ModeInterval, Interval: 2500 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "fps=1/2.5", vf)

	vf, err = frameFilter(ExtractOptions{Mode: ModeScene, SceneThreshold: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "select='gt(scene,0.3)'", vf)

	_, err = frameFilter(ExtractOptions{Mode: ModeInterval})
	assert.Error(t, err)
	_, err = frameFilter(ExtractOptions{Mode: "bogus"})
	assert.Error(t, err)
}

func TestPositionOffsets(t *testing.T) {
	got := positionOffsets(20*time.Second, []float64{0.3, 0.5, 0.7}, 0)
	assert.Equal(t, []time.Duration{6 * time.Second, 10 * time.Second, 14 * time.Second}, got)

	got = positionOffsets(0, []float64{0.5}, 0)
	assert.Equal(t, []time.Duration{5 * time.Second}, got)

	got = positionOffsets(10*time.Second, []float64{0.1, 0.2, 0.3}, 2)
	assert.Len(t, got, 2)
}

func TestParseProbe(t *testing.T) {
	info, err := parseProbe(`{"streams":[{"codec_type":"audio"},{"codec_type":"video","width":1920,"height":1080}],"format":{"duration":"12.500000"}}`)
	require.NoError(t, err)
	assert.Equal(t, 12500*time.Millisecond, info.Duration)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)

	assert.True(t, info.Created.IsZero())

	info, err = parseProbe(`{"streams":[],"format":{}}`)
	require.NoError(t, err)
	assert.Zero(t, info.Duration)

	info, err = parseProbe(`{"format":{"tags":{"creation_time":"2022-01-02T03:04:05.000000Z"}}}`)
	require.NoError(t, err)
	assert.True(t, info.Created.Equal(time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)))

	_, err = parseProbe(`{"format":{"duration":"abc"}}`)
	assert.Error(t, err)
	_, err = parseProbe(`not json`)
	assert.Error(t, err)
}

func TestJPEGQScale(t *testing.T) {
	assert.Equal(t, 2, jpegQScale(100))
	assert.Equal(t, 31, jpegQScale(1))
	assert.Equal(t, 31, jpegQScale(-5))
	assert.Equal(t, 3, jpegQScale(95))
}

func TestConvertedName(t *testing.T) {
	assert.Equal(t, filepath.Join("trip", "IMG_1.jpg"), ConvertedName(filepath.Join("trip", "IMG_1.HEIC")))
}

func TestUpToDate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.heic")
	dst := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(src, []byte("heic"), 0644))
	assert.False(t, upToDate(src, dst))

	require.NoError(t, os.WriteFile(dst, []byte("jpg"), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(src, old, old))
	assert.True(t, upToDate(src, dst))

	newer := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(src, newer, newer))
	assert.False(t, upToDate(src, dst))
}

func TestCaptureReaderFallsBackToModTime(t *testing.T) {
	dir := t.TempDir()
	when := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	png := filepath.Join(dir, "plain.png")
	require.NoError(t, os.WriteFile(png, encodePNG(t, 4, 4), 0644))
	heic := filepath.Join(dir, "IMG_0001.HEIC")
	require.NoError(t, os.WriteFile(heic, []byte("ftypheic"), 0644))

	var r CaptureReader
	for _, path := range []string{png, heic} {
		require.NoError(t, os.Chtimes(path, when, when))
		info, err := r.Read(context.Background(), path)
		require.NoError(t, err)
		assert.False(t, info.FromEXIF)
		assert.True(t, info.Taken.Equal(when))
		assert.Empty(t, info.Camera)
		assert.Empty(t, info.Location())
	}

	_, err := r.Read(context.Background(), filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)
}

func TestApplyExiftool(t *testing.T) {
	md := exiftool.FileMetadata{
		File: "IMG_0001.HEIC",
		Fields: map[string]interface{}{
			"DateTimeOriginal":   "2024:06:01 14:03:22",
			"OffsetTimeOriginal": "+02:00",
			"Make":               "Apple",
			"Model":              "iPhone 15 Pro",
			"GPSLatitude":        33.86882,
			"GPSLatitudeRef":     "S",
			"GPSLongitude":       151.2093,
			"GPSLongitudeRef":    "E",
		},
	}
	var info CaptureInfo
	applyExiftool(md, &info)
	assert.True(t, info.FromEXIF)
	assert.True(t, info.Taken.Equal(time.Date(2024, 6, 1, 12, 3, 22, 0, time.UTC)))
	assert.Equal(t, "Apple iPhone 15 Pro", info.Camera)
	assert.Equal(t, "-33.86882, 151.20930", info.Location())

	info = CaptureInfo{}
	applyExiftool(exiftool.FileMetadata{Fields: map[string]interface{}{"CreateDate": "2020:01:02 03:04:05"}}, &info)
	assert.True(t, info.FromEXIF)
	assert.Equal(t, 2020, info.Taken.Year())
	assert.False(t, info.HasGPS)
}

// fakeTool puts an executable shell script named name first on PATH.
func fakeTool(t *testing.T, name, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+script), 0755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// fakeFFmpeg writes two frames for the output pattern, each holding the
// input path.
const fakeFFmpeg = `in=""; out=""; prev=""
for a in "$@"; do
	[ "$prev" = "-i" ] && in="$a"
	case "$a" in *.jpg) out="$a" ;; esac
	prev="$a"
done
for n in 0001 0002; do
	printf '%s\n' "$in" > "$(printf '%s' "$out" | sed "s/%04d/$n/")"
done
`

func TestExtractKeepsVideosApart(t *testing.T) {
	fakeTool(t, "ffmpeg", fakeFFmpeg)
	outDir := t.TempDir()
	e := NewFrameExtractor(ExtractOptions{Mode: ModeInterval, Interval: 5 * time.Second})

	mp4, err := e.Extract(context.Background(), "/in/clip.mp4", outDir)
	require.NoError(t, err)
	mov, err := e.Extract(context.Background(), "/in/clip.mov", outDir)
	require.NoError(t, err)
	require.Len(t, mp4, 2)
	require.Len(t, mov, 2)

	assert.Equal(t, filepath.Join(outDir, "clip.mp4_frame_0001.jpg"), mp4[0].Path)
	assert.Equal(t, filepath.Join(outDir, "clip.mov_frame_0002.jpg"), mov[1].Path)
	assert.Equal(t, 5*time.Second, mov[1].Offset)
	for _, fr := range mp4 {
		data, err := os.ReadFile(fr.Path)
		require.NoError(t, err)
		assert.Equal(t, "/in/clip.mp4\n", string(data))
		assert.Equal(t, "/in/clip.mp4", fr.Video)
	}
}

func TestExtractOddFileNames(t *testing.T) {
	fakeTool(t, "ffmpeg", fakeFFmpeg)
	outDir := t.TempDir()
	e := NewFrameExtractor(ExtractOptions{Mode: ModeInterval, Interval: time.Second})

	frames, err := e.Extract(context.Background(), "/in/Holiday [2023] 100%.mp4", outDir)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, filepath.Join(outDir, "Holiday [2023] 100_.mp4_frame_0001.jpg"), frames[0].Path)

	// a video whose name extends this one keeps its own frames
	_, err = e.Extract(context.Background(), "/in/Holiday [2023] 100%.mp4_frame_x.avi", outDir)
	require.NoError(t, err)
	paths, err := listFrames(outDir, framePrefix("/in/Holiday [2023] 100%.mp4"))
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestCaptureReaderVideoCreationTime(t *testing.T) {
	fakeTool(t, "ffprobe", `cat <<'JSON'
{"streams":[{"codec_type":"video","width":1920,"height":1080}],"format":{"duration":"3.0","tags":{"creation_time":"2023-06-01T14:03:22.000000Z","com.apple.quicktime.make":"Apple","com.apple.quicktime.model":"iPhone 15"}}}
JSON
`)
	path := filepath.Join(t.TempDir(), "clip.mov")
	require.NoError(t, os.WriteFile(path, []byte("moov"), 0644))

	var r CaptureReader
	info, err := r.Read(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, info.FromEXIF)
	assert.True(t, info.Taken.Equal(time.Date(2023, 6, 1, 14, 3, 22, 0, time.UTC)))
	assert.Equal(t, "Apple iPhone 15", info.Camera)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ProbeVideo(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCameraName(t *testing.T) {
	assert.Equal(t, "Canon EOS R5", cameraName("Canon", "Canon EOS R5"))
	assert.Equal(t, "Apple iPhone 15", cameraName("Apple", "iPhone 15"))
	assert.Equal(t, "Apple", cameraName("Apple", ""))
	assert.Equal(t, "X100V", cameraName("", "X100V"))
}
