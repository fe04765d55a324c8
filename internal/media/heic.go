package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// HEICConverter transcodes HEIC/HEIF photos to JPEG through ffmpeg.
type HEICConverter struct {
	quality int
}

func NewHEICConverter(quality int) *HEICConverter {
	return &HEICConverter{quality: quality}
}

// Convert writes dst from src. An existing dst that is newer than src is
// left alone and reported with converted=false.
func (c *HEICConverter) Convert(ctx context.Context, src, dst string) (converted bool, err error) {
	if upToDate(src, dst) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, fmt.Errorf("failed to create directory '%s': %w", filepath.Dir(dst), err)
	}

	tmp := dst + ".part.jpg"
	stream := ffmpeg.Input(src).
		Output(tmp, ffmpeg.KwArgs{
			"frames:v": 1,
			"q:v":      jpegQScale(c.quality),
		}).
		OverWriteOutput()
	if err := runFFmpeg(ctx, stream); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("failed to convert '%s': %w", src, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("failed to move '%s' to '%s': %w", tmp, dst, err)
	}
	return true, nil
}

// jpegQScale maps a 1-100 quality onto ffmpeg's mjpeg qscale (2 best, 31 worst).
func jpegQScale(quality int) int {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return 2 + (100-quality)*29/99
}

// ConvertedName is the JPEG name a HEIC file converts to.
func ConvertedName(rel string) string {
	return rel[:len(rel)-len(filepath.Ext(rel))] + ".jpg"
}

func upToDate(src, dst string) bool {
	ds, err := os.Stat(dst)
	if err != nil || ds.Size() == 0 {
		return false
	}
	ss, err := os.Stat(src)
	if err != nil {
		return false
	}
	return !ds.ModTime().Before(ss.ModTime())
}
