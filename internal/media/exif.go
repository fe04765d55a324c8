package media

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
)

const exifDateForm = "2006:01:02 15:04:05"

// CaptureInfo describes when and with what a photo was taken.
type CaptureInfo struct {
	Taken    time.Time
	FromEXIF bool
	Camera   string
	HasGPS   bool
	Lat, Lon float64
}

// Location renders the GPS position, or "" when there is none.
func (c CaptureInfo) Location() string {
	if !c.HasGPS {
		return ""
	}
	return fmt.Sprintf("%.5f, %.5f", c.Lat, c.Lon)
}

// CaptureReader reads capture metadata. JPEG and friends are read with
// goexif, videos with ffprobe and HEIC photos with exiftool. The zero value
// works without exiftool; HEIC photos then fall back to modification time.
type CaptureReader struct {
	et *exiftool.Exiftool
}

// NewCaptureReader starts an exiftool process for HEIC metadata. When
// exiftool is not installed the returned reader still works and the error
// says why HEIC dates will be missing.
func NewCaptureReader() (*CaptureReader, error) {
	et, err := exiftool.NewExiftool(exiftool.NoPrintConversion())
	if err != nil {
		return &CaptureReader{}, fmt.Errorf("exiftool unavailable: %w", err)
	}
	return &CaptureReader{et: et}, nil
}

func (r *CaptureReader) Close() error {
	if r == nil || r.et == nil {
		return nil
	}
	return r.et.Close()
}

// Read prefers the capture time recorded in the file and falls back to the
// file's modification time.
func (r *CaptureReader) Read(ctx context.Context, path string) (CaptureInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return CaptureInfo{}, fmt.Errorf("failed to stat '%s': %w", path, err)
	}
	info := CaptureInfo{Taken: stat.ModTime()}

	switch Classify(path) {
	case KindHEIC:
		if r == nil || r.et == nil {
			return info, nil
		}
		md := r.et.ExtractMetadata(path)
		if len(md) == 1 && md[0].Err == nil {
			applyExiftool(md[0], &info)
		}
	case KindVideo:
		probe, err := ProbeVideo(ctx, path)
		if err != nil {
			return info, nil
		}
		if !probe.Created.IsZero() {
			info.Taken, info.FromEXIF = probe.Created, true
		}
		info.Camera = probe.Camera
	default:
		readEXIF(path, &info)
	}
	return info, nil
}

func readEXIF(path string, info *CaptureInfo) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return
	}
	if t, err := x.DateTime(); err == nil {
		info.Taken = t
		info.FromEXIF = true
	}
	info.Camera = cameraName(tagString(x, exif.Make), tagString(x, exif.Model))
	if lat, lon, err := x.LatLong(); err == nil {
		info.HasGPS, info.Lat, info.Lon = true, lat, lon
	}
}

// applyExiftool reads fields extracted with print conversion disabled, so
// dates keep the EXIF layout and coordinates are plain numbers.
func applyExiftool(md exiftool.FileMetadata, info *CaptureInfo) {
	for _, key := range []string{"DateTimeOriginal", "CreateDate"} {
		if t, ok := exiftoolTime(md, key); ok {
			info.Taken, info.FromEXIF = t, true
			break
		}
	}
	maker, _ := md.GetString("Make")
	model, _ := md.GetString("Model")
	info.Camera = cameraName(strings.TrimSpace(maker), strings.TrimSpace(model))

	lat, latErr := md.GetFloat("GPSLatitude")
	lon, lonErr := md.GetFloat("GPSLongitude")
	if latErr != nil || lonErr != nil {
		return
	}
	if ref, _ := md.GetString("GPSLatitudeRef"); ref == "S" && lat > 0 {
		lat = -lat
	}
	if ref, _ := md.GetString("GPSLongitudeRef"); ref == "W" && lon > 0 {
		lon = -lon
	}
	info.HasGPS, info.Lat, info.Lon = true, lat, lon
}

func exiftoolTime(md exiftool.FileMetadata, key string) (time.Time, bool) {
	v, err := md.GetString(key)
	if err != nil || len(v) < len(exifDateForm) {
		return time.Time{}, false
	}
	loc := time.Local
	if off, err := md.GetString("OffsetTimeOriginal"); err == nil {
		if z, err := time.Parse("-07:00", off); err == nil {
			_, secs := z.Zone()
			loc = time.FixedZone(off, secs)
		}
	}
	t, err := time.ParseInLocation(exifDateForm, v[:len(exifDateForm)], loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func tagString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}

// cameraName avoids "Canon Canon EOS R5" when the model repeats the make.
func cameraName(maker, model string) string {
	switch {
	case model == "":
		return maker
	case maker == "" || strings.HasPrefix(strings.ToLower(model), strings.ToLower(maker)):
		return model
	default:
		return maker + " " + model
	}
}
