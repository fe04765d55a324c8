package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// passThrough are the formats every provider accepts as they are.
var passThrough = map[string]bool{"jpeg": true, "png": true}

// Downscale shrinks imgData to at most maxWidth pixels wide, keeping the
// aspect ratio. JPEG and PNG images already narrow enough are returned
// unchanged; other formats are always re-encoded as JPEG.
func Downscale(imgData []byte, maxWidth uint) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	imgW := img.Bounds().Dx()
	imgH := img.Bounds().Dy()
	if imgH < 1 || imgW < 1 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", imgW, imgH)
	}

	if uint(imgW) <= maxWidth {
		if passThrough[format] {
			return imgData, nil
		}
	} else {
		img = resize.Resize(
			maxWidth,
			uint(float64(imgH)*(float64(maxWidth)/float64(imgW))),
			img,
			resize.Lanczos3,
		)
	}

	resizedData := bytes.NewBuffer(nil)
	if err := jpeg.Encode(resizedData, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return resizedData.Bytes(), nil
}

// Thumbnail always re-encodes to JPEG, even when no resize is needed, so the
// output can be written with a .jpg name regardless of source format.
func Thumbnail(imgData []byte, width uint) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if uint(img.Bounds().Dx()) > width {
		img = resize.Thumbnail(width, width*4, img, resize.Lanczos3)
	}
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
