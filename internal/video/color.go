package video

import (
	"fmt"
	"image"

	"github.com/keagan/nsfwscan/internal/ffmpeg"
)

// ToRGBA reorders a bgr24 frame into an opaque RGBA image. Pixel values
// are copied unchanged; no resampling happens.
func ToRGBA(f *ffmpeg.Frame) (*image.RGBA, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("frame %d has invalid size %dx%d", f.Index, f.Width, f.Height)
	}
	if len(f.Pix) < f.Stride()*f.Height {
		return nil, fmt.Errorf("frame %d is truncated: %d of %d bytes", f.Index, len(f.Pix), f.Stride()*f.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	src, dst := f.Pix, img.Pix
	for i, j := 0, 0; j < len(dst); i, j = i+3, j+4 {
		dst[j+0] = src[i+2]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+0]
		dst[j+3] = 0xff
	}
	return img, nil
}
