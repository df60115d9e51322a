// Package media decides from an upload's file name whether it is
// classified as a still image or sampled as a video.
package media

import (
	"errors"
	"fmt"

	"github.com/keagan/nsfwscan/pkg/util"
)

// ErrUnsupportedFormat is returned for extensions outside both sets
var ErrUnsupportedFormat = errors.New("unsupported format")

// Kind tags an upload with its decode path
type Kind int

const (
	Image Kind = iota + 1
	Video
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Video:
		return "video"
	default:
		return "unknown"
	}
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	".webm": true, ".flv": true, ".wmv": true, ".m4v": true,
	".mpeg": true, ".mpg": true, ".3gp": true,
}

// Detect classifies name by extension only. Content is never inspected;
// a mislabeled file fails later in its decoder.
func Detect(name string) (Kind, error) {
	ext := util.Ext(name)
	switch {
	case imageExtensions[ext]:
		return Image, nil
	case videoExtensions[ext]:
		return Video, nil
	case ext == "":
		return 0, fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, name)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}
