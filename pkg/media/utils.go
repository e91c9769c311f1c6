package media

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"
	"net/http"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
)

// Kind is the kind of media attached to a post or story.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// KindOf classifies a content type, anything that is not an image is treated as video.
func KindOf(contentType string) Kind {
	if strings.HasPrefix(strings.ToLower(contentType), "image") {
		return KindImage
	}

	return KindVideo
}

// Detect sniffs the content type of data.
func Detect(data []byte) string {
	return http.DetectContentType(data)
}

// ObjectPath returns a unique object path under prefix for a file called name.
func ObjectPath(prefix, name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		name = "upload"
	}

	return path.Join(prefix, ksuid.New().String()+"_"+name)
}

func ToPNG(imageBytes []byte) ([]byte, error) {
	contentType := http.DetectContentType(imageBytes)

	switch contentType {
	case "image/png":
		return imageBytes, nil
	case "image/jpeg":
		img, err := jpeg.Decode(bytes.NewReader(imageBytes))
		if err != nil {
			return nil, errors.Wrap(err, "unable to decode jpeg")
		}

		buf := new(bytes.Buffer)
		if err := png.Encode(buf, img); err != nil {
			return nil, errors.Wrap(err, "unable to encode png")
		}

		return buf.Bytes(), nil
	}

	return nil, fmt.Errorf("unable to convert %#v to png", contentType)
}
