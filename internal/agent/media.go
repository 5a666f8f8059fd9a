package agent

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/jesspig/micro-agent/internal/providers"
)

// mediaPlaceholder replaces attachments when the selected model lacks vision.
const mediaPlaceholder = "[attachment: %s]"

// imageMimeTypes maps common extensions for file-path media.
var imageMimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// FoldMedia converts media references into image parts when the model is
// vision-capable, or textual placeholders otherwise. Unreadable or
// non-image media always degrade to placeholders.
func FoldMedia(media []string, vision bool) ([]providers.ImageContent, string) {
	var images []providers.ImageContent
	var placeholders []string

	for _, ref := range media {
		if vision {
			if img, ok := decodeImage(ref); ok {
				images = append(images, img)
				continue
			}
		}
		placeholders = append(placeholders, fmt.Sprintf(mediaPlaceholder, describeRef(ref)))
	}

	return images, strings.Join(placeholders, "\n")
}

// decodeImage handles data URIs and local image files.
func decodeImage(ref string) (providers.ImageContent, bool) {
	if strings.HasPrefix(ref, "data:") {
		rest := strings.TrimPrefix(ref, "data:")
		semi := strings.Index(rest, ";base64,")
		if semi < 0 {
			return providers.ImageContent{}, false
		}
		mime := rest[:semi]
		if !strings.HasPrefix(mime, "image/") {
			return providers.ImageContent{}, false
		}
		return providers.ImageContent{MimeType: mime, Data: rest[semi+len(";base64,"):]}, true
	}

	for ext, mime := range imageMimeTypes {
		if strings.HasSuffix(strings.ToLower(ref), ext) {
			data, err := os.ReadFile(ref)
			if err != nil {
				return providers.ImageContent{}, false
			}
			return providers.ImageContent{
				MimeType: mime,
				Data:     base64.StdEncoding.EncodeToString(data),
			}, true
		}
	}
	return providers.ImageContent{}, false
}

func describeRef(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		if semi := strings.Index(ref, ";"); semi > 5 {
			return ref[5:semi] + " data"
		}
		return "inline data"
	}
	return ref
}

// HasImages reports whether any media reference looks like an image.
func HasImages(media []string) bool {
	for _, ref := range media {
		if strings.HasPrefix(ref, "data:image/") {
			return true
		}
		for ext := range imageMimeTypes {
			if strings.HasSuffix(strings.ToLower(ref), ext) {
				return true
			}
		}
	}
	return false
}
