package classify

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/menta2k/xray-classifier/pkg/types"
)

const genericMediaType = "application/octet-stream"

// Adapt wraps raw image bytes and their declared media type into a transport payload.
// An empty or generic media type is replaced by the sniffed one.
func Adapt(data []byte, mediaType string) (*types.Payload, error) {
	if len(data) == 0 {
		return nil, &InvalidInputError{Reason: "no image data"}
	}

	mediaType = strings.TrimSpace(mediaType)
	if base := baseMediaType(mediaType); base == "" || base == genericMediaType {
		mediaType = mimetype.Detect(data).String()
	}

	base := baseMediaType(mediaType)
	if !strings.HasPrefix(base, "image/") {
		return nil, &InvalidInputError{Reason: "not an image: " + base}
	}

	return &types.Payload{
		Data:      data,
		MediaType: mediaType,
		Filename:  "xray" + extensionFor(base),
	}, nil
}

// baseMediaType strips parameters and lowercases the type
func baseMediaType(mediaType string) string {
	base, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func extensionFor(base string) string {
	if m := mimetype.Lookup(base); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if _, sub, ok := strings.Cut(base, "/"); ok && sub != "" && !strings.ContainsAny(sub, "+.") {
		return "." + sub
	}
	return ".img"
}
