// Package resolver maps request paths to image references. It is pure:
// no I/O, no state, safe for unlimited concurrent calls.
package resolver

import (
	"fmt"
	"strings"

	"github.com/lazygate/lazygate/internal/core/domain"
)

// Resolve derives the image reference addressed by path, plus the remaining
// path to forward to the backend.
//
// basePath is stripped first; a path outside it fails with ErrNotFound.
// When baseImage is non-empty the next segment is a tag and the result is
// "baseImage:tag". When baseImage is empty the next segment is itself the
// full image name. A path with no segment left fails with ErrMalformedPath.
func Resolve(path, basePath, baseImage string) (domain.ImageReference, string, error) {
	trimmed := strings.Trim(path, "/")

	if basePath != "" {
		switch {
		case trimmed == basePath:
			return domain.ImageReference{}, "", fmt.Errorf("%q: %w", path, domain.ErrMalformedPath)
		case strings.HasPrefix(trimmed, basePath+"/"):
			trimmed = trimmed[len(basePath)+1:]
		default:
			return domain.ImageReference{}, "", fmt.Errorf("%q: %w", path, domain.ErrNotFound)
		}
	}

	if trimmed == "" {
		return domain.ImageReference{}, "", fmt.Errorf("%q: %w", path, domain.ErrMalformedPath)
	}

	segment, rest, _ := strings.Cut(trimmed, "/")

	if baseImage != "" {
		return domain.ImageReference{Repository: baseImage, Tag: segment}, rest, nil
	}
	return domain.ParseImageReference(segment), rest, nil
}
