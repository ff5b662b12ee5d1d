// Package domain contains the pure business types of the proxy.
// These types have no framework dependencies and no tags.
package domain

import "strings"

// ImageReference identifies a container image by repository and optional tag.
// It is derived deterministically from a request path and is immutable.
type ImageReference struct {
	Repository string
	Tag        string
}

// String renders the reference the way the container engine expects it,
// e.g. "my-org/my-app:v1" or just "nginx" when no tag is set.
func (r ImageReference) String() string {
	if r.Tag == "" {
		return r.Repository
	}
	return r.Repository + ":" + r.Tag
}

// IsZero reports whether the reference is empty.
func (r ImageReference) IsZero() bool {
	return r.Repository == ""
}

// ParseImageReference splits an engine-style image string into repository
// and tag. A colon only counts as a tag separator when it appears after the
// last slash, so registry ports ("localhost:5000/app") are not mistaken for
// tags.
func ParseImageReference(s string) ImageReference {
	if i := strings.LastIndex(s, ":"); i > strings.LastIndex(s, "/") {
		return ImageReference{Repository: s[:i], Tag: s[i+1:]}
	}
	return ImageReference{Repository: s}
}
