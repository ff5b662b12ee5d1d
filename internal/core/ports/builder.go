package ports

import "context"

// Builder defines operations for producing container images from source
// code. Images built this way exist only on this host, so the proxy treats
// them as Local origin and never reaps them.
type Builder interface {
	// BuildImage clones a repository and builds an image from its
	// Dockerfile, returning the name the image was tagged with.
	BuildImage(ctx context.Context, repoURL string, imageName string) (string, error)
}
