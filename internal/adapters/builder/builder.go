// Package builder implements ports.Builder: clone a git repository and
// build a container image from its Dockerfile. Images produced here exist
// only on this host, so the proxy serves them as Local origin and never
// reaps them.
package builder

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// Adapter builds images through the Docker engine.
type Adapter struct {
	cli *client.Client
	log *zap.Logger
}

// NewAdapter connects to the engine configured by the environment.
func NewAdapter(log *zap.Logger) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Adapter{cli: cli, log: log}, nil
}

// BuildImage shallow-clones repoURL into a scratch directory and builds the
// image named imageName from the Dockerfile at its root.
func (a *Adapter) BuildImage(ctx context.Context, repoURL string, imageName string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "lazygate-build-*")
	if err != nil {
		return "", fmt.Errorf("create build dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	a.log.Info("cloning repository",
		zap.String("repo", repoURL), zap.String("image", imageName))
	if _, err := git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{
		URL:   repoURL,
		Depth: 1,
	}); err != nil {
		return "", fmt.Errorf("clone %s: %w", repoURL, err)
	}

	buildCtx, err := archive.TarWithOptions(tmpDir, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("tar build context: %w", err)
	}

	a.log.Info("building image", zap.String("image", imageName))
	resp, err := a.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{imageName},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return "", fmt.Errorf("build %s: %w", imageName, err)
	}
	defer resp.Body.Close()

	// The build only completes once its output stream is consumed.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return "", fmt.Errorf("build %s: stream: %w", imageName, err)
	}

	a.log.Info("image built", zap.String("image", imageName))
	return imageName, nil
}
