// Package imagebuilder implements the image builder (C10): building and
// validating the base container images each runtime adapter points at.
// Builds route through BuildKit when BUILDKIT_HOST is set, falling back
// to the plain Docker SDK image-build API otherwise.
package imagebuilder

import (
	"context"
	"fmt"
	"os"
	goruntime "runtime"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/isol8/isol8/internal/buildkit"
	"github.com/isol8/isol8/internal/log"
	"github.com/isol8/isol8/internal/registry"
)

// BuildOptions configures one image build.
type BuildOptions struct {
	NoCache bool
	// Binary is the isol8 binary's bytes, added to the build context as
	// "isol8" so every runtime Dockerfile can COPY it to
	// /usr/local/bin/isol8 (the in-container proxy entry point).
	Binary []byte
}

// Builder builds the runtime images the registry's adapters reference.
type Builder struct {
	cli *client.Client
}

// NewBuilder wraps a Docker client for image builds.
func NewBuilder(cli *client.Client) *Builder {
	return &Builder{cli: cli}
}

// ImageExists reports whether tag is already present in the local image
// store.
func (b *Builder) ImageExists(ctx context.Context, tag string) (bool, error) {
	_, err := b.cli.ImageInspect(ctx, tag)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("imagebuilder: inspecting image %s: %w", tag, err)
	}
	return true, nil
}

// BuildImage builds dockerfile as tag. Routes to BuildKit when BUILDKIT_HOST
// is set, otherwise uses the Docker SDK's own (BuildKit-backed, by default)
// build API.
func (b *Builder) BuildImage(ctx context.Context, dockerfile, tag string, opts BuildOptions) error {
	if host := os.Getenv("BUILDKIT_HOST"); host != "" {
		log.Debug("imagebuilder: building via buildkit client", "buildkit_host", host, "tag", tag)
		return b.buildImageWithBuildKit(ctx, dockerfile, tag, opts)
	}
	log.Debug("imagebuilder: building via docker sdk", "tag", tag, "no_cache", opts.NoCache)
	return b.buildImageWithDockerSDK(ctx, dockerfile, tag, opts)
}

func targetPlatform() string {
	if goruntime.GOARCH == "arm64" {
		return "linux/arm64"
	}
	return "linux/amd64"
}

// buildImageWithBuildKit builds tag via a standalone or embedded BuildKit
// daemon, writing the Dockerfile and build-context files (the isol8 binary)
// to a scratch directory BuildKit syncs from.
func (b *Builder) buildImageWithBuildKit(ctx context.Context, dockerfile, tag string, opts BuildOptions) error {
	tmpDir, err := os.MkdirTemp("", "isol8-build-*")
	if err != nil {
		return fmt.Errorf("imagebuilder: creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := os.WriteFile(tmpDir+"/Dockerfile", []byte(dockerfile), 0644); err != nil {
		return fmt.Errorf("imagebuilder: writing Dockerfile: %w", err)
	}
	if len(opts.Binary) > 0 {
		if err := os.WriteFile(tmpDir+"/isol8", opts.Binary, 0755); err != nil {
			return fmt.Errorf("imagebuilder: writing binary context file: %w", err)
		}
	}

	bk, err := buildkit.NewClient()
	if err != nil {
		return fmt.Errorf("imagebuilder: creating buildkit client: %w", err)
	}
	return bk.Build(ctx, buildkit.BuildOptions{
		Tag:        tag,
		ContextDir: tmpDir,
		NoCache:    opts.NoCache,
		Platform:   targetPlatform(),
	})
}

// buildImageWithDockerSDK builds tag via the Docker daemon's image-build API,
// streaming a Dockerfile + context tar.
func (b *Builder) buildImageWithDockerSDK(ctx context.Context, dockerfile, tag string, opts BuildOptions) error {
	ctxFiles := map[string][]byte{}
	if len(opts.Binary) > 0 {
		ctxFiles["isol8"] = opts.Binary
	}
	buildCtx, err := buildContextTar(dockerfile, ctxFiles)
	if err != nil {
		return fmt.Errorf("imagebuilder: building context tar: %w", err)
	}

	log.Debug("imagebuilder: sending build to docker daemon", "tag", tag)
	resp, err := b.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
		Platform:   targetPlatform(),
		NoCache:    opts.NoCache,
	})
	if err != nil {
		return fmt.Errorf("imagebuilder: building image %s: %w", tag, err)
	}
	defer resp.Body.Close()
	return drainBuildOutput(resp.Body, tag)
}

// ensureBaseImage pulls a public base image if it isn't already present
// locally, for the Dockerfiles' FROM lines.
func (b *Builder) ensureBaseImage(ctx context.Context, ref string) error {
	exists, err := b.ImageExists(ctx, ref)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	log.Debug("imagebuilder: pulling base image", "ref", ref)
	reader, err := b.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("imagebuilder: pulling %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = drainPull(reader)
	return err
}

// EnsureRuntimeImages builds (or rebuilds, if opts.NoCache) every image the
// runtime registry references, in registry iteration order. Each build's
// base image is pulled first if missing.
func (b *Builder) EnsureRuntimeImages(ctx context.Context, opts BuildOptions) error {
	for name, adapter := range registry.Registry {
		spec, ok := runtimeDockerfiles[name]
		if !ok {
			return fmt.Errorf("imagebuilder: no Dockerfile template for runtime %q", name)
		}
		if err := b.ensureBaseImage(ctx, spec.baseImage); err != nil {
			return err
		}
		if !opts.NoCache {
			exists, err := b.ImageExists(ctx, adapter.Image)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
		}
		if err := b.BuildImage(ctx, spec.dockerfile(), adapter.Image, opts); err != nil {
			return fmt.Errorf("imagebuilder: building %s image %s: %w", name, adapter.Image, err)
		}
	}
	return nil
}
