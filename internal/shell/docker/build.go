package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/archive"
	"github.com/moby/patternmatcher/ignorefile"
)

// BuildImage tars contextDir and submits it to the engine's build endpoint.
// The returned stream carries the engine's newline-delimited JSON progress
// records; closing it also releases the build context archive.
func (d *DockerClient) BuildImage(ctx context.Context, contextDir string, opts BuildOptions) (io.ReadCloser, error) {
	if strings.TrimSpace(contextDir) == "" {
		return nil, NewDockerError("BuildImage", "image", opts.Tag, "build directory cannot be empty", ErrInvalidContext)
	}
	if strings.TrimSpace(opts.Tag) == "" {
		return nil, NewDockerError("BuildImage", "image", "", "image tag cannot be empty", ErrInvalidContext)
	}
	info, err := os.Stat(contextDir)
	if err != nil || !info.IsDir() {
		return nil, NewDockerError("BuildImage", "image", opts.Tag, fmt.Sprintf("build directory %q is not readable", contextDir), ErrInvalidContext)
	}

	excludes, err := readIgnoreFile(contextDir)
	if err != nil {
		return nil, NewDockerError("BuildImage", "image", opts.Tag, err.Error(), ErrInvalidContext)
	}

	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{ExcludePatterns: excludes})
	if err != nil {
		return nil, NewDockerError("BuildImage", "image", opts.Tag, fmt.Sprintf("create build context: %v", err), ErrInvalidContext)
	}

	buildOpts := build.ImageBuildOptions{
		Tags:        []string{opts.Tag},
		Dockerfile:  opts.Dockerfile,
		BuildArgs:   opts.BuildArgs,
		NoCache:     opts.NoCache,
		Remove:      true,
		ForceRemove: true,
	}

	resp, err := d.cli.ImageBuild(ctx, buildCtx, buildOpts)
	if err != nil {
		buildCtx.Close()
		return nil, NewDockerError("BuildImage", "image", opts.Tag, err.Error(), ErrImageBuildFailed)
	}

	return &buildBody{body: resp.Body, archive: buildCtx}, nil
}

// readIgnoreFile loads .dockerignore patterns from the context root, if present.
func readIgnoreFile(contextDir string) ([]string, error) {
	f, err := os.Open(filepath.Join(contextDir, ".dockerignore"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("parse .dockerignore: %w", err)
	}
	return patterns, nil
}

// buildBody ties the build response lifetime to the context archive.
type buildBody struct {
	body    io.ReadCloser
	archive io.ReadCloser
}

func (b *buildBody) Read(p []byte) (int, error) {
	return b.body.Read(p)
}

func (b *buildBody) Close() error {
	err := b.body.Close()
	if archErr := b.archive.Close(); err == nil {
		err = archErr
	}
	return err
}
