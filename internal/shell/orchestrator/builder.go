package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	coredeployment "github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/shell/docker"
	"github.com/artpar/launchpad/internal/shell/logsink"
	"github.com/artpar/launchpad/internal/shell/metrics"
)

const maxBuildLineSize = 4 * 1024 * 1024

// BuildLine is one parsed line of build output.
type BuildLine = coredeployment.BuildRecord

// BuildStream is a pull-based reader over an image build's progress output.
//
//	for stream.Next() {
//	    line := stream.Line()
//	}
//	if err := stream.Err(); err != nil { ... }
//
// The explicit error record of a failed build is returned by Next like any
// other line (with Failed set); the following call to Next returns false and
// Err reports the failure.
type BuildStream struct {
	imageTag string
	body     io.ReadCloser
	scanner  *bufio.Scanner

	line   BuildLine
	lines  []string
	err    error
	done   bool
	closed bool
}

func newBuildStream(imageTag string, body io.ReadCloser) *BuildStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBuildLineSize)
	return &BuildStream{
		imageTag: imageTag,
		body:     body,
		scanner:  scanner,
	}
}

// Next advances to the next emitted line.
func (s *BuildStream) Next() bool {
	if s.done {
		return false
	}

	for s.scanner.Scan() {
		rec, ok := coredeployment.ParseBuildLine(s.scanner.Text())
		if !ok {
			continue
		}
		s.line = rec
		s.lines = append(s.lines, rec.Message)
		if rec.Failed {
			s.done = true
			s.err = &ImageBuildError{
				ImageTag: s.imageTag,
				Message:  rec.Message,
				Output:   s.Output(),
				Err:      docker.ErrImageBuildFailed,
			}
		}
		return true
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		s.err = &ImageBuildError{
			ImageTag: s.imageTag,
			Message:  fmt.Sprintf("read build output: %v", err),
			Output:   s.Output(),
			Err:      err,
		}
	}
	return false
}

// Line returns the line produced by the last call to Next.
func (s *BuildStream) Line() BuildLine {
	return s.line
}

// Err returns the build failure, if any. It is nil while lines remain and
// after a successful build.
func (s *BuildStream) Err() error {
	if !s.done {
		return nil
	}
	return s.err
}

// Output returns every line emitted so far, newline-joined.
func (s *BuildStream) Output() string {
	return strings.Join(s.lines, "\n")
}

// Close releases the underlying stream. Safe to call more than once.
func (s *BuildStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// BuildResult is the outcome of a successful image build.
type BuildResult struct {
	ImageTag string
	Output   string
}

// ImageBuilder builds images through the runtime and forwards their output
// to the log sink.
type ImageBuilder struct {
	docker  docker.Client
	sink    logsink.Sink
	metrics *metrics.Recorder
	logger  *slog.Logger
	opts    BuildSettings
}

// BuildSettings are applied to every image build.
type BuildSettings struct {
	NoCache bool
	// Args are passed as build-time variables, e.g. HTTP_PROXY for the
	// dependency install step.
	Args map[string]string
}

// NewImageBuilder creates an image builder.
func NewImageBuilder(cli docker.Client, sink logsink.Sink, rec *metrics.Recorder, logger *slog.Logger, opts BuildSettings) *ImageBuilder {
	if sink == nil {
		sink = logsink.Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageBuilder{
		docker:  cli,
		sink:    sink,
		metrics: rec,
		logger:  logger.With("component", "builder"),
		opts:    opts,
	}
}

// Stream starts a build of sourceDir tagged imageTag and returns its output stream.
// The caller must Close the stream.
func (b *ImageBuilder) Stream(ctx context.Context, sourceDir, imageTag string) (*BuildStream, error) {
	body, err := b.docker.BuildImage(ctx, sourceDir, docker.BuildOptions{
		Tag:        imageTag,
		Dockerfile: coredeployment.DescriptorFileName,
		BuildArgs:  buildArgs(b.opts.Args),
		NoCache:    b.opts.NoCache,
	})
	if err != nil {
		return nil, &ImageBuildError{
			ImageTag: imageTag,
			Message:  fmt.Sprintf("start build: %v", err),
			Err:      err,
		}
	}
	return newBuildStream(imageTag, body), nil
}

// Build runs an image build to completion, forwarding each output line to
// the sink as an event for deploymentID. The explicit error record of a
// failed build is forwarded at error level.
func (b *ImageBuilder) Build(ctx context.Context, sourceDir, imageTag, deploymentID string) (BuildResult, error) {
	b.logger.Info("building image", "deployment_id", deploymentID, "image", imageTag, "source", sourceDir)

	stream, err := b.Stream(ctx, sourceDir, imageTag)
	if err != nil {
		b.sink.EmitLog(deploymentID, domain.LogLevelError, err.Error())
		return BuildResult{}, err
	}
	defer stream.Close()

	for stream.Next() {
		line := stream.Line()
		level := domain.LogLevelInfo
		if line.Failed {
			level = domain.LogLevelError
		}
		b.sink.EmitLog(deploymentID, level, line.Message)
		b.metrics.BuildLine()
	}

	if err := stream.Err(); err != nil {
		if !stream.Line().Failed {
			b.sink.EmitLog(deploymentID, domain.LogLevelError, err.Error())
		}
		b.logger.Warn("image build failed", "deployment_id", deploymentID, "image", imageTag, "error", err)
		return BuildResult{}, err
	}

	b.logger.Info("image built", "deployment_id", deploymentID, "image", imageTag)
	return BuildResult{ImageTag: imageTag, Output: stream.Output()}, nil
}

// buildArgs converts args to the engine's form, where a nil value means the
// variable is taken from the daemon environment.
func buildArgs(args map[string]string) map[string]*string {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]*string, len(args))
	for k, v := range args {
		out[k] = &v
	}
	return out
}
