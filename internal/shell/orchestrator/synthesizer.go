package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	coredeployment "github.com/artpar/launchpad/internal/core/deployment"
)

// Synthesizer writes a default build descriptor into projects that lack one.
type Synthesizer struct {
	params coredeployment.DescriptorParams
	logger *slog.Logger
}

// NewSynthesizer creates a synthesizer rendering the descriptor from params.
func NewSynthesizer(params coredeployment.DescriptorParams, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		params: params,
		logger: logger.With("component", "synthesizer"),
	}
}

// EnsureBuildDescriptor writes the default Dockerfile into sourceDir unless one
// already exists. An existing descriptor is never touched.
func (s *Synthesizer) EnsureBuildDescriptor(sourceDir string) error {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return &ConfigError{Path: sourceDir, Err: err}
	}
	if !info.IsDir() {
		return &ConfigError{Path: sourceDir, Err: errors.New("source is not a directory")}
	}

	path := filepath.Join(sourceDir, coredeployment.DescriptorFileName)

	existing, err := os.Stat(path)
	if err == nil {
		if existing.IsDir() {
			return &ConfigError{Path: path, Err: errors.New("build descriptor path is a directory")}
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return &ConfigError{Path: path, Err: fmt.Errorf("check build descriptor: %w", err)}
	}

	content := coredeployment.RenderDescriptor(s.params)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return &ConfigError{Path: path, Err: fmt.Errorf("write build descriptor: %w", err)}
	}

	s.logger.Info("wrote default build descriptor", "path", path)
	return nil
}
