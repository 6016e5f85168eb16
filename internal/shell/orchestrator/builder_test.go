package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/shell/docker"
)

// chunkedReader returns its data a few bytes at a time so records straddle
// read boundaries.
type chunkedReader struct {
	data []byte
	size int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func collect(t *testing.T, s *BuildStream) []BuildLine {
	t.Helper()
	var lines []BuildLine
	for s.Next() {
		lines = append(lines, s.Line())
	}
	return lines
}

// =============================================================================
// BuildStream Tests
// =============================================================================

func TestBuildStream_ReassemblesChunks(t *testing.T) {
	raw := `{"stream":"Step 1/2 : FROM node:18-alpine\n"}` + "\n" +
		`{"stream":"Step 2/2 : RUN npm install\n"}` + "\n"
	s := newBuildStream("img", io.NopCloser(&chunkedReader{data: []byte(raw), size: 7}))
	defer s.Close()

	lines := collect(t, s)

	require.Len(t, lines, 2)
	assert.Equal(t, "Step 1/2 : FROM node:18-alpine", lines[0].Message)
	assert.Equal(t, "Step 2/2 : RUN npm install", lines[1].Message)
	assert.NoError(t, s.Err())
	assert.Equal(t, "Step 1/2 : FROM node:18-alpine\nStep 2/2 : RUN npm install", s.Output())
}

func TestBuildStream_SkipsBlankAndKeepsRaw(t *testing.T) {
	raw := "\n\n" + `{"stream":"   \n"}` + "\nplain text line\n" + `{"status":"Pulling fs layer"}` + "\n"
	s := newBuildStream("img", io.NopCloser(strings.NewReader(raw)))

	lines := collect(t, s)

	require.Len(t, lines, 2)
	assert.Equal(t, "plain text line", lines[0].Message)
	assert.Equal(t, `{"status":"Pulling fs layer"}`, lines[1].Message)
	assert.NoError(t, s.Err())
}

func TestBuildStream_ErrorMarkerFails(t *testing.T) {
	s := newBuildStream("project-P1:latest", io.NopCloser(strings.NewReader(buildFailureOutput+`{"stream":"never seen\n"}`+"\n")))

	lines := collect(t, s)

	require.Len(t, lines, 2)
	assert.True(t, lines[1].Failed)
	assert.Equal(t, "npm ERR! missing script: start", lines[1].Message)

	var berr *ImageBuildError
	require.ErrorAs(t, s.Err(), &berr)
	assert.Equal(t, "project-P1:latest", berr.ImageTag)
	assert.ErrorIs(t, s.Err(), docker.ErrImageBuildFailed)
	assert.False(t, s.Next())
}

func TestBuildStream_ErrorDetailOnly(t *testing.T) {
	s := newBuildStream("img", io.NopCloser(strings.NewReader(`{"errorDetail":{"message":"no space left"}}`+"\n")))

	collect(t, s)

	var berr *ImageBuildError
	require.ErrorAs(t, s.Err(), &berr)
	assert.Equal(t, "no space left", berr.Message)
}

func TestBuildStream_ReadErrorFails(t *testing.T) {
	readErr := errors.New("connection reset")
	body := io.MultiReader(strings.NewReader(`{"stream":"Step 1/2\n"}`+"\n"), &failingReader{err: readErr})
	s := newBuildStream("img", io.NopCloser(body))

	lines := collect(t, s)

	require.Len(t, lines, 1)
	var berr *ImageBuildError
	require.ErrorAs(t, s.Err(), &berr)
	assert.ErrorIs(t, s.Err(), readErr)
	assert.Equal(t, "Step 1/2", berr.Output)
}

func TestBuildStream_CloseIdempotent(t *testing.T) {
	s := newBuildStream("img", io.NopCloser(strings.NewReader("")))

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

// =============================================================================
// ImageBuilder Tests
// =============================================================================

func TestImageBuilder_ForwardsLinesToSink(t *testing.T) {
	f := newFakeClient()
	sink := &recordingSink{}
	b := NewImageBuilder(f, sink, nil, testLogger(), BuildSettings{NoCache: true})

	result, err := b.Build(context.Background(), t.TempDir(), "project-P1:latest", "P1")
	require.NoError(t, err)

	assert.Equal(t, "project-P1:latest", result.ImageTag)
	assert.Equal(t, "Step 1/2 : FROM node:18-alpine\nSuccessfully built abc123", result.Output)
	assert.Equal(t, []string{"Step 1/2 : FROM node:18-alpine", "Successfully built abc123"}, sink.messages(domain.LogLevelInfo))

	require.Len(t, f.builds, 1)
	assert.True(t, f.builds[0].NoCache)
	assert.Equal(t, "Dockerfile", f.builds[0].Dockerfile)
	assert.Nil(t, f.builds[0].BuildArgs)
}

func TestImageBuilder_PassesBuildArgs(t *testing.T) {
	f := newFakeClient()
	b := NewImageBuilder(f, &recordingSink{}, nil, testLogger(), BuildSettings{
		Args: map[string]string{"HTTP_PROXY": "http://proxy:3128", "NPM_FLAGS": ""},
	})

	_, err := b.Build(context.Background(), t.TempDir(), "img", "P1")
	require.NoError(t, err)

	require.Len(t, f.builds, 1)
	args := f.builds[0].BuildArgs
	require.Len(t, args, 2)
	require.NotNil(t, args["HTTP_PROXY"])
	assert.Equal(t, "http://proxy:3128", *args["HTTP_PROXY"])
	require.NotNil(t, args["NPM_FLAGS"])
	assert.Equal(t, "", *args["NPM_FLAGS"])
}

func TestImageBuilder_NeverSucceedsWithErrorMarker(t *testing.T) {
	outputs := []string{
		buildFailureOutput,
		`{"error":"boom"}`,
		"plain\n" + `{"errorDetail":{"message":"late failure"}}` + "\n" + `{"stream":"Successfully built x\n"}`,
	}

	for _, out := range outputs {
		f := newFakeClient()
		f.buildOutput = out
		b := NewImageBuilder(f, &recordingSink{}, nil, testLogger(), BuildSettings{})

		_, err := b.Build(context.Background(), t.TempDir(), "img", "P1")
		assert.Error(t, err, "output %q", out)
	}
}

func TestImageBuilder_TransportErrorEmitsError(t *testing.T) {
	f := newFakeClient()
	f.buildReadErr = errors.New("unexpected EOF")
	sink := &recordingSink{}
	b := NewImageBuilder(f, sink, nil, testLogger(), BuildSettings{})

	_, err := b.Build(context.Background(), t.TempDir(), "img", "P1")

	var berr *ImageBuildError
	require.ErrorAs(t, err, &berr)
	assert.Contains(t, berr.Output, "Successfully built abc123")
	assert.Len(t, sink.messages(domain.LogLevelError), 1)
}
