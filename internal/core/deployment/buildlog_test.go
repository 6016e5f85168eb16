package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// ParseBuildLine Tests
// =============================================================================

func TestParseBuildLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected BuildRecord
		ok       bool
	}{
		{"blank", "   ", BuildRecord{}, false},
		{"stream", `{"stream":"Step 1/9 : FROM node:18-alpine\n"}`, BuildRecord{Message: "Step 1/9 : FROM node:18-alpine"}, true},
		{"blank stream", `{"stream":"\n"}`, BuildRecord{}, false},
		{"plain text", "  Sending build context  ", BuildRecord{Message: "Sending build context"}, true},
		{"json without stream", `{"status":"Downloading","id":"abc"}`, BuildRecord{Message: `{"status":"Downloading","id":"abc"}`}, true},
		{"json scalar", `"hello"`, BuildRecord{Message: `"hello"`}, true},
		{"error", `{"error":"npm ERR! missing script: start"}`, BuildRecord{Message: "npm ERR! missing script: start", Failed: true}, true},
		{"error detail only", `{"errorDetail":{"message":"returned a non-zero code: 1"}}`, BuildRecord{Message: "returned a non-zero code: 1", Failed: true}, true},
		{"broken json", `{"stream":`, BuildRecord{Message: `{"stream":`}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := ParseBuildLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, rec)
		})
	}
}

// =============================================================================
// ParseBuildChunk Tests
// =============================================================================

func TestParseBuildChunk_MultipleRecords(t *testing.T) {
	chunk := []byte("{\"stream\":\"Step 1/2\\n\"}\n\n{\"stream\":\"Step 2/2\\n\"}\nplain line\n")

	records := ParseBuildChunk(chunk)

	assert.Equal(t, []BuildRecord{
		{Message: "Step 1/2"},
		{Message: "Step 2/2"},
		{Message: "plain line"},
	}, records)
}

func TestParseBuildChunk_ErrorMarker(t *testing.T) {
	chunk := []byte("{\"stream\":\"Step 1/2\\n\"}\n{\"error\":\"boom\",\"errorDetail\":{\"message\":\"boom\"}}\n")

	records := ParseBuildChunk(chunk)

	assert.Len(t, records, 2)
	assert.False(t, records[0].Failed)
	assert.True(t, records[1].Failed)
	assert.Equal(t, "boom", records[1].Message)
}

func TestParseBuildChunk_Empty(t *testing.T) {
	assert.Empty(t, ParseBuildChunk(nil))
	assert.Empty(t, ParseBuildChunk([]byte("\n\n  \n")))
}
