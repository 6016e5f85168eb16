package deployment

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// Build Output Parsing Functions
// =============================================================================

// BuildRecord is one parsed line of image build output.
type BuildRecord struct {
	Message string
	// Failed is set when the line is the runtime's explicit error marker.
	Failed bool
}

type buildMessage struct {
	Stream      *string          `json:"stream"`
	Error       string           `json:"error"`
	ErrorDetail buildErrorDetail `json:"errorDetail"`
}

type buildErrorDetail struct {
	Message string `json:"message"`
}

func (m buildMessage) errorMessage() string {
	if msg := strings.TrimSpace(m.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

// ParseBuildLine parses a single newline-delimited build output record.
//
// Blank lines yield ok=false. A JSON object carrying an error marker yields a
// Failed record. A JSON object with a stream field yields the trimmed stream
// text, or ok=false if that text is blank. Anything else, including JSON
// without a stream field, yields the raw trimmed line.
//
// Example:
//
//	ParseBuildLine(`{"stream":"Step 1/9 : FROM node:18-alpine\n"}`)
//	// BuildRecord{Message: "Step 1/9 : FROM node:18-alpine"}, true
func ParseBuildLine(line string) (BuildRecord, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return BuildRecord{}, false
	}

	var msg buildMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return BuildRecord{Message: trimmed}, true
	}

	if errMsg := msg.errorMessage(); errMsg != "" {
		return BuildRecord{Message: errMsg, Failed: true}, true
	}

	if msg.Stream == nil {
		return BuildRecord{Message: trimmed}, true
	}

	text := strings.TrimSpace(*msg.Stream)
	if text == "" {
		return BuildRecord{}, false
	}
	return BuildRecord{Message: text}, true
}

// ParseBuildChunk splits a chunk of build output on newlines and parses every
// non-blank line with ParseBuildLine.
func ParseBuildChunk(chunk []byte) []BuildRecord {
	lines := strings.Split(string(chunk), "\n")
	records := make([]BuildRecord, 0, len(lines))
	for _, line := range lines {
		if rec, ok := ParseBuildLine(line); ok {
			records = append(records, rec)
		}
	}
	return records
}
