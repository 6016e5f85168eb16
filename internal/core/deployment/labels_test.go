package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildLabels(t *testing.T) {
	labels := BuildLabels("abc123", 3001)

	assert.Equal(t, "true", labels[LabelManaged])
	assert.Equal(t, "abc123", labels[LabelDeployment])
	assert.Equal(t, "3001", labels[LabelPort])
	assert.Len(t, labels, 3)
}

func TestPortFromLabels(t *testing.T) {
	tests := []struct {
		name     string
		labels   map[string]string
		expected int
		ok       bool
	}{
		{"valid", map[string]string{LabelPort: "3001"}, 3001, true},
		{"whitespace", map[string]string{LabelPort: " 3002 "}, 3002, true},
		{"missing", map[string]string{}, 0, false},
		{"nil labels", nil, 0, false},
		{"not a number", map[string]string{LabelPort: "abc"}, 0, false},
		{"zero", map[string]string{LabelPort: "0"}, 0, false},
		{"out of range", map[string]string{LabelPort: "70000"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, ok := PortFromLabels(tt.labels)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, port)
		})
	}
}

func TestDeploymentIDFromLabels(t *testing.T) {
	id, ok := DeploymentIDFromLabels(map[string]string{LabelDeployment: "P1"})
	assert.True(t, ok)
	assert.Equal(t, "P1", id)

	_, ok = DeploymentIDFromLabels(map[string]string{LabelDeployment: " "})
	assert.False(t, ok)

	_, ok = DeploymentIDFromLabels(nil)
	assert.False(t, ok)
}

func TestLabelFilter(t *testing.T) {
	assert.Equal(t, "orchestrator.deployment.id=abc", LabelFilter(LabelDeployment, "abc"))
	assert.Equal(t, "orchestrator.port", LabelFilter(LabelPort, ""))
}
