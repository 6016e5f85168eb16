package deployment

import (
	"strconv"
	"strings"
)

// =============================================================================
// Label Functions
// =============================================================================

// BuildLabels returns the label set that identifies a deployment's container.
//
// Example:
//
//	BuildLabels("abc123", 3001)
//	// {"orchestrator.managed": "true", "orchestrator.deployment.id": "abc123", "orchestrator.port": "3001"}
func BuildLabels(deploymentID string, hostPort int) map[string]string {
	return map[string]string{
		LabelManaged:    "true",
		LabelDeployment: deploymentID,
		LabelPort:       strconv.Itoa(hostPort),
	}
}

// PortFromLabels extracts the allocated host port from a container's labels.
// Returns false when the label is missing or not a valid port number.
func PortFromLabels(labels map[string]string) (int, bool) {
	raw, ok := labels[LabelPort]
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

// DeploymentIDFromLabels extracts the deployment id from a container's labels.
func DeploymentIDFromLabels(labels map[string]string) (string, bool) {
	id, ok := labels[LabelDeployment]
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// LabelFilter formats a label filter value for a runtime container listing.
//
// Example:
//
//	LabelFilter(LabelDeployment, "abc123") // returns "orchestrator.deployment.id=abc123"
//	LabelFilter(LabelPort, "")             // returns "orchestrator.port"
func LabelFilter(key, value string) string {
	if value == "" {
		return key
	}
	return key + "=" + value
}
