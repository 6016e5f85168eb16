package deployment

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidDeploymentID is returned for ids that cannot be embedded in an
// image reference or container name.
var ErrInvalidDeploymentID = errors.New("deployment id must be 1-128 lowercase letters, digits, '.', '_' or '-', starting with a letter or digit")

var deploymentIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,127}$`)

// ValidateDeploymentID reports whether id yields a valid image tag and
// container name.
func ValidateDeploymentID(id string) error {
	if !deploymentIDPattern.MatchString(id) {
		return ErrInvalidDeploymentID
	}
	return nil
}

// =============================================================================
// Resource Naming Functions
// =============================================================================

// ImageTag generates the image tag for a deployment.
// Pattern: project-{deploymentID}:latest
//
// Example:
//
//	ImageTag("abc123") // returns "project-abc123:latest"
func ImageTag(deploymentID string) string {
	return fmt.Sprintf("project-%s:latest", deploymentID)
}

// ContainerName generates the container name for a deployment.
// Pattern: project-{deploymentID}
//
// Example:
//
//	ContainerName("abc123") // returns "project-abc123"
func ContainerName(deploymentID string) string {
	return fmt.Sprintf("project-%s", deploymentID)
}

// ServiceURL builds the address a deployed container is reachable at.
//
// Example:
//
//	ServiceURL("localhost", 3001) // returns "http://localhost:3001"
func ServiceURL(host string, port int) string {
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}
