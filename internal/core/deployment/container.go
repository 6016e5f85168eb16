package deployment

import "strconv"

// Default launch constraints.
const (
	DefaultContainerPort = 3000
	DefaultMemoryLimit   = 512 * 1024 * 1024
	DefaultCPUShares     = 512
	DefaultRestartPolicy = "unless-stopped"
)

// =============================================================================
// Container Plan Building Functions
// =============================================================================

// BuildContainerPlan builds a ContainerPlan for a deployment's single container.
//
// This is a pure function that transforms deployment parameters into a
// container plan that the shell can execute via the runtime API.
//
// The function:
//   - Names the container with ContainerName()
//   - Copies the caller's environment, then sets PORT to the container port
//   - Binds the container port to the allocated host port over tcp
//   - Applies memory and CPU share limits, falling back to defaults
//   - Attaches the deployment id and port labels
//
// Example:
//
//	plan := BuildContainerPlan(BuildContainerPlanParams{
//	    DeploymentID: "abc123",
//	    ImageTag:     ImageTag("abc123"),
//	    Env:          map[string]string{"A": "1"},
//	    HostPort:     3001,
//	})
func BuildContainerPlan(params BuildContainerPlanParams) ContainerPlan {
	containerPort := params.ContainerPort
	if containerPort == 0 {
		containerPort = DefaultContainerPort
	}

	plan := ContainerPlan{
		Name:   ContainerName(params.DeploymentID),
		Image:  params.ImageTag,
		Env:    make(map[string]string, len(params.Env)+1),
		Labels: BuildLabels(params.DeploymentID, params.HostPort),
		Ports: []PortPlan{
			{
				ContainerPort: containerPort,
				HostPort:      params.HostPort,
				Protocol:      "tcp",
			},
		},
	}

	for k, v := range params.Env {
		plan.Env[k] = v
	}
	// The fixed port variable wins over a caller-supplied one.
	plan.Env[PortEnvVar] = strconv.Itoa(containerPort)

	plan.Resources = params.Resources
	if plan.Resources.MemoryLimit <= 0 {
		plan.Resources.MemoryLimit = DefaultMemoryLimit
	}
	if plan.Resources.CPUShares <= 0 {
		plan.Resources.CPUShares = DefaultCPUShares
	}

	plan.RestartPolicy = mapRestartPolicy(params.RestartPolicy)

	return plan
}

// mapRestartPolicy normalizes a restart policy name to the runtime's vocabulary.
func mapRestartPolicy(policy string) RestartPolicyPlan {
	switch policy {
	case "always":
		return RestartPolicyPlan{Name: "always"}
	case "on-failure":
		return RestartPolicyPlan{Name: "on-failure"}
	case "no":
		return RestartPolicyPlan{Name: "no"}
	default:
		return RestartPolicyPlan{Name: DefaultRestartPolicy}
	}
}
