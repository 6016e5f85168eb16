package deployment

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents a planned container configuration.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Name          string
	Image         string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortPlan
	RestartPolicy RestartPolicyPlan
	Resources     ResourcePlan
}

// PortPlan represents a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// RestartPolicyPlan represents a restart policy.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// ResourcePlan represents resource limits.
type ResourcePlan struct {
	MemoryLimit int64 // Bytes
	CPUShares   int64 // Relative weight
}

// =============================================================================
// Builder Parameter Types
// =============================================================================

// BuildContainerPlanParams contains all inputs for building a container plan.
type BuildContainerPlanParams struct {
	DeploymentID  string
	ImageTag      string
	Env           map[string]string
	HostPort      int
	ContainerPort int
	Resources     ResourcePlan
	RestartPolicy string
}

// =============================================================================
// Orchestrator Container Labels
// =============================================================================

// Label keys attached to every container the orchestrator launches. They are
// the only durable record of a deployment.
const (
	LabelManaged    = "orchestrator.managed"
	LabelDeployment = "orchestrator.deployment.id"
	LabelPort       = "orchestrator.port"
)

// PortEnvVar is the variable that tells the application which port to bind.
const PortEnvVar = "PORT"
