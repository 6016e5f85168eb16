// Package deployment provides pure functions for deployment planning.
//
// This package contains the functional core of the orchestrator: everything
// that can be decided without touching the filesystem or the container
// runtime. All functions are pure (no I/O, no side effects).
//
// # Functions
//
//   - Naming: ImageTag, ContainerName, ServiceURL
//   - Labels: BuildLabels, PortFromLabels, DeploymentIDFromLabels, LabelFilter
//   - Ports: UsedPorts, NextFreePort
//   - Container: BuildContainerPlan
//   - Build output: ParseBuildLine, ParseBuildChunk
//   - Descriptor: RenderDescriptor
//
// # Usage
//
// The imperative shell (internal/shell/orchestrator) uses these functions to
// plan a deployment, then executes the plan via the runtime API.
//
//	tag := deployment.ImageTag(deploymentID)
//	port := deployment.NextFreePort(candidate, deployment.UsedPorts(labels))
//	plan := deployment.BuildContainerPlan(params)
package deployment
