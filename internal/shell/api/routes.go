package api

import (
	"net/http"

	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/shell/api/openapi"
)

// operations describes the routes served by Routes for the OpenAPI document.
func operations() []openapi.Operation {
	return []openapi.Operation{
		{
			Method:   http.MethodGet,
			Path:     "/health",
			ID:       "getHealth",
			Summary:  "Liveness probe",
			Tag:      "Health",
			Response: HealthResponse{},
		},
		{
			Method:   http.MethodGet,
			Path:     "/ready",
			ID:       "getReady",
			Summary:  "Readiness probe; pings the container runtime",
			Tag:      "Health",
			Response: ReadyResponse{},
			Errors:   []int{http.StatusServiceUnavailable},
		},
		{
			Method:      http.MethodGet,
			Path:        "/metrics",
			ID:          "getMetrics",
			Summary:     "Prometheus metrics",
			Tag:         "Health",
			ContentType: "text/plain",
		},
		{
			Method:   http.MethodPost,
			Path:     "/api/v1/deployments",
			ID:       "createDeployment",
			Summary:  "Build a source tree and run it as the deployment's container",
			Tag:      "Deployments",
			Request:  CreateDeploymentRequest{},
			Response: AcceptedResponse{},
			Status:   http.StatusAccepted,
			Errors:   []int{http.StatusBadRequest, http.StatusConflict},
		},
		{
			Method:   http.MethodGet,
			Path:     "/api/v1/deployments",
			ID:       "listDeployments",
			Summary:  "List tracked deployments and managed containers",
			Tag:      "Deployments",
			Response: ListDeploymentsResponse{},
		},
		{
			Method:   http.MethodGet,
			Path:     "/api/v1/deployments/{id}",
			ID:       "getDeployment",
			Summary:  "Get a deployment with its live container status",
			Tag:      "Deployments",
			Response: DeploymentResponse{},
			Errors:   []int{http.StatusNotFound},
		},
		{
			Method:   http.MethodGet,
			Path:     "/api/v1/deployments/{id}/logs",
			ID:       "getDeploymentLogs",
			Summary:  "Recent container output",
			Tag:      "Deployments",
			Response: LogsResponse{},
			Query: []openapi.QueryParam{
				{Name: "tail", Type: "integer", Description: "number of lines, default 100"},
			},
			Errors: []int{http.StatusBadRequest, http.StatusNotFound},
		},
		{
			Method:      http.MethodGet,
			Path:        "/api/v1/deployments/{id}/events",
			ID:          "streamDeploymentEvents",
			Summary:     "Server-sent build log events; each data payload is a BuildLogEvent",
			Tag:         "Deployments",
			Response:    domain.BuildLogEvent{},
			ContentType: "text/event-stream",
			Query: []openapi.QueryParam{
				{Name: "follow", Type: "boolean", Description: "keep streaming live events, default true"},
			},
		},
		{
			Method:   http.MethodPost,
			Path:     "/api/v1/deployments/{id}/stop",
			ID:       "stopDeployment",
			Summary:  "Stop and remove the deployment's container",
			Tag:      "Deployments",
			Response: StopResponse{},
			Errors:   []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
		},
	}
}
