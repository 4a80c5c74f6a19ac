package api

import (
	"github.com/mattjoyce/ductile-ci/internal/results"
	"github.com/mattjoyce/ductile-ci/internal/state"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Runners       int    `json:"runners"`
	Pending       int    `json:"pending"`
	Dispatched    int    `json:"dispatched"`
}

// RunnersResponse is returned by GET /runners in registration order.
type RunnersResponse struct {
	Runners []state.Runner `json:"runners"`
}

// DispatchedCommit pairs a commit with the runner working on it.
type DispatchedCommit struct {
	CommitID string       `json:"commit_id"`
	Runner   state.Runner `json:"runner"`
}

// CommitsResponse is returned by GET /commits.
type CommitsResponse struct {
	Pending    []string           `json:"pending"`
	Dispatched []DispatchedCommit `json:"dispatched"`
}

// ResultsResponse is returned by GET /results.
type ResultsResponse struct {
	Results []results.Record `json:"results"`
}
