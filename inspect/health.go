package inspect

import (
	"net/http"
	"slices"

	"github.com/GoCodeAlone/microapp"
)

// HealthStatus summarizes the applications of every exposed container.
type HealthStatus string

const (
	// HealthStatusHealthy means no application has failed.
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded means some loads failed but may be retried.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy means some application is broken for good.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Health is the /healthz response. Applications are named "container/app".
type Health struct {
	Status   HealthStatus `json:"status"`
	Broken   []string     `json:"broken,omitempty"`
	Retrying []string     `json:"retrying,omitempty"`
}

// Check computes the health of the exposed containers.
func (h *Handler) Check() Health {
	h.mu.RLock()
	containers := slices.Clone(h.containers)
	h.mu.RUnlock()

	health := Health{Status: HealthStatusHealthy}
	for _, c := range containers {
		for _, app := range c.Apps() {
			switch app.State() {
			case microapp.StateSkipBecauseBroken:
				health.Broken = append(health.Broken, c.Name()+"/"+app.Name())
			case microapp.StateLoadError:
				health.Retrying = append(health.Retrying, c.Name()+"/"+app.Name())
			}
		}
	}
	switch {
	case len(health.Broken) > 0:
		health.Status = HealthStatusUnhealthy
	case len(health.Retrying) > 0:
		health.Status = HealthStatusDegraded
	}
	return health
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	health := h.Check()
	status := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, health)
}
