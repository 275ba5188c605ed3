package handlers

import (
	"net/http"
	"time"

	"github.com/exocortex-initiative/forcefield/internal/jobs"
	"github.com/exocortex-initiative/forcefield/internal/session"
)

var startedAt = time.Now()

// StatusResponse summarizes what the service is doing right now.
type StatusResponse struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	Simulations   []session.Info `json:"simulations"`
	Jobs          jobs.Stats     `json:"jobs"`
}

// GetStatus reports live simulations and job queue counts, the first stop
// when the service looks stuck.
func GetStatus(sessions *session.Manager, queue *jobs.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
			Simulations:   []session.Info{},
		}
		for _, s := range sessions.List() {
			resp.Simulations = append(resp.Simulations, s.Info())
		}
		if queue != nil {
			resp.Jobs = queue.Stats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
