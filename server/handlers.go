package server

import (
	"net/http"

	"github.com/teranos/croplink/version"
)

// HandleHealth serves health check endpoint with version info
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.Get()

	health := map[string]interface{}{
		"status":  "ok",
		"state":   stateString(s.getState()),
		"version": versionInfo.Version,
		"commit":  versionInfo.Short(),
		"release": versionInfo.IsRelease(),
		"clients": s.clientCount(),
	}
	if s.workerPool != nil {
		health["workers"] = s.workerPool.Workers()
		health["active_workers"] = s.workerPool.ActiveWorkers()
	}

	status := http.StatusOK
	if s.getState() != ServerStateRunning {
		health["status"] = "draining"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
