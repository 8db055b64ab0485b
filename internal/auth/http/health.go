package http

import (
	"net/http"
	"time"

	"github.com/rentloop/rentloop/internal/auth/store"
	"github.com/rentloop/rentloop/pkg/httpx"
)

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// LivezHandler always answers 200 while the process is up.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler answers 200 only when both backing stores respond to a ping.
func ReadyzHandler(startTime time.Time, version string, st store.Store, replay store.ReplayStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := healthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		}

		if err := st.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body.Status = "database unavailable"
		} else if err := replay.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body.Status = "session store unavailable"
		}

		httpx.WriteJSON(w, status, body)
	}
}
