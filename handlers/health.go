package handlers

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status         string `json:"status"`
	Connection     string `json:"connection"`
	Queued         int    `json:"queued"`
	OldestQueuedMs int64  `json:"oldestQueuedMs"`
	Degraded       bool   `json:"degraded"`
}

// HealthHandler reports the realtime connection state.
func HealthHandler(s Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "signed_out", Connection: "disconnected"}
		if conn := s.Connection(); conn != nil {
			resp.Status = "ok"
			resp.Connection = conn.State().String()
			resp.Queued = conn.QueueLen()
			resp.OldestQueuedMs = conn.OldestQueuedAge().Milliseconds()
			resp.Degraded = conn.Degraded()
			if resp.Degraded {
				resp.Status = "degraded"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
