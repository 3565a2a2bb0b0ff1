package api

import "net/http"

// statsResponse is the JSON response for GET /v1/stats. Task figures come
// from the store; the rest is live service state.
type statsResponse struct {
	Tasks       int            `json:"tasks"`
	ByStatus    map[string]int `json:"by_status"`
	ByType      map[string]int `json:"by_type"`
	AvgTaskMS   float64        `json:"avg_task_ms"`
	ActiveSpans int            `json:"active_spans"`
	Sessions    int            `json:"sessions"`
	Generation  uint64         `json:"publish_generation"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetTaskStats(r.Context())
	if err != nil {
		s.logger.Error("get task stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	_, gen, _ := s.publisher.get()

	s.writeJSON(w, http.StatusOK, statsResponse{
		Tasks:       stats.Total,
		ByStatus:    stats.CountByStatus,
		ByType:      stats.CountByType,
		AvgTaskMS:   stats.AvgDurationMS,
		ActiveSpans: len(s.interceptor.Active()),
		Sessions:    len(s.sessions.list()),
		Generation:  gen,
	})
}
