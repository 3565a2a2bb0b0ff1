package api

import "net/http"

type healthResponse struct {
	Status    string   `json:"status"`
	TaskTypes []string `json:"task_types"`
	// Published is the signature offered to pull clients, empty until a
	// task is published.
	Published string `json:"published,omitempty"`
	Sessions  int    `json:"sessions"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		TaskTypes: s.registry.Types(),
		Sessions:  len(s.sessions.list()),
	}
	if d, _, ok := s.publisher.get(); ok {
		resp.Published = d.Signature
	}
	s.writeJSON(w, http.StatusOK, resp)
}
