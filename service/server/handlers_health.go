package server

import (
	"encoding/json"
	"net/http"
	"time"

	"herald/service/util"
)

type healthResponse struct {
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	Subscriptions int    `json:"subscriptions"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count()
	if err != nil {
		util.LogAndError(w, s.logger, "Failed to count subscriptions", http.StatusInternalServerError, err)
		return
	}

	resp := healthResponse{
		Version:       s.version,
		Uptime:        util.FormatUptime(time.Since(s.startTime)),
		Subscriptions: count,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode health response", "error", err)
	}
}
