package server

import (
	"net/http"
	"time"

	"github.com/conneroisu/ssrdev/internal/recompile"
)

// HealthResponse is served at the health endpoint.
type HealthResponse struct {
	Status        string    `json:"status"`
	Ready         bool      `json:"ready"`
	Pass          uint64    `json:"pass,omitempty"`
	Identity      string    `json:"identity,omitempty"`
	PublishedAt   time.Time `json:"published_at,omitempty"`
	LastResult    string    `json:"last_result,omitempty"`
	Errors        int       `json:"errors"`
	Warnings      int       `json:"warnings"`
	ReloadClients int       `json:"reload_clients"`
	Uptime        string    `json:"uptime"`
}

// StatusResponse is served at the status endpoint.
type StatusResponse struct {
	Ready    bool                  `json:"ready"`
	Serving  uint64                `json:"serving_pass,omitempty"`
	LastPass *recompile.PassStatus `json:"last_pass,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "starting",
		ReloadClients: s.hub.ClientCount(),
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
	}
	if h := s.manager.Current(); h != nil {
		resp.Status = "ok"
		resp.Ready = true
		resp.Pass = h.Pass
		resp.Identity = h.Identity
		resp.PublishedAt = h.PublishedAt
	}
	if last := s.manager.LastPass(); last != nil {
		resp.LastResult = last.Result
		resp.Errors = len(last.Errors)
		resp.Warnings = len(last.Warnings)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{LastPass: s.manager.LastPass()}
	if h := s.manager.Current(); h != nil {
		resp.Ready = true
		resp.Serving = h.Pass
	}
	writeJSON(w, http.StatusOK, resp)
}
