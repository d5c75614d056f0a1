package overlay

import (
	"net/http"
	"runtime"
	"time"
)

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

type infoResponse struct {
	Version    string           `json:"version"`
	Revision   string           `json:"rev"`
	BuiltAt    string           `json:"built_at"`
	Go         string           `json:"go"`
	StartedAt  string           `json:"started_at"`
	QueueDepth int              `json:"queue_depth"`
	Clients    map[string]int   `json:"clients"`
	Transports map[string]int64 `json:"transports,omitempty"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	resp := infoResponse{
		Version:    s.opts.Build.Version,
		Revision:   s.opts.Build.Revision,
		Go:         runtime.Version(),
		StartedAt:  s.started.UTC().Format(time.RFC3339),
		QueueDepth: s.queue.Len(),
		Clients:    s.clientCounts(),
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp.BuiltAt = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	if s.opts.Handshakes != nil {
		snap := s.opts.Handshakes.Snapshot()
		resp.Transports = make(map[string]int64, len(snap))
		for p, ms := range snap {
			resp.Transports[p.Name()] = ms
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
