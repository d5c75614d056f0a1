package overlay

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/you/gnasty-alerts/internal/core"
)

const announceUser = "operator"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	items := s.queue.Snapshot()
	if items == nil {
		items = []core.QueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"depth": len(items), "items": items})
}

type goalResponse struct {
	Currency      string  `json:"currency"`
	Total         float64 `json:"total"`
	Target        float64 `json:"target,omitempty"`
	Progress      float64 `json:"progress"`
	Contributions int64   `json:"contributions"`
	UpdatedAt     string  `json:"updatedAt"`
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	if s.opts.Goals == nil {
		http.Error(w, "goals disabled", http.StatusNotFound)
		return
	}
	totals, err := s.opts.Goals.Totals(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("overlay: list goals")
		http.Error(w, "goals error", http.StatusInternalServerError)
		return
	}
	out := make([]goalResponse, 0, len(totals))
	for _, t := range totals {
		out = append(out, goalResponse{
			Currency:      t.Currency,
			Total:         t.Total,
			Target:        t.Target,
			Progress:      t.Progress(),
			Contributions: t.Contributions,
			UpdatedAt:     t.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type announceRequest struct {
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
	Platform string `json:"platform,omitempty"`
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid announcement: "+err.Error(), http.StatusBadRequest)
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	platform := core.PlatformTwitch
	if req.Platform != "" {
		p, ok := core.ParsePlatform(req.Platform)
		if !ok {
			http.Error(w, "unknown platform", http.StatusBadRequest)
			return
		}
		platform = p
	}
	user := strings.TrimSpace(req.Username)
	if user == "" {
		user = announceUser
	}

	res := s.pipeline.HandleNotification(r.Context(), core.TypeFor(core.KindEnvelope), platform, core.EventData{
		Username: user,
		Message:  msg,
	})
	writeJSON(w, statusFor(res), res)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	platform, ok := core.ParsePlatform(r.PathValue("platform"))
	if !ok {
		http.Error(w, "unknown platform", http.StatusNotFound)
		return
	}
	events, err := decodeEvents(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	results := make([]core.Result, 0, len(events))
	for _, raw := range events {
		results = append(results, s.pipeline.Ingest(r.Context(), platform, raw)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// decodeEvents accepts one JSON object or an array of objects. Numbers stay
// json.Number so 64-bit platform IDs survive.
func decodeEvents(r io.Reader) ([]map[string]any, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if body[0] == '[' {
		var many []map[string]any
		if err := dec.Decode(&many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one map[string]any
	if err := dec.Decode(&one); err != nil {
		return nil, err
	}
	return []map[string]any{one}, nil
}

type handshakeRequest struct {
	At int64 `json:"at"`
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	if s.opts.Handshakes == nil {
		http.Error(w, "handshakes disabled", http.StatusNotFound)
		return
	}
	platform, ok := core.ParsePlatform(r.PathValue("platform"))
	if !ok {
		http.Error(w, "unknown platform", http.StatusNotFound)
		return
	}
	var req handshakeRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		http.Error(w, "invalid handshake", http.StatusBadRequest)
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid handshake: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	at := req.At
	if at > 0 {
		s.opts.Handshakes.MarkConnectedAt(platform, at)
	} else {
		at = s.opts.Handshakes.MarkConnected(platform)
	}
	s.log.Info().Str("platform", platform.Name()).Int64("connected_at", at).Msg("overlay: transport connected")
	writeJSON(w, http.StatusOK, map[string]any{"platform": platform, "connectedAt": at})
}

// statusFor maps a pipeline result onto an HTTP status.
func statusFor(res core.Result) int {
	if res.Success {
		if res.Suppressed {
			return http.StatusOK
		}
		return http.StatusAccepted
	}
	switch res.Reason {
	case core.ErrInvalidAmount.Error():
		return http.StatusBadRequest
	case core.ErrConfigMissing.Error(), core.ErrSinkFailure.Error():
		return http.StatusServiceUnavailable
	case core.ErrCancelled.Error():
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}
