// Package overlay serves the browser overlay: it streams shown notifications,
// TTS lines and effect triggers over SSE and WebSocket, and accepts operator
// announcements and webhook events.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/you/gnasty-alerts/internal/core"
	"github.com/you/gnasty-alerts/internal/effects"
	"github.com/you/gnasty-alerts/internal/goals"
	"github.com/you/gnasty-alerts/internal/metrics"
)

// Stream event names.
const (
	EventNotification = "notification"
	EventEffect       = "effect"
	EventTTS          = "tts"
)

const (
	transportSSE = "sse"
	transportWS  = "ws"

	clientBuffer      = 64
	pingInterval      = 20 * time.Second
	wsWriteTimeout    = 5 * time.Second
	defaultMaxBody    = 1 << 20
	readHeaderTimeout = 5 * time.Second
)

// Pipeline is the notification entry point the server feeds.
type Pipeline interface {
	HandleNotification(ctx context.Context, typ string, platform core.Platform, data core.EventData) core.Result
	Ingest(ctx context.Context, platform core.Platform, raw map[string]any) []core.Result
}

// Queue is the read side of the display queue.
type Queue interface {
	Len() int
	Snapshot() []core.QueueItem
}

// Handshakes records transport connection times.
type Handshakes interface {
	MarkConnected(p core.Platform) int64
	MarkConnectedAt(p core.Platform, ms int64)
	Snapshot() map[core.Platform]int64
}

// GoalReader lists donation-goal totals.
type GoalReader interface {
	Totals(ctx context.Context) ([]goals.Total, error)
}

type Options struct {
	Addr           string
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int
	MaxBodyBytes   int64
	AccessLog      bool
	Build          BuildInfo
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
	Handshakes     Handshakes
	Goals          GoalReader
}

// frame is one pre-encoded stream event.
type frame struct {
	event string
	data  []byte
}

type client struct {
	transport string
	ch        chan frame
}

type Server struct {
	httpServer *http.Server
	handler    http.Handler
	pipeline   Pipeline
	queue      Queue
	opts       Options
	log        zerolog.Logger
	metrics    *metrics.Metrics
	cors       *corsPolicy
	limiter    *ipRateLimiter
	started    time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func New(p Pipeline, q Queue, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	srv := &Server{
		pipeline: p,
		queue:    q,
		opts:     opts,
		log:      opts.Logger.With().Str("comp", "overlay").Logger(),
		metrics:  opts.Metrics,
		cors:     newCORSPolicy(opts.CORSOrigins),
		limiter:  newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		started:  time.Now(),
		clients:  make(map[*client]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /info", srv.handleInfo)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	mux.HandleFunc("GET /stream", srv.handleStream)
	mux.HandleFunc("GET /ws", srv.handleWS)
	mux.HandleFunc("GET /queue", srv.handleQueue)
	mux.HandleFunc("GET /goals", srv.handleGoals)
	mux.HandleFunc("POST /announce", srv.handleAnnounce)
	mux.HandleFunc("POST /ingest/{platform}", srv.handleIngest)
	mux.HandleFunc("POST /ingest/{platform}/handshake", srv.handleHandshake)

	srv.handler = srv.middleware(mux)
	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return srv
}

// Handler exposes the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Show implements queue.DisplaySink by broadcasting the item.
func (s *Server) Show(_ context.Context, item core.QueueItem) error {
	return s.Broadcast(EventNotification, item)
}

type effectEvent struct {
	Command        string `json:"command"`
	Scene          string `json:"scene,omitempty"`
	Source         string `json:"source,omitempty"`
	DurationMs     int64  `json:"durationMs,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
	Type           string `json:"type,omitempty"`
	Username       string `json:"username,omitempty"`
}

// TriggerVFX implements effects.Trigger for browser-source effects.
func (s *Server) TriggerVFX(ctx context.Context, cfg effects.VFXConfig, n *core.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev := effectEvent{
		Command:    cfg.Command,
		Scene:      cfg.Scene,
		Source:     cfg.Source,
		DurationMs: cfg.DurationMs,
	}
	if n != nil {
		ev.NotificationID = n.ID
		ev.Type = n.Type
		ev.Username = n.Username
	}
	return s.Broadcast(EventEffect, ev)
}

// SpeakTTS is an effects.SpeakFunc that hands the line to overlay clients.
func (s *Server) SpeakTTS(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Broadcast(EventTTS, map[string]string{"text": text})
}

// Broadcast encodes v once and offers it to every client without blocking.
// Clients whose buffer is full miss the event.
func (s *Server) Broadcast(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", core.ErrSinkFailure, event, err)
	}
	f := frame{event: event, data: data}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: overlay server closed", core.ErrSinkFailure)
	}
	for c := range s.clients {
		select {
		case c.ch <- f:
		default:
			s.metrics.IncBroadcastDrops(c.transport)
			s.log.Debug().Str("transport", c.transport).Str("event", event).Msg("overlay: slow client, event dropped")
		}
	}
	return nil
}

func (s *Server) register(transport string) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	c := &client{transport: transport, ch: make(chan frame, clientBuffer)}
	s.clients[c] = struct{}{}
	switch transport {
	case transportSSE:
		s.metrics.IncSSEClients(1)
	case transportWS:
		s.metrics.IncWSClients(1)
	}
	return c
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if !ok {
		return
	}
	switch c.transport {
	case transportSSE:
		s.metrics.IncSSEClients(-1)
	case transportWS:
		s.metrics.IncWSClients(-1)
	}
}

func (s *Server) clientCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{transportSSE: 0, transportWS: 0}
	for c := range s.clients {
		out[c.transport]++
	}
	return out
}

func (s *Server) delivered(f frame, transport string) {
	if f.event == EventNotification {
		s.metrics.Shown(transport)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	c := s.register(transportSSE)
	if c == nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.unregister(c)

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case f, ok := <-c.ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data)
			flusher.Flush()
			s.delivered(f, transportSSE)
		}
	}
}

// wsMessage is the WebSocket framing of a stream event.
type wsMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(baseWriter(w), r, &websocket.AcceptOptions{
		OriginPatterns: s.cors.wsPatterns(),
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("overlay: websocket accept failed")
		return
	}
	if rr, ok := w.(*responseRecorder); ok {
		rr.status = http.StatusSwitchingProtocols
	}

	c := s.register(transportWS)
	if c == nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.unregister(c)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case f, ok := <-c.ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			payload, err := json.Marshal(wsMessage{Event: f.event, Data: f.data})
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("overlay: websocket write failed")
				return
			}
			s.delivered(f, transportWS)
		}
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("overlay: listening")
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

// Shutdown closes every stream and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		close(c.ch)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
