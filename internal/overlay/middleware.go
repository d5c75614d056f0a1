package overlay

import (
	"compress/gzip"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

/***************
 * Access log recorder
 ***************/

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w}
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Flush lets the SSE handler push frames through the recorder.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Bytes() int64 { return r.bytes }

/***************
 * Gzip wrapper
 ***************/

type gzipResponseWriter struct {
	http.ResponseWriter
	writer *gzip.Writer
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) {
	return g.writer.Write(b)
}

func (g *gzipResponseWriter) Flush() {
	_ = g.writer.Flush()
	if flusher, ok := g.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (g *gzipResponseWriter) Close() error {
	return g.writer.Close()
}

// baseWriter peels off the recorder. The WebSocket upgrade needs the
// http.Hijacker of the real writer.
func baseWriter(w http.ResponseWriter) http.ResponseWriter {
	if rr, ok := w.(*responseRecorder); ok && rr != nil && rr.ResponseWriter != nil {
		return rr.ResponseWriter
	}
	return w
}

// maybeGzip enables gzip when the client accepts it and the response is not a
// stream. It returns (nil, false) when gzip is not applied.
func maybeGzip(w http.ResponseWriter, r *http.Request) (*gzipResponseWriter, bool) {
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		return nil, false
	}
	if r.Header.Get("Upgrade") != "" {
		return nil, false
	}
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") || r.URL.Path == "/stream" {
		return nil, false
	}
	// promhttp negotiates its own compression.
	if r.URL.Path == "/metrics" {
		return nil, false
	}

	base := baseWriter(w)
	gz := gzip.NewWriter(base)
	grw := &gzipResponseWriter{ResponseWriter: base, writer: gz}

	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")

	// The recorder stays outermost for status and byte counting.
	if rr, ok := w.(*responseRecorder); ok {
		rr.ResponseWriter = grw
	}
	return grw, true
}

/***************
 * Per-IP rate limiting
 ***************/

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipRateLimiter struct {
	mu       sync.Mutex
	entries  map[string]*clientLimiter
	rate     rate.Limit
	burst    int
	lifetime time.Duration
}

func newIPRateLimiter(rps int, burst int) *ipRateLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &ipRateLimiter{
		entries:  make(map[string]*clientLimiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		lifetime: 5 * time.Minute,
	}
}

func (l *ipRateLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[ip]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[ip] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)

	if len(l.entries) > 1024 {
		l.cleanup(now)
	}
	return allowed
}

func (l *ipRateLimiter) cleanup(now time.Time) {
	expireBefore := now.Add(-l.lifetime)
	for ip, entry := range l.entries {
		if entry.lastSeen.Before(expireBefore) {
			delete(l.entries, ip)
		}
	}
}

func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if p := strings.TrimSpace(part); p != "" {
				return p
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

/***************
 * CORS policy
 ***************/

type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

func newCORSPolicy(origins []string) *corsPolicy {
	if len(origins) == 0 {
		return nil
	}
	policy := &corsPolicy{origins: make(map[string]struct{})}
	for _, origin := range origins {
		o := strings.TrimRight(strings.TrimSpace(origin), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			policy.allowAll = true
			policy.origins = nil
			break
		}
		policy.origins[o] = struct{}{}
	}
	return policy
}

func (c *corsPolicy) isAllowed(origin string) bool {
	if c == nil {
		return false
	}
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}
	if c.allowAll {
		return true
	}
	_, ok := c.origins[origin]
	return ok
}

// wsPatterns turns the allow-list into host patterns for the WebSocket
// origin check.
func (c *corsPolicy) wsPatterns() []string {
	if c == nil {
		return nil
	}
	if c.allowAll {
		return []string{"*"}
	}
	out := make([]string, 0, len(c.origins))
	for o := range c.origins {
		host := strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		out = append(out, host)
	}
	return out
}

// handlePreflight answers CORS OPTIONS requests. It returns (handled, status).
func (c *corsPolicy) handlePreflight(w http.ResponseWriter, r *http.Request) (bool, int) {
	if c == nil || r.Method != http.MethodOptions {
		return false, 0
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false, 0
	}
	if !c.isAllowed(origin) {
		w.WriteHeader(http.StatusForbidden)
		return true, http.StatusForbidden
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
	}
	w.Header().Set("Access-Control-Max-Age", "300")
	w.Header().Add("Vary", "Origin")
	w.WriteHeader(http.StatusNoContent)
	return true, http.StatusNoContent
}

// applyHeaders adds CORS headers to a regular request. It returns false when
// an Origin is present but not allowed.
func (c *corsPolicy) applyHeaders(w http.ResponseWriter, r *http.Request) bool {
	if c == nil {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if !c.isAllowed(origin) {
		return false
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	return true
}

/***************
 * Chain
 ***************/

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newResponseRecorder(w)

		defer func() {
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			dur := time.Since(start)
			s.metrics.ObserveRequest(route, r.Method, rec.Status(), dur)
			if s.opts.AccessLog {
				s.log.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", rec.Status()).
					Int64("bytes", rec.Bytes()).
					Dur("dur", dur).
					Str("ip", remoteIP(r)).
					Msg("overlay: request")
			}
		}()

		if handled, _ := s.cors.handlePreflight(rec, r); handled {
			return
		}
		if !s.cors.applyHeaders(rec, r) {
			http.Error(rec, "origin not allowed", http.StatusForbidden)
			return
		}
		if r.URL.Path != "/healthz" && !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(rec, "rate limited", http.StatusTooManyRequests)
			return
		}
		if gz, ok := maybeGzip(rec, r); ok {
			defer gz.Close()
		}
		next.ServeHTTP(rec, r)
	})
}
