package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"hyperregistry/pkg/logging"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the request id attached by the middleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestID honors an inbound X-Request-ID or mints one, and echoes it on
// the response.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades bypass the recorder; wrapping breaks Hijack.
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s.metrics.observe(r.Method, r.URL.Path, rec.status, elapsed)
		logging.Debug(subsystem, "%s %s -> %d in %s [request_id=%s]",
			r.Method, r.URL.Path, rec.status, elapsed, RequestID(r.Context()))
	})
}

// limiterPool hands out one token bucket per client host.
type limiterPool struct {
	perSecond rate.Limit
	burst     int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newLimiterPool(perSecond float64, burst int) *limiterPool {
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return &limiterPool{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		clients:   make(map[string]*rate.Limiter),
	}
}

func (p *limiterPool) get(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Bound the map against address churn.
	if len(p.clients) > 10000 {
		p.clients = make(map[string]*rate.Limiter)
	}
	lim, ok := p.clients[host]
	if !ok {
		lim = rate.NewLimiter(p.perSecond, p.burst)
		p.clients[host] = lim
	}
	return lim
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		lim := s.limits.get(host)
		if !lim.Allow() {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeErrorCode(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
