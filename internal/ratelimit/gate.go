package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Bucket is one named rate-limit classification. Buckets with a Method/Path
// pair apply only to matching requests; the general bucket applies to all.
type Bucket struct {
	Name    string
	Method  string
	Path    string
	Limit   int
	Window  time.Duration
	Message string
}

// Gate classifies inbound requests into buckets and rejects over-limit traffic
// before any handler runs. A request that matches a specific bucket is charged
// against both that bucket and the general one; the specific limits are
// stricter subsets of the overall traffic budget.
type Gate struct {
	limiter *Limiter
	buckets []Bucket
	general Bucket
	stopC   chan struct{}
}

type rateLimitResponse struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewGate(buckets []Bucket, general Bucket) *Gate {
	g := &Gate{
		limiter: NewLimiter(),
		buckets: buckets,
		general: general,
		stopC:   make(chan struct{}),
	}
	go g.pruneLoop()
	return g
}

func (g *Gate) pruneLoop() {
	maxIdle := g.general.Window * 2
	for _, b := range g.buckets {
		if b.Window*2 > maxIdle {
			maxIdle = b.Window * 2
		}
	}

	ticker := time.NewTicker(maxIdle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.limiter.PruneIdle(maxIdle)
		case <-g.stopC:
			return
		}
	}
}

func (g *Gate) Stop() {
	close(g.stopC)
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		ip := ClientIP(r)

		for _, b := range g.buckets {
			if r.Method != b.Method || r.URL.Path != b.Path {
				continue
			}
			if ok, retryAfter := g.limiter.Allow(b.Name+":"+ip, b.Limit, b.Window); !ok {
				rejectRateLimited(w, b.Message, retryAfter)
				return
			}
		}

		if ok, retryAfter := g.limiter.Allow(g.general.Name+":"+ip, g.general.Limit, g.general.Window); !ok {
			rejectRateLimited(w, g.general.Message, retryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func rejectRateLimited(w http.ResponseWriter, message string, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rateLimitResponse{
		Status:  http.StatusTooManyRequests,
		Error:   "Too Many Requests",
		Message: message,
	})
}

// ClientIP resolves the caller identity used as the rate-limit key.
func ClientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	if xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); xRealIP != "" {
		return xRealIP
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
