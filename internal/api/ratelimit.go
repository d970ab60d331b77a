package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterIdleTTL is how long a client's bucket survives without requests.
	limiterIdleTTL = 10 * time.Minute

	// limiterSweepEvery is the number of requests between idle sweeps.
	limiterSweepEvery = 512

	secondsPerMinute = 60
)

// clientLimiter applies a token bucket per client address.
type clientLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu       sync.Mutex
	byClient map[string]*clientBucket
	hits     uint64
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newClientLimiter allows requestsPerMinute per client with a burst of a
// tenth of that. It returns nil when requestsPerMinute is not positive.
func newClientLimiter(requestsPerMinute int) *clientLimiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return &clientLimiter{
		limit:    rate.Limit(float64(requestsPerMinute) / secondsPerMinute),
		burst:    max(1, requestsPerMinute/10),
		idleTTL:  limiterIdleTTL,
		byClient: make(map[string]*clientBucket),
	}
}

// allow reports whether the client may proceed at now. When it may not,
// retryAfter is the wait until the next token.
func (l *clientLimiter) allow(client string, now time.Time) (ok bool, retryAfter time.Duration) {
	if l == nil || client == "" {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, found := l.byClient[client]
	if !found {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byClient[client] = b
	}
	b.lastSeen = now

	l.hits++
	if l.hits%limiterSweepEvery == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byClient {
			if v.lastSeen.Before(cutoff) {
				delete(l.byClient, k)
			}
		}
	}

	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

// rateLimitMiddleware rejects clients exceeding the configured request rate
// with 429 and a Retry-After header.
func (s *Server) rateLimitMiddleware(limiter *clientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := limiter.allow(clientAddr(r), time.Now())
			if !ok {
				s.metrics.observeRateLimited()
				seconds := int(math.Ceil(retryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(1, seconds)))
				writeError(w, http.StatusTooManyRequests, ErrCodeTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr returns the host part of the request's remote address.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
