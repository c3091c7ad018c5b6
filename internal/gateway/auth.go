package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AuthResult is the outcome of checking a request's credentials.
type AuthResult struct {
	OK     bool
	Reason string
}

// AuthorizeBearer checks the Authorization header against token. An empty
// token disables the protected endpoint entirely.
func AuthorizeBearer(token string, r *http.Request) AuthResult {
	if token == "" {
		return AuthResult{Reason: "gateway token not configured"}
	}
	header := r.Header.Get("Authorization")
	scheme, given, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || given == "" {
		return AuthResult{Reason: "bearer token required"}
	}
	if !safeEqual(strings.TrimSpace(given), token) {
		return AuthResult{Reason: "token_mismatch"}
	}
	return AuthResult{OK: true}
}

// safeEqual compares in constant time without leaking the secret's length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

const (
	// Ten failed attempts per five minutes, refilled gradually.
	authFailureBurst = 10
	authFailureRate  = float64(authFailureBurst) / (5 * 60)

	limiterIdle   = 10 * time.Minute
	limiterMaxIPs = 10000
)

// ipLimiter keeps one token bucket per client host.
type ipLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// newIPLimiter returns nil for a non-positive rate, which allows everything.
func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

func (l *ipLimiter) get(remoteAddr string) *rate.Limiter {
	host := clientHost(remoteAddr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[host]
	if !ok {
		if len(l.buckets) >= limiterMaxIPs {
			l.evict(now)
		}
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[host] = b
	}
	b.seen = now
	return b.lim
}

// evict drops idle buckets, or the least recently seen one if none are idle.
func (l *ipLimiter) evict(now time.Time) {
	var oldest string
	for host, b := range l.buckets {
		if now.Sub(b.seen) > limiterIdle {
			delete(l.buckets, host)
			continue
		}
		if oldest == "" || b.seen.Before(l.buckets[oldest].seen) {
			oldest = host
		}
	}
	if len(l.buckets) >= limiterMaxIPs && oldest != "" {
		delete(l.buckets, oldest)
	}
}

// Allow spends a token for remoteAddr.
func (l *ipLimiter) Allow(remoteAddr string) bool {
	if l == nil {
		return true
	}
	return l.get(remoteAddr).AllowN(l.now(), 1)
}

// Blocked reports whether remoteAddr has no tokens left, without spending one.
func (l *ipLimiter) Blocked(remoteAddr string) bool {
	if l == nil {
		return false
	}
	return l.get(remoteAddr).TokensAt(l.now()) < 1
}
