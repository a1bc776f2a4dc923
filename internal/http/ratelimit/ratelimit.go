// Package ratelimit provides per-client-IP token bucket middleware for
// the API route group.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxClients bounds the tracked-address map so a scan across many
// source addresses cannot grow it without limit.
const maxClients = 10000

type client struct {
	limiter *rate.Limiter
	seen    time.Time
}

// IPRateLimiter hands out one token bucket per client IP. Addresses
// idle for twice the cleanup interval are dropped by a janitor
// goroutine started at construction.
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client

	rate    rate.Limit
	burst   int
	cleanup time.Duration
	proxies []*net.IPNet
}

// NewIPRateLimiter builds a limiter allowing r requests per second with
// the given burst per client IP. trustedProxies lists CIDR ranges or
// single IPs of reverse proxies whose forwarding headers are honored;
// an empty list trusts all proxies.
func NewIPRateLimiter(r rate.Limit, burst int, cleanup time.Duration, trustedProxies []string) *IPRateLimiter {
	l := &IPRateLimiter{
		clients: make(map[string]*client),
		rate:    r,
		burst:   burst,
		cleanup: cleanup,
		proxies: parseProxies(trustedProxies),
	}
	go l.janitor()
	return l
}

func parseProxies(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipnet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 128
		if ip.To4() != nil {
			bits = 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Middleware rejects requests exceeding the client's bucket with 429.
func (l *IPRateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(l.clientIP(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *IPRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		if len(l.clients) >= maxClients {
			l.evictOldest()
		}
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[ip] = c
	}
	c.seen = time.Now()
	return c.limiter.Allow()
}

// evictOldest is called with the lock held.
func (l *IPRateLimiter) evictOldest() {
	var oldest string
	var oldestSeen time.Time
	for ip, c := range l.clients {
		if oldest == "" || c.seen.Before(oldestSeen) {
			oldest, oldestSeen = ip, c.seen
		}
	}
	if oldest != "" {
		delete(l.clients, oldest)
	}
}

func (l *IPRateLimiter) janitor() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-2 * l.cleanup)
		l.mu.Lock()
		for ip, c := range l.clients {
			if c.seen.Before(cutoff) {
				delete(l.clients, ip)
			}
		}
		l.mu.Unlock()
	}
}

// clientIP resolves the address a request is limited under. Forwarding
// headers count only when the direct peer is a trusted proxy (or no
// proxy list was configured).
func (l *IPRateLimiter) clientIP(r *http.Request) string {
	remote := parseAddr(r.RemoteAddr)

	if len(l.proxies) > 0 && !l.trusted(remote) {
		return remote.String()
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}
	return remote.String()
}

func (l *IPRateLimiter) trusted(ip net.IP) bool {
	for _, ipnet := range l.proxies {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func parseAddr(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
