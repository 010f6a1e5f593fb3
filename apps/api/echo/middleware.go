package echoapi

import (
	mathrand "math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
	"github.com/trezcool/licita/core/licitacion"
)

// actorMiddleware resolves the caller's roles once per request.
// Callers holding no role of the licitaciones module are rejected.
func actorMiddleware(gate *access.Gate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			actor, err := gate.Resolve(ctx.Request().Context(), claims.Principal())
			if err != nil {
				return errors.Wrap(err, "resolving actor")
			}
			if !actor.HasAnyRole() {
				return access.ErrNoRoles
			}
			ctx.Set(contextActorKey, actor)
			return next(ctx)
		}
	}
}

// licitacionMiddleware loads the licitación of the `:id` path param into the context.
func licitacionMiddleware(svc *licitacion.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			id, ok := core.ParseUUID(ctx.Param("id"))
			if !ok {
				return errInvalidID
			}
			actor, err := getContextActor(ctx)
			if err != nil {
				return err
			}
			lic, err := svc.Get(ctx.Request().Context(), actor, id)
			if err != nil {
				return errors.Wrap(err, "getting licitacion")
			}
			ctx.Set(contextObjectKey, lic)
			return next(ctx)
		}
	}
}

// capabilityMiddleware checks the capability against the school of the licitación in context.
func capabilityMiddleware(c access.Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			actor, err := getContextActor(ctx)
			if err != nil {
				return err
			}
			lic, err := getContextLicitacion(ctx)
			if err != nil {
				return err
			}
			if err = actor.Authorize(c, lic.SchoolID); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter is a token bucket per client IP.
type rateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	visitors  map[string]*visitor
	lastPrune time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		ttl:       5 * time.Minute,
		visitors:  make(map[string]*visitor),
		lastPrune: time.Now(),
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastPrune) > rl.ttl {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lastPrune = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

// rateLimitMiddleware limits mutating requests per client IP. A zero rate disables it.
func rateLimitMiddleware(perSecond float64, burst int) echo.MiddlewareFunc {
	if perSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	rl := newRateLimiter(perSecond, burst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !rl.allow(ctx.RealIP()) {
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// newRequestID returns a lexicographically sortable request id.
func newRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

type metrics struct {
	registry *prometheus.Registry
	inFlight prometheus.Gauge
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	m.registry.MustRegister(
		m.inFlight, m.requests, m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// middleware records RPS, latency and in-flight requests per route.
// Errors are rendered here so that the recorded status is the one sent.
func (m *metrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		m.inFlight.Inc()
		defer m.inFlight.Dec()
		start := time.Now()

		if err := next(ctx); err != nil {
			ctx.Error(err)
		}

		path := ctx.Path()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(ctx.Response().Status)
		m.duration.WithLabelValues(ctx.Request().Method, path, status).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(ctx.Request().Method, path, status).Inc()
		return nil
	}
}
