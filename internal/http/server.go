package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"pocketwatch/internal/cache"
	"pocketwatch/internal/core"
	"pocketwatch/internal/log"
	"pocketwatch/internal/middleware/ratelimit"
	"pocketwatch/internal/middleware/security"
	"pocketwatch/internal/middleware/trace"
	"pocketwatch/internal/services"
	"pocketwatch/internal/storage"
)

// Options carries the collaborators and tuning the server needs. Store and
// the services are required. Publisher is optional: when nil, bank webhooks
// run their sync inline instead of enqueueing it.
type Options struct {
	Addr               string
	RateLimitPerMinute int

	Store     *storage.SQLiteRepository
	Accounts  *services.AccountService
	Engine    *services.Reconciler
	Budget    *services.BudgetService
	Messenger *services.Messenger
	Publisher services.SyncPublisher

	Logger *log.Logger
}

// appMetrics tracks application-level counters exposed on /metrics.
type appMetrics struct {
	totalSyncs    int64
	totalConfirms int64
	smsReplies    int64
	cacheHits     int64
	cacheMisses   int64
	uptime        time.Time
}

type Server struct {
	http.Server

	store     *storage.SQLiteRepository
	accounts  *services.AccountService
	engine    *services.Reconciler
	budget    *services.BudgetService
	messenger *services.Messenger
	publisher services.SyncPublisher

	logger           *log.Logger
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	headers          *security.HeadersMiddleware
	rateLimiter      *ratelimit.Limiter

	// Month overviews are the only read hot enough to cache; entries are
	// keyed "<userID>|<month>" and dropped whenever a confirm, budget write,
	// or account deletion touches the user.
	overviewCache *cache.LRUCache[core.BudgetOverview]
	cacheManager  *cache.Manager

	appMetrics   *appMetrics
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(opts Options) *Server {
	detector := security.NewDetector()

	s := &Server{
		store:     opts.Store,
		accounts:  opts.Accounts,
		engine:    opts.Engine,
		budget:    opts.Budget,
		messenger: opts.Messenger,
		publisher: opts.Publisher,

		logger:           opts.Logger.WithComponent(log.ComponentHTTP),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(detector.ExtractClientIP),
		headers:          security.NewHeadersMiddleware(security.DefaultHeadersConfig()),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RateLimitPerMinute,
		}),

		overviewCache: cache.NewLRUCache[core.BudgetOverview](100, 5*time.Minute),
		cacheManager:  cache.NewManager(opts.Logger.Logger),

		appMetrics: &appMetrics{uptime: time.Now()},
	}

	s.cacheManager.Register(s.overviewCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux := http.NewServeMux()
	s.routes(mux)

	s.Server = http.Server{
		Addr:    opts.Addr,
		Handler: s.withMiddleware(mux),
	}

	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)

	mux.HandleFunc("/api/link-token", s.handleLinkToken)
	mux.HandleFunc("/api/connect-bank", s.handleConnectBank)
	mux.HandleFunc("/api/users", s.handleDeleteUser)
	mux.HandleFunc("/api/budget", s.handleBudget)
	mux.HandleFunc("/api/pending", s.handleListPending)
	mux.HandleFunc("/api/confirm", s.handleConfirm)
	mux.HandleFunc("/api/sync", s.handleSync)
	mux.HandleFunc("/api/totals", s.handleTotals)
	mux.HandleFunc("/api/totals/export", s.handleTotalsExport)

	mux.HandleFunc("/webhooks/sms", s.handleSMSWebhook)
	mux.HandleFunc("/webhooks/bank", s.handleBankWebhook)
}

// withMiddleware builds the handler chain. Trace runs outermost so every
// later stage sees the request ID; rate limiting runs last and only for
// writes, so probes and metrics scrapes never burn the per-IP budget.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	h := s.gateWrites(next)
	h = s.flagSuspicious(h)
	h = s.headers.Middleware(h)
	h = log.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(h)
	h = log.Middleware(s.logger)(h)
	h = s.traceMiddleware.Middleware(h)
	return h
}

// gateWrites applies the rate limiter to mutating methods only.
func (s *Server) gateWrites(next http.Handler) http.Handler {
	limited := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, s.onRateLimited)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
			limited.ServeHTTP(w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	w.Header().Set("Retry-After", "60")
	writeErrorMessage(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later")
}

// flagSuspicious counts and logs scanner-looking requests without blocking
// them; blocking on heuristics would eventually eat a real webhook.
func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.securityDetector.DetectSuspiciousRequest(r) {
			s.logger.WarnContext(r.Context(), "Suspicious request detected",
				log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// invalidateOverviews drops every cached overview for one user after a write
// that changes what the overview would show.
func (s *Server) invalidateOverviews(userID int64) {
	s.overviewCache.DeletePrefix(overviewKeyPrefix(userID))
}
