package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stratos-brokerage/paycore/pkg/idempotency"
	"github.com/stratos-brokerage/paycore/pkg/ledger"
	"github.com/stratos-brokerage/paycore/pkg/payment"
	"go.uber.org/zap"
)

// Idempotency scopes, one per command type.
const (
	ScopeInitialize = "payment.initialize"
	ScopeAuthorize  = "payment.authorize"
	ScopeCapture    = "payment.capture"
	ScopeRefund     = "payment.refund"

	defaultIdempotencyTTL = 24 * time.Hour
)

// Server exposes the payment and ledger services over HTTP.
type Server struct {
	payments       *payment.Service
	ledger         *ledger.Service
	guard          *idempotency.Guard
	logger         *zap.Logger
	metrics        *Metrics
	jwtSigningKey  string
	idempotencyTTL time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics wires Prometheus collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(server *Server) {
		server.metrics = metrics
	}
}

// WithJWTSigningKey enables bearer-token authentication.
func WithJWTSigningKey(key string) Option {
	return func(server *Server) {
		server.jwtSigningKey = key
	}
}

// WithIdempotencyTTL overrides the reservation window.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(server *Server) {
		if ttl > 0 {
			server.idempotencyTTL = ttl
		}
	}
}

// NewServer wires a Server.
func NewServer(payments *payment.Service, ledgerService *ledger.Service, guard *idempotency.Guard, logger *zap.Logger, options ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		payments:       payments,
		ledger:         ledgerService,
		guard:          guard,
		logger:         logger,
		idempotencyTTL: defaultIdempotencyTTL,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	return server
}

// Router builds the chi routing tree.
func (server *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(server.requestLogger)
	router.Use(server.observeMetrics)

	router.Get("/healthz", server.handleHealthz)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/v1", func(v1 chi.Router) {
		v1.Use(server.authenticate)
		v1.Post("/payments", server.idempotent(ScopeInitialize, server.handleInitialize))
		v1.Post("/payments/{paymentID}/authorize", server.idempotent(ScopeAuthorize, server.handleAuthorize))
		v1.Post("/payments/{paymentID}/capture", server.idempotent(ScopeCapture, server.handleCapture))
		v1.Post("/payments/{paymentID}/refund", server.idempotent(ScopeRefund, server.handleRefund))
		v1.Get("/payments/{paymentID}", server.handleGetPayment)
		v1.Get("/payments/{paymentID}/events", server.handleListEvents)
		v1.Get("/balances/{entityType}/{entityID}", server.handleGetBalance)
	})
	return router
}
