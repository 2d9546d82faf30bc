package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stratos-brokerage/paycore/pkg/idempotency"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader carries the client-supplied command key.
const IdempotencyKeyHeader = "Idempotency-Key"

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (recorder *responseRecorder) WriteHeader(status int) {
	recorder.status = status
	recorder.ResponseWriter.WriteHeader(status)
}

func (recorder *responseRecorder) Write(data []byte) (int, error) {
	if recorder.status == 0 {
		recorder.status = http.StatusOK
	}
	recorder.body.Write(data)
	return recorder.ResponseWriter.Write(data)
}

// requestLogger logs every request with route, status and latency.
func (server *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		started := time.Now()
		recorder := &responseRecorder{ResponseWriter: writer}
		next.ServeHTTP(recorder, request)
		server.logger.Info("http request",
			zap.String("method", request.Method),
			zap.String("path", request.URL.Path),
			zap.Int("status", recorder.status),
			zap.Duration("elapsed", time.Since(started)),
		)
	})
}

// observeMetrics records request counters and latency per chi route pattern.
func (server *Server) observeMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if server.metrics == nil {
			next.ServeHTTP(writer, request)
			return
		}
		started := time.Now()
		recorder := &responseRecorder{ResponseWriter: writer}
		next.ServeHTTP(recorder, request)
		route := chi.RouteContext(request.Context()).RoutePattern()
		if route == "" {
			route = request.URL.Path
		}
		server.metrics.RequestsTotal.WithLabelValues(request.Method, route, fmt.Sprintf("%d", recorder.status)).Inc()
		server.metrics.RequestDuration.WithLabelValues(request.Method, route).Observe(time.Since(started).Seconds())
	})
}

// authenticate enforces a bearer token when a signing key is configured.
func (server *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if server.jwtSigningKey == "" {
			next.ServeHTTP(writer, request)
			return
		}
		header := request.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeErrorCode(writer, http.StatusUnauthorized, "missing_bearer_token")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(server.jwtSigningKey), nil
		})
		if err != nil || !parsed.Valid {
			writeErrorCode(writer, http.StatusUnauthorized, "invalid_bearer_token")
			return
		}
		next.ServeHTTP(writer, request)
	})
}

// idempotent wraps a command handler with the guard. First-seen keys run
// the handler and cache its final response; duplicates replay the cached
// response or report that the original is still in flight.
func (server *Server) idempotent(scope string, handler http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		key := strings.TrimSpace(request.Header.Get(IdempotencyKeyHeader))
		if key == "" {
			handler(writer, request)
			return
		}

		won, err := server.guard.Reserve(request.Context(), scope, key, server.idempotencyTTL)
		if err != nil {
			server.logger.Error("idempotency reserve failed", zap.String("scope", scope), zap.Error(err))
			writeErrorCode(writer, http.StatusInternalServerError, "idempotency_unavailable")
			return
		}
		if !won {
			server.countIdempotency(scope, "replay")
			stored, err := server.guard.GetStoredResponse(request.Context(), scope, key)
			switch {
			case err == nil:
				writer.Header().Set("Content-Type", "application/json")
				writer.Header().Set("Idempotent-Replay", "true")
				writer.WriteHeader(stored.Code)
				_, _ = writer.Write(stored.Body)
			case isStillProcessing(err):
				writeErrorCode(writer, http.StatusConflict, "still_processing")
			default:
				server.logger.Error("idempotency lookup failed", zap.String("scope", scope), zap.Error(err))
				writeErrorCode(writer, http.StatusInternalServerError, "idempotency_unavailable")
			}
			return
		}

		server.countIdempotency(scope, "first")
		recorder := &responseRecorder{ResponseWriter: writer}
		handler(recorder, request)
		if recorder.status >= http.StatusInternalServerError {
			// Timeouts and infrastructure failures are indeterminate, not
			// final. Release the reservation so a retry with the same key
			// re-executes the command instead of replaying the failure.
			if deleteErr := server.guard.DeleteKey(request.Context(), scope, key); deleteErr != nil {
				server.logger.Error("idempotency release failed", zap.String("scope", scope), zap.Error(deleteErr))
			}
			return
		}
		storeErr := server.guard.StoreResponse(request.Context(), scope, key, idempotency.StoredResponse{
			Code: recorder.status,
			Body: recorder.body.Bytes(),
		})
		if storeErr != nil {
			server.logger.Error("idempotency store response failed", zap.String("scope", scope), zap.Error(storeErr))
		}
	}
}

func (server *Server) countIdempotency(scope string, outcome string) {
	if server.metrics != nil {
		server.metrics.IdempotencyHits.WithLabelValues(scope, outcome).Inc()
	}
}

// A missing durable record behind a lost reservation race means the winner
// has not committed yet; both cases read as "try again shortly".
func isStillProcessing(err error) bool {
	return errors.Is(err, idempotency.ErrStillProcessing) || errors.Is(err, idempotency.ErrNotFound)
}
