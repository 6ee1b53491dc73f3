package api

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/metrics"
)

const maxAuditBodyBytes = 1024 // 1KB summary limit

// generateRequestID creates a short random request ID for audit correlation.
func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// AuditMiddleware logs all mutating (POST/DELETE) requests for
// operational audit trails and records per-path request metrics.
func AuditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	auditLogger := logger.With("component", "api_audit")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			next.ServeHTTP(sw, r)
			metrics.HTTPRequests.WithLabelValues(r.URL.Path, httpStatusLabel(sw.statusCode)).Inc()
			return
		}

		start := time.Now()
		requestID := generateRequestID()
		actor := r.Header.Get("X-User-ID")

		// Capture the body for the audit line. Only the logged summary
		// is truncated; the handler sees the full body, with anything
		// past the request cap left on the original reader so the
		// handler's MaxBytesReader still enforces its own limit.
		var bodySummary string
		if r.Body != nil {
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
			if err == nil {
				if len(bodyBytes) > maxAuditBodyBytes {
					bodySummary = string(bodyBytes[:maxAuditBodyBytes]) + "...(truncated)"
				} else {
					bodySummary = string(bodyBytes)
				}
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(bodyBytes), r.Body))
			}
		}

		next.ServeHTTP(sw, r)
		metrics.HTTPRequests.WithLabelValues(r.URL.Path, httpStatusLabel(sw.statusCode)).Inc()

		auditLogger.Info("API audit",
			"request_id", requestID,
			"timestamp", start.UTC().Format(time.RFC3339),
			"actor", actor,
			"remote_addr", r.RemoteAddr,
			"method", r.Method,
			"path", r.URL.Path,
			"body_summary", bodySummary,
			"response_status", sw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func httpStatusLabel(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}
