package controllers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tidalhq/tidal/internal/fault"
)

// Helper functions for common HTTP responses

// writeError maps a fault to its HTTP status and writes the error body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}
	if f, ok := fault.AsFault(err); ok {
		status = faultStatus(f.Kind)
		body["kind"] = string(f.Kind)
		if f.EarliestSeq > 0 {
			body["earliest_seq"] = f.EarliestSeq
		}
		if f.RetryAfter > 0 {
			secs := int(f.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func faultStatus(kind fault.Kind) int {
	switch kind {
	case fault.ValidationFailed:
		return http.StatusBadRequest
	case fault.Unauthorized:
		return http.StatusUnauthorized
	case fault.TenantSuspended:
		return http.StatusForbidden
	case fault.NotFound:
		return http.StatusNotFound
	case fault.CursorExpired:
		return http.StatusGone
	case fault.RateLimitExceeded, fault.QuotaExceeded:
		return http.StatusTooManyRequests
	case fault.CapacityExceeded:
		return http.StatusInsufficientStorage
	case fault.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeNoContent writes a 204 No Content response.
func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// encodeCursor renders an opaque cursor token for transport.
func encodeCursor(tok []byte) string {
	if len(tok) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(tok)
}

// decodeCursor parses a transport-encoded cursor token.
func decodeCursor(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	tok, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fault.New(fault.ValidationFailed, "malformed cursor encoding")
	}
	return tok, nil
}

// parseLimit parses a limit query value. Returns 0 for empty or invalid
// strings so the service default applies.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}
