package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware authenticates HTTP requests and injects the workspace context.
type Middleware struct {
	verifier *JWTVerifier
	service  *Service
	logger   *zap.Logger
}

func NewMiddleware(verifier *JWTVerifier, service *Service, logger *zap.Logger) *Middleware {
	return &Middleware{verifier: verifier, service: service, logger: logger}
}

// Handler wraps next with bearer/API-key authentication. SSE endpoints also
// accept api_key as a query parameter because EventSource cannot set headers.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			token, err := ExtractBearerToken(authHeader)
			if err != nil {
				unauthorized(w, "invalid authorization header")
				return
			}
			uc, err := m.verifier.Verify(token)
			if err != nil {
				m.logger.Debug("Bearer token rejected", zap.Error(err))
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), uc)))
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" && strings.Contains(r.URL.Path, "/stream") {
			apiKey = r.URL.Query().Get("api_key")
		}
		if apiKey != "" && m.service != nil {
			uc, err := m.service.ValidateAPIKey(r.Context(), apiKey)
			if err != nil {
				unauthorized(w, "invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), uc)))
			return
		}

		unauthorized(w, "authentication required")
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
