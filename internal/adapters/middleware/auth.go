package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/domain"
)

const (
	apiKeyHeader     = "X-API-Key"
	apiKeyQueryParam = "x-api-key"
)

// APIKeyAuthMiddleware guards the server-to-server routes with
// auth.secret_token. Callers send it in X-API-Key or the x-api-key query
// parameter. Without a configured secret every request is refused.
func APIKeyAuthMiddleware(cfgProvider config.Provider, logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := cfgProvider.Get().Auth.SecretToken
			if secret == "" {
				logger.Error(r.Context(), "Internal route called but auth.secret_token is empty", "path", r.URL.Path)
				domain.NewErrorResponse(domain.ErrInternal, "Server configuration error", "").WriteJSON(w, http.StatusInternalServerError)
				return
			}

			key := presentedKey(r)
			switch {
			case key == "":
				logger.Warn(r.Context(), "Rejected internal request without API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				domain.NewErrorResponse(domain.ErrInvalidAPIKey, "API key is required", "Send it in the X-API-Key header.").WriteJSON(w, http.StatusUnauthorized)
			case subtle.ConstantTimeCompare([]byte(key), []byte(secret)) != 1:
				logger.Warn(r.Context(), "Rejected internal request with wrong API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				domain.NewErrorResponse(domain.ErrInvalidAPIKey, "Invalid API key", "").WriteJSON(w, http.StatusUnauthorized)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func presentedKey(r *http.Request) string {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key
	}
	return r.URL.Query().Get(apiKeyQueryParam)
}
