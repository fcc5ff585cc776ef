package adminapi

import (
	"net/http"
	"strings"

	"clproxy/internal/utils"
)

// requireAuth validates the Bearer token on every request, rejecting with
// 401 if it's missing or invalid. There is no role system: a valid token
// means "the operator", full stop.
func requireAuth(secret []byte, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}
		if err := validateToken(tokenString, secret); err != nil {
			utils.RespondWithError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r)
	}
}
