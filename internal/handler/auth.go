package handler

import (
	"crypto/subtle"
	"log"
	"net/http"
)

// ReconcileSecretHeader carries the operator secret for batch reconciliation.
const ReconcileSecretHeader = "X-Reconcile-Secret"

// requireSecret rejects requests without the shared secret: 401 when the
// header is absent, 403 when it does not match.
func requireSecret(logger *log.Logger, header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if got == "" {
				writeError(w, logger, http.StatusUnauthorized, "Missing "+header+" header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				logger.Printf("Rejected %s %s from %s: bad secret", r.Method, r.URL.Path, r.RemoteAddr)
				writeError(w, logger, http.StatusForbidden, "Invalid "+header+" header")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
