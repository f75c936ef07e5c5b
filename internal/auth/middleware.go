package auth

import "net/http"

// Verifier validates a bearer token. *Service satisfies it.
type Verifier interface {
	Verify(token string) (int64, bool)
}

// Middleware rejects requests without a valid admin bearer token.
func Middleware(verifier Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if _, ok := verifier.Verify(token); !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
