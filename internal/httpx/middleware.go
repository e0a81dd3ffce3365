package httpx

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Chain wraps h with the middlewares, the first one outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originSet[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				JSONError(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// CallbackVerifier resolves a bearer callback token to the batch it is
// scoped to.
type CallbackVerifier interface {
	Verify(token string) (batchID string, err error)
}

// InternalAuthMiddleware guards endpoints called by executors. A request
// passes with the shared secret in X-Internal-Secret, or with a callback
// token whose batch scope is stored on the context. An empty secret with
// no verifier disables the check.
func InternalAuthMiddleware(secret string, tokens CallbackVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" && tokens == nil {
				next.ServeHTTP(w, r)
				return
			}
			if got := r.Header.Get("X-Internal-Secret"); secret != "" && got != "" &&
				subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && tokens != nil {
				if batchID, err := tokens.Verify(bearer); err == nil {
					next.ServeHTTP(w, r.WithContext(ContextWithCallbackBatch(r.Context(), batchID)))
					return
				}
			}
			JSONError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid internal credentials", nil)
		})
	}
}
