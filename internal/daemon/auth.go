package daemon

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"toolbox/internal/api"
)

// authMiddleware returns a middleware that validates bearer tokens.
// If neither token nor tokenHash is set, no authentication is required and all
// requests pass through. Otherwise requests must include
// "Authorization: Bearer <token>" matching the plain token or the bcrypt hash.
func authMiddleware(token, tokenHash string) (mux.MiddlewareFunc, error) {
	token = strings.TrimSpace(token)
	tokenHash = strings.TrimSpace(tokenHash)
	if token == "" && tokenHash == "" {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	if tokenHash != "" {
		if _, err := bcrypt.Cost([]byte(tokenHash)); err != nil {
			return nil, fmt.Errorf("api token hash: %w", err)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := bearerToken(r)
			if !ok || !tokenMatches(presented, token, tokenHash) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="toolbox"`)
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return presented, presented != ""
}

func tokenMatches(presented, token, tokenHash string) bool {
	if token != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
		return true
	}
	if tokenHash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(presented))
	return err == nil
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = writeJSONBody(w, api.ErrorResponse{Error: api.JobError{Kind: "unauthorized", Message: "missing or invalid bearer token"}})
}

// HashToken returns the bcrypt hash stored as paths.api_token_hash.
func HashToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}
