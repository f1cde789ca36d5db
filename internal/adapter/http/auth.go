package http

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bnema/altq/internal/adapter/http/ratelimit"
	"github.com/bnema/altq/internal/infrastructure/logger"
)

// TokenAuth checks a bearer token against a bcrypt hash. Clients that fail
// too often are locked out by the limiter.
type TokenAuth struct {
	hash    []byte
	limiter *ratelimit.AuthFailureLimiter
}

func NewTokenAuth(hash string, limiter *ratelimit.AuthFailureLimiter) (*TokenAuth, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid admin token hash: %w", err)
	}
	return &TokenAuth{hash: []byte(hash), limiter: limiter}, nil
}

// HashToken returns the bcrypt hash to configure for token.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r)

		if a.limiter != nil {
			if blocked, wait := a.limiter.Blocked(client); blocked {
				w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)+1))
				writeErr(w, http.StatusTooManyRequests, "too many failed attempts")
				return
			}
		}

		token, ok := bearerToken(r)
		if !ok || bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
			logger.Warn.Printf("rejected api request from %s", logger.SanitizeForLog(client))
			if a.limiter != nil {
				if block := a.limiter.RecordFailure(client); block > 0 {
					logger.Warn.Printf("client %s blocked for %s", logger.SanitizeForLog(client), block)
				}
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="altq"`)
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// clientID is the remote host. Behind a proxy the RealIP middleware has
// already rewritten RemoteAddr.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
