package tokens

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/seatworks/seatidp/pkg/models"
)

type contextKey string

const accessTokenKey contextKey = "access_token"

// AccessTokenFrom returns the validated access token attached by Guard, or
// nil when the request was not bearer-authenticated.
func AccessTokenFrom(ctx context.Context) *models.AccessToken {
	token, _ := ctx.Value(accessTokenKey).(*models.AccessToken)
	return token
}

// Guard is middleware protecting resource endpoints with bearer access
// tokens. Any failure — missing header, bad signature, expired, revoked —
// yields 401 with a WWW-Authenticate challenge (RFC 6750 Section 3) and no
// detail about which check failed.
func (i *Issuer) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			unauthorized(w)
			return
		}

		access, err := i.ValidateAccess(r.Context(), raw)
		if err != nil {
			unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), accessTokenKey, access)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="seatidp", error="access_denied"`)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             "access_denied",
		"error_description": "missing or invalid bearer token",
	})
}
