package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errNoIdentity = errors.New("no identity")

// Identity resolves the tenant for every request. With a secret it requires an
// HS256 bearer token whose subject is the tenant id. Without one it trusts the
// given header, which an upstream proxy is expected to set.
func Identity(secret []byte, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				tenant string
				err    error
			)
			if len(secret) > 0 {
				tenant, err = tenantFromToken(r, secret)
			} else {
				tenant = strings.TrimSpace(r.Header.Get(header))
				if tenant == "" {
					err = errNoIdentity
				}
			}

			ctx := r.Context()
			if err != nil {
				slog.WarnContext(ctx, "unauthenticated request", "path", r.URL.Path, "error", err) // #nosec G706
				WriteError(ctx, w, "UNAUTHORIZED", "missing or invalid identity", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenantID(ctx, tenant)))
		})
	}
}

func tenantFromToken(r *http.Request, secret []byte) (string, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return "", errNoIdentity
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errNoIdentity
	}
	return claims.Subject, nil
}
