package main

import (
	"net/http"
	"strings"

	"github.com/agendaciudadana/citas/internal/handlers"
	"github.com/agendaciudadana/citas/libs/auth"
)

// requireAuth verifies the Bearer token and stores the caller's opaque user id
// on the request context. Token issuance lives in the identity provider; this
// service only verifies (HS256 shared secret, or RS256 via JWKS when
// configured).
func requireAuth(next http.Handler, jwtSecret string, jwksClient *auth.JWKSClient) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		var claims *auth.Claims
		var err error

		if jwksClient != nil {
			header, hErr := auth.ParseHeader(token)
			if hErr != nil {
				http.Error(w, "invalid token header", http.StatusUnauthorized)
				return
			}
			if header.Alg == "RS256" && header.Kid != "" {
				pub, kErr := jwksClient.Get(header.Kid)
				if kErr != nil {
					http.Error(w, "invalid token key", http.StatusUnauthorized)
					return
				}
				claims, err = auth.VerifyRS256(token, pub)
			} else {
				claims, err = auth.ParseAndVerifyHS256(token, jwtSecret)
			}
		} else {
			claims, err = auth.ParseAndVerifyHS256(token, jwtSecret)
		}
		if err != nil || claims.Sub == "" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := handlers.ContextWithUserID(r.Context(), claims.Sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
