package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/store"
)

type contextKey string

const principalKey contextKey = "graphix_api_principal"

// AuthMiddleware authenticates a request against the ApiToken entity
// (spec §3) via either a hashed X-API-Key header or a JWT bearer token whose
// claims carry the permission directly. Grounded on the teacher's
// webhooks.AuthMiddleware (API-key-or-JWT dual path), generalized from a
// looked-up userID to Graphix's single ApiToken principal: there's no
// separate user table, so a verified JWT's own "permission" claim stands in
// for the apiKeyLookup result.
type AuthMiddleware struct {
	jwtSecret []byte
	store     store.Store
}

func NewAuthMiddleware(jwtSecret string, st store.Store) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: []byte(jwtSecret), store: st}
}

func (a *AuthMiddleware) authenticate(r *http.Request) (*models.ApiToken, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		sum := sha256.Sum256([]byte(key))
		tok, err := a.store.LookupApiToken(r.Context(), hex.EncodeToString(sum[:]))
		if err != nil {
			return nil, fmt.Errorf("api key lookup failed: %w", err)
		}
		if tok == nil {
			return nil, fmt.Errorf("invalid api key")
		}
		return tok, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("missing Authorization header or X-API-Key")
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	parsed, err := jwtlib.Parse(tokenStr, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid jwt: %w", err)
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid jwt claims")
	}
	permission, _ := claims["permission"].(string)
	if permission != "read" && permission != "admin" {
		return nil, fmt.Errorf("jwt missing a valid permission claim")
	}
	sub, _ := claims["sub"].(string)
	return &models.ApiToken{PublicPrefix: sub, Permission: permission}, nil
}

// requirePermission wraps next so it only runs for a request whose
// authenticated token satisfies minPermission ("read" or "admin"; "admin"
// also satisfies "read").
func (a *AuthMiddleware) requirePermission(minPermission string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := a.authenticate(r)
		if err != nil {
			writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		if minPermission == "admin" && tok.Permission != "admin" {
			writeAPIError(w, http.StatusForbidden, "FORBIDDEN", "admin permission required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey, tok)))
	}
}

func principalFromContext(ctx context.Context) *models.ApiToken {
	tok, _ := ctx.Value(principalKey).(*models.ApiToken)
	return tok
}
