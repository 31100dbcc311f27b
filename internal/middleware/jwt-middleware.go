package middleware

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	app_error "github.com/xenn00/chat-presence/internal/errors"
	"github.com/xenn00/chat-presence/internal/utils"
)

type claimsKey string

const UserClaimsKey claimsKey = "userClaims"

func JWTAuth(publicKey *rsa.PublicKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAppError(w, app_error.NewAppError(http.StatusUnauthorized, "Missing Authorization header", "auth"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeAppError(w, app_error.NewAppError(http.StatusUnauthorized, "Invalid Authorization header format", "auth"))
				return
			}

			tokenStr := parts[1]

			claims, err := utils.ParseAndVerifySign(tokenStr, publicKey)
			if err != nil {
				log.Error().Err(err).Msg("jwt verify failed")
				writeAppError(w, app_error.NewAppError(http.StatusUnauthorized, "Invalid or expired token", "auth"))
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext pulls the authenticated subject out of the request
// context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*utils.Claims)
	if !ok || claims.Sub == "" {
		return "", false
	}
	return claims.Sub, true
}

func writeAppError(w http.ResponseWriter, appErr *app_error.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Code)
	_ = appErr.JSON(w)
}
