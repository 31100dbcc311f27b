package websocket

import (
	"crypto/rsa"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xenn00/chat-presence/internal/utils"
)

func JWTWebSocketAuth(publicKey *rsa.PublicKey) AuthenticatorFunc {
	return func(r *http.Request) (string, error) {
		token := getTokenFromRequest(r)
		if token == "" {
			return "", &AuthError{Message: "missing token"}
		}

		claims, err := utils.ParseAndVerifySign(token, publicKey)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				// can't refresh inside a ws handshake, client must refresh
				// over HTTP and reconnect
				return "", &AuthError{Message: "token expired, please refresh and reconnect"}
			}
			return "", &AuthError{Message: "invalid token"}
		}

		return claims.Sub, nil
	}
}

func getTokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	cookie, err := r.Cookie("access_token")
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return ""
}
