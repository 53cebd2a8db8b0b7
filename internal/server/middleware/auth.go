package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AppClaims defines our custom JWT claims structure. Subject carries the
// user id; Name is the display identity shown in presence lists.
type AppClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware attaches identity to the request metadata when a valid
// token is presented. A request with no token proceeds as anonymous:
// public boards are viewable without an account, so the door stays open
// and presence registration is simply skipped downstream. An invalid or
// expired token is still rejected.
func NewAuthMiddleware(logger *slog.Logger, jwtSecret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := tokenFromRequest(r)
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Parse and validate the JWT token with HMAC signing
			token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Warn("Invalid JWT token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(*AppClaims)
			if !ok || claims.Subject == "" {
				logger.Warn("Valid token missing 'sub' claim", slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = claims.Subject
			reqMeta.Username = claims.Name
			if reqMeta.Username == "" {
				reqMeta.Username = claims.Subject
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tokenFromRequest checks the session cookie first, then the
// Authorization header.
func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie("session-token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
