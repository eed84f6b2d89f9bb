package middleware

import (
	"net/http"

	"florahub-be/internal/auth"
)

// AuthMiddleware parses the access token when present and attaches the
// user to the request context. Missing or invalid tokens pass through
// unauthenticated; role checks happen at the route level.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := auth.ExtractAccessToken(r)
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := auth.ParseToken(secret, tokenStr)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := auth.SetUserContext(r.Context(), claims.UserID, claims.Email, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose context user does not hold one of
// the allowed roles. Admins pass every check.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := auth.GetUserFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if u.Role == auth.RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}

			for _, role := range roles {
				if u.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}
