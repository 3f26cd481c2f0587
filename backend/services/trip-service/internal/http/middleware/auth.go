package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const customerIDKey contextKey = "customerID"

// AuthMiddleware validates HS256 bearer tokens and extracts the customer id.
// Browsers cannot set headers on a websocket upgrade, so an access_token query
// parameter is accepted on upgrade requests.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := bearerToken(r)
			if !ok {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenInvalidClaims
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			customerID, err := extractCustomerID(claims)
			if err != nil {
				http.Error(w, "customer id not found", http.StatusUnauthorized)
				return
			}

			ctx := WithCustomerID(r.Context(), customerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			if tok := r.URL.Query().Get("access_token"); tok != "" {
				return tok, true
			}
		}
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

func extractCustomerID(claims jwt.MapClaims) (string, error) {
	for _, key := range []string{"customer_id", "sub"} {
		switch v := claims[key].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatInt(int64(v), 10), nil
		}
	}
	return "", fmt.Errorf("customer_id not present")
}

// WithCustomerID stores the customer id on ctx.
func WithCustomerID(ctx context.Context, customerID string) context.Context {
	return context.WithValue(ctx, customerIDKey, customerID)
}

// CustomerIDFromContext retrieves the customer id from request context.
func CustomerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(customerIDKey).(string)
	return id, ok && id != ""
}
