package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/tessfa-ye/callcenter-livechat/internal/config"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// Claims is the identity carried by every authenticated request
type Claims struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

type contextKey string

const userContextKey contextKey = "user"

// ClaimsFrom returns the authenticated claims stored on the request context
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(userContextKey).(*Claims)
	return claims, ok
}

// Verifier validates bearer tokens. In secret mode tokens are HS256-signed
// with a shared secret; in oidc mode signatures are checked against the
// provider's JWKS.
type Verifier struct {
	mode    string
	secret  []byte
	keyfunc jwt.Keyfunc
	logger  zerolog.Logger
}

// NewVerifier builds a token verifier from the auth config. In oidc mode it
// fetches the provider's JWKS once at startup; keyfunc refreshes it in the
// background after that.
func NewVerifier(cfg *config.Config, logger zerolog.Logger) (*Verifier, error) {
	v := &Verifier{
		mode:   cfg.AuthMode,
		logger: logger.With().Str("component", "auth").Logger(),
	}

	switch cfg.AuthMode {
	case "secret":
		v.secret = []byte(cfg.JWTSecret)
		v.keyfunc = func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.secret, nil
		}

	case "oidc":
		jwksURL := strings.TrimSuffix(cfg.OIDCIssuer, "/") + "/protocol/openid-connect/certs"
		v.logger.Info().Str("url", jwksURL).Msg("fetching JWKS")
		k, err := keyfunc.NewDefault([]string{jwksURL})
		if err != nil {
			return nil, fmt.Errorf("failed to create keyfunc: %w", err)
		}
		v.keyfunc = k.Keyfunc

	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.AuthMode)
	}

	return v, nil
}

// Verify parses and validates a token string
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc)
	if err != nil {
		return nil, &types.AuthenticationError{Reason: err.Error()}
	}
	if !token.Valid {
		return nil, &types.AuthenticationError{Reason: "invalid token"}
	}

	if claims.AgentID == "" {
		// Fall back to the subject so plain OIDC tokens still map to an agent
		claims.AgentID = claims.Subject
	}
	if claims.AgentID == "" {
		return nil, &types.AuthenticationError{Reason: "token carries no agent identity"}
	}
	return claims, nil
}

// Authenticate resolves the claims for a request without writing a response.
// Used by the channel handler, which needs to refuse the upgrade itself.
func (v *Verifier) Authenticate(r *http.Request) (*Claims, error) {
	tokenString := extractToken(r)
	if tokenString == "" {
		return nil, &types.AuthenticationError{Reason: "missing token"}
	}
	return v.Verify(tokenString)
}

// Middleware rejects unauthenticated requests and stores the claims on the
// request context
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := v.Authenticate(r)
		if err != nil {
			v.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken gets the token from the Authorization header or, for channel
// upgrades where headers cannot be set, the token query parameter
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			return tokenString
		}
	}

	return r.URL.Query().Get("token")
}
