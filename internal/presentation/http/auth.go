package httppresentation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dominv "github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
)

var errUnauthorized = errors.New("missing or invalid bearer token")

// TenantClaims binds a bearer token to exactly one tenant.
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for tenantID.
func IssueToken(secret, tenantID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &TenantClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// TenantGuard authenticates bearer tokens. A nil guard lets every request through.
type TenantGuard struct {
	secret []byte
}

// NewTenantGuard returns nil when secret is empty, which disables the guard.
func NewTenantGuard(secret string) *TenantGuard {
	if secret == "" {
		return nil
	}
	return &TenantGuard{secret: []byte(secret)}
}

type tenantClaimKey struct{}

func (g *TenantGuard) Middleware(next http.Handler) http.Handler {
	if g == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := g.authenticate(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), tenantClaimKey{}, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *TenantGuard) authenticate(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errUnauthorized
	}
	token, err := jwt.ParseWithClaims(parts[1], &TenantClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errUnauthorized
	}
	claims, ok := token.Claims.(*TenantClaims)
	if !ok || claims.TenantID == "" {
		return "", errUnauthorized
	}
	return claims.TenantID, nil
}

// authorizeTenant fails when an authenticated token belongs to another tenant.
func authorizeTenant(ctx context.Context, tenantID string) error {
	claimed, ok := ctx.Value(tenantClaimKey{}).(string)
	if !ok {
		return nil
	}
	if claimed != tenantID {
		return fmt.Errorf("token of tenant %s used for tenant %s: %w", claimed, tenantID, dominv.ErrTenantScopeViolation)
	}
	return nil
}
