package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestJWTResolver(t *testing.T) {
	ctx := context.Background()
	resolver := NewJWTResolver("test-secret")

	token := signToken(t, "test-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	uid, err := resolver.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if uid != "user-1" {
		t.Fatalf("uid = %q, want user-1", uid)
	}
}

func TestJWTResolverLegacyClaim(t *testing.T) {
	resolver := NewJWTResolver("test-secret")
	token := signToken(t, "test-secret", jwt.MapClaims{
		"user_id": "user-2",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	uid, err := resolver.Resolve(context.Background(), token)
	if err != nil || uid != "user-2" {
		t.Fatalf("got (%q, %v), want (user-2, nil)", uid, err)
	}
}

func TestJWTResolverRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	resolver := NewJWTResolver("test-secret")

	if _, err := resolver.Resolve(ctx, "not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}

	wrongKey := signToken(t, "other-secret", jwt.MapClaims{"sub": "user-1"})
	if _, err := resolver.Resolve(ctx, wrongKey); err == nil {
		t.Fatal("expected error for wrong signing key")
	}

	noSubject := signToken(t, "test-secret", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if _, err := resolver.Resolve(ctx, noSubject); err == nil {
		t.Fatal("expected error for missing subject claim")
	}

	expired := signToken(t, "test-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := resolver.Resolve(ctx, expired); err == nil {
		t.Fatal("expected error for expired token")
	}
}
