// Package identity resolves bearer credentials to user identities.
package identity

import "context"

// Resolver turns a bearer token into a user id. Implementations decide how:
// the JWT resolver verifies against the identity provider's signing secret,
// the static resolver returns a fixed identity for tests.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Static is a fixed-identity resolver used in tests instead of a runtime
// bypass flag.
type Static struct {
	UserID string
	Err    error
}

func (s Static) Resolve(_ context.Context, _ string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.UserID, nil
}
