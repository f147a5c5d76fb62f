package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCConfig configures bearer ID token verification
type OIDCConfig struct {
	IssuerURL   string
	ClientID    string
	UserIDClaim string
	RolesClaim  string
}

// ErrMissingUserID is returned when a verified token carries no usable user id
var ErrMissingUserID = errors.New("token has no numeric user id")

// TokenVerifier turns OpenID Connect ID tokens into identities
type TokenVerifier struct {
	verifier    *oidc.IDTokenVerifier
	userIDClaim string
	rolesClaim  string
}

// NewTokenVerifier discovers the issuer and builds a verifier for its tokens
func NewTokenVerifier(ctx context.Context, cfg OIDCConfig) (*TokenVerifier, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC issuer and client ID are required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return newTokenVerifier(provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}), cfg), nil
}

// NewStaticTokenVerifier verifies tokens against a fixed key set, without discovery
func NewStaticTokenVerifier(cfg OIDCConfig, keySet oidc.KeySet) *TokenVerifier {
	return newTokenVerifier(oidc.NewVerifier(cfg.IssuerURL, keySet, &oidc.Config{ClientID: cfg.ClientID}), cfg)
}

func newTokenVerifier(v *oidc.IDTokenVerifier, cfg OIDCConfig) *TokenVerifier {
	tv := &TokenVerifier{
		verifier:    v,
		userIDClaim: cfg.UserIDClaim,
		rolesClaim:  cfg.RolesClaim,
	}
	if tv.userIDClaim == "" {
		tv.userIDClaim = "user_id"
	}
	if tv.rolesClaim == "" {
		tv.rolesClaim = "roles"
	}
	return tv
}

// Verify checks the raw token and maps its claims to an Identity. The user id
// comes from the configured claim, falling back to a numeric subject.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := token.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("failed to parse claims: %w", err)
	}

	userID, ok := claimInt(claims, v.userIDClaim)
	if !ok {
		userID, ok = parseUserID(token.Subject)
	}
	if !ok {
		return Identity{}, ErrMissingUserID
	}

	id := Identity{
		UserID:      userID,
		Username:    claimString(claims, "preferred_username"),
		Email:       claimString(claims, "email"),
		DisplayName: claimString(claims, "name"),
		Roles:       claimRoles(claims, v.rolesClaim),
	}
	if id.Username == "" {
		id.Username = id.Email
	}
	return id, nil
}

func claimString(claims map[string]interface{}, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

func claimInt(claims map[string]interface{}, key string) (int64, bool) {
	switch v := claims[key].(type) {
	case float64:
		if v > 0 && v == float64(int64(v)) {
			return int64(v), true
		}
	case string:
		return parseUserID(v)
	}
	return 0, false
}

func claimRoles(claims map[string]interface{}, key string) []Role {
	switch v := claims[key].(type) {
	case string:
		return parseRoles(v)
	case []interface{}:
		var roles []Role
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				roles = append(roles, Role(strings.ToLower(strings.TrimSpace(s))))
			}
		}
		return roles
	}
	return nil
}

func parseUserID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
