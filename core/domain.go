package core

import (
	"fmt"
	"strings"
	"time"
)

type AuthScheme string

const (
	AuthSchemeAPIKey        AuthScheme = "api_key"
	AuthSchemeBasic         AuthScheme = "basic"
	AuthSchemeOAuth2        AuthScheme = "oauth2"
	AuthSchemeVendorSession AuthScheme = "vendor_session"
)

// AuthSchemes lists the closed set of supported schemes.
func AuthSchemes() []AuthScheme {
	return []AuthScheme{
		AuthSchemeAPIKey,
		AuthSchemeBasic,
		AuthSchemeOAuth2,
		AuthSchemeVendorSession,
	}
}

func ParseAuthScheme(value string) (AuthScheme, error) {
	normalized := AuthScheme(strings.TrimSpace(strings.ToLower(value)))
	switch normalized {
	case AuthSchemeAPIKey, AuthSchemeBasic, AuthSchemeOAuth2, AuthSchemeVendorSession:
		return normalized, nil
	case "apikey", "api-key":
		return AuthSchemeAPIKey, nil
	case "vendor-session", "session":
		return AuthSchemeVendorSession, nil
	default:
		return "", fmt.Errorf("core: invalid auth scheme %q", value)
	}
}

// UsesCachedToken reports whether the scheme acquires and caches a token.
func (s AuthScheme) UsesCachedToken() bool {
	return s == AuthSchemeOAuth2 || s == AuthSchemeVendorSession
}

// Installation is one configured connection between a platform user and a vendor.
type Installation struct {
	ID               string
	UserID           string
	VendorKey        string
	AuthScheme       AuthScheme
	AuthFormSettings map[string]string
	CachedToken      *CachedToken
	ExpiresAt        *time.Time
	Enabled          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (i Installation) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("core: installation id is required")
	}
	if strings.TrimSpace(i.VendorKey) == "" {
		return fmt.Errorf("core: installation vendor key is required")
	}
	if _, err := ParseAuthScheme(string(i.AuthScheme)); err != nil {
		return err
	}
	return nil
}

// Clone returns a deep copy so callers never share settings maps or token pointers.
func (i Installation) Clone() Installation {
	out := i
	out.AuthFormSettings = copyStringMap(i.AuthFormSettings)
	out.CachedToken = i.CachedToken.Clone()
	out.ExpiresAt = cloneTime(i.ExpiresAt)
	return out
}

// CachedToken is replaced as a whole on every update and never mutated field by field.
type CachedToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IssuedAt     time.Time
	ExpiresAt    *time.Time
	Version      int
}

func (t *CachedToken) Clone() *CachedToken {
	if t == nil {
		return nil
	}
	out := *t
	out.ExpiresAt = cloneTime(t.ExpiresAt)
	return &out
}

// TokenGrant is the raw result of an acquisition call. Relative lifetimes are
// converted to absolute instants by the CredentialStore clock.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	ExpiresAt    *time.Time
}

type TokenState string

const (
	TokenStateAbsent  TokenState = "absent"
	TokenStateValid   TokenState = "valid"
	TokenStateExpired TokenState = "expired"
)

type ExpiryMode string

const (
	// ExpiryModeServer treats the token as valid while now < ExpiresAt.
	ExpiryModeServer ExpiryMode = "server_expiry"
	// ExpiryModeFixedLifetime treats the token as valid while IssuedAt > now - MaxLifetime.
	ExpiryModeFixedLifetime ExpiryMode = "fixed_lifetime"
)

type ValidityPolicy struct {
	Mode        ExpiryMode
	MaxLifetime time.Duration
}

// TokenStateOf evaluates a cached token at now. A token is never partially valid.
func TokenStateOf(token *CachedToken, policy ValidityPolicy, now time.Time) TokenState {
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return TokenStateAbsent
	}
	if token.ValidAt(policy, now) {
		return TokenStateValid
	}
	return TokenStateExpired
}

func (t *CachedToken) ValidAt(policy ValidityPolicy, now time.Time) bool {
	if t == nil || strings.TrimSpace(t.AccessToken) == "" {
		return false
	}
	switch policy.Mode {
	case ExpiryModeFixedLifetime:
		if policy.MaxLifetime <= 0 || t.IssuedAt.IsZero() {
			return false
		}
		return t.IssuedAt.After(now.Add(-policy.MaxLifetime))
	default:
		if t.ExpiresAt == nil {
			return false
		}
		return now.Before(*t.ExpiresAt)
	}
}

// AuthRequest holds the headers and query parameters that authenticate one call.
type AuthRequest struct {
	Headers map[string]string
	Query   map[string]string
}

func (r AuthRequest) Header(name string) string {
	for key, value := range r.Headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

type RefreshUnit struct {
	InstallationID string
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTime(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := *in
	return &value
}
