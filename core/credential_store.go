package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CredentialStore is a typed accessor over installation auth state.
type CredentialStore struct {
	repo    InstallationRepository
	vendors *VendorRegistry
	clock   Clock
}

func NewCredentialStore(repo InstallationRepository, vendors *VendorRegistry, clock Clock) *CredentialStore {
	if vendors == nil {
		vendors = NewVendorRegistry()
	}
	return &CredentialStore{
		repo:    repo,
		vendors: vendors,
		clock:   resolveClock(clock),
	}
}

// Get loads an installation; absent and disabled installations are NotFound.
func (s *CredentialStore) Get(ctx context.Context, id string) (Installation, error) {
	if s == nil || s.repo == nil {
		return Installation{}, fmt.Errorf("core: installation repository is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Installation{}, fmt.Errorf("core: installation id is required")
	}
	installation, found, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Installation{}, err
	}
	if !found {
		return Installation{}, NewNotFoundError(id, false)
	}
	if !installation.Enabled {
		return Installation{}, NewNotFoundError(id, true)
	}
	return installation.Clone(), nil
}

// ReadAuthField never fails; blank values count as absent.
func (s *CredentialStore) ReadAuthField(installation Installation, key string) (string, bool) {
	return readAuthField(installation, key)
}

// AuthField reads a trimmed, non-empty auth form value.
func AuthField(installation Installation, key string) (string, bool) {
	return readAuthField(installation, key)
}

func readAuthField(installation Installation, key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" || len(installation.AuthFormSettings) == 0 {
		return "", false
	}
	value, ok := installation.AuthFormSettings[key]
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// UpdateCachedToken replaces the cached token with one built from grant. Expiry
// is computed here with the store clock, never from a caller supplied time.
func (s *CredentialStore) UpdateCachedToken(ctx context.Context, installation Installation, grant TokenGrant) (Installation, error) {
	if s == nil || s.repo == nil {
		return Installation{}, fmt.Errorf("core: installation repository is required")
	}
	if strings.TrimSpace(grant.AccessToken) == "" {
		return Installation{}, fmt.Errorf("core: access token is required to update cached token")
	}
	profile, err := s.vendors.Resolve(installation)
	if err != nil {
		return Installation{}, err
	}

	now := s.clock.Now()
	previous := installation.CachedToken
	next := &CachedToken{
		AccessToken:  strings.TrimSpace(grant.AccessToken),
		RefreshToken: strings.TrimSpace(grant.RefreshToken),
		TokenType:    strings.TrimSpace(grant.TokenType),
		IssuedAt:     now,
		Version:      1,
	}
	if previous != nil {
		next.Version = previous.Version + 1
		if next.RefreshToken == "" {
			next.RefreshToken = previous.RefreshToken
		}
	}

	validity := profile.Validity()
	switch {
	case grant.ExpiresIn > 0:
		expiresAt := now.Add(grant.ExpiresIn)
		next.ExpiresAt = &expiresAt
	case grant.ExpiresAt != nil:
		next.ExpiresAt = cloneTime(grant.ExpiresAt)
	case validity.Mode == ExpiryModeFixedLifetime:
		// no server expiry; validity is judged from IssuedAt
	case profile.OAuth2 != nil:
		expiresAt := now.Add(profile.OAuth2.DefaultLifetime)
		next.ExpiresAt = &expiresAt
	}

	updated := installation.Clone()
	updated.CachedToken = next
	updated.ExpiresAt = refreshHint(next, validity)
	updated.UpdatedAt = now
	if err := s.repo.Persist(ctx, updated); err != nil {
		return Installation{}, err
	}
	return updated.Clone(), nil
}

// UpdateAuthForm replaces the auth-form settings and invalidates any cached token.
func (s *CredentialStore) UpdateAuthForm(ctx context.Context, id string, settings map[string]string) (Installation, error) {
	installation, err := s.Get(ctx, id)
	if err != nil {
		return Installation{}, err
	}
	installation.AuthFormSettings = copyStringMap(settings)
	installation.CachedToken = nil
	installation.ExpiresAt = nil
	installation.UpdatedAt = s.clock.Now()
	if err := s.repo.Persist(ctx, installation); err != nil {
		return Installation{}, err
	}
	return installation.Clone(), nil
}

func (s *CredentialStore) IsAuthorized(installation Installation) bool {
	missing, err := s.MissingFields(installation)
	return err == nil && len(missing) == 0
}

// MissingFields lists the scheme requirements the installation does not satisfy.
func (s *CredentialStore) MissingFields(installation Installation) ([]string, error) {
	profile, err := s.vendors.Resolve(installation)
	if err != nil {
		return nil, err
	}
	return missingFields(installation, profile), nil
}

func (s *CredentialStore) Vendors() *VendorRegistry {
	if s == nil {
		return nil
	}
	return s.vendors
}

func (s *CredentialStore) Clock() Clock {
	if s == nil {
		return SystemClock{}
	}
	return s.clock
}

func missingFields(installation Installation, profile VendorProfile) []string {
	required := []string{}
	switch installation.AuthScheme {
	case AuthSchemeAPIKey:
		if profile.APIKey != nil {
			required = append(required, profile.APIKey.Field)
		}
	case AuthSchemeBasic:
		if profile.Basic != nil {
			required = append(required, profile.Basic.UsernameField, profile.Basic.PasswordField)
		}
	case AuthSchemeOAuth2:
		if profile.OAuth2 != nil {
			required = append(required, profile.OAuth2.ClientIDField, profile.OAuth2.ClientSecretField)
		}
	case AuthSchemeVendorSession:
		if profile.Session != nil {
			if profile.Session.Mode == SessionModeBearerExchange {
				required = append(required, profile.Session.BearerField)
			} else {
				required = append(required, profile.Session.CredentialFields...)
			}
		}
	default:
		return []string{"auth_scheme"}
	}

	missing := []string{}
	for _, field := range required {
		if _, ok := readAuthField(installation, field); !ok {
			missing = append(missing, field)
		}
	}
	if installation.AuthScheme == AuthSchemeOAuth2 && profile.OAuth2 != nil {
		hasAccess := installation.CachedToken != nil && strings.TrimSpace(installation.CachedToken.AccessToken) != ""
		if !hasAccess && RefreshTokenOf(installation, profile) == "" {
			missing = append(missing, profile.OAuth2.RefreshTokenField)
		}
	}
	return missing
}

// RefreshTokenOf prefers the cached token's refresh token over the auth form.
func RefreshTokenOf(installation Installation, profile VendorProfile) string {
	if installation.CachedToken != nil {
		if token := strings.TrimSpace(installation.CachedToken.RefreshToken); token != "" {
			return token
		}
	}
	field := "refresh_token"
	if profile.OAuth2 != nil {
		field = profile.OAuth2.RefreshTokenField
	}
	value, _ := readAuthField(installation, field)
	return value
}

// refreshHint is the platform-level expiry the scheduler scans on.
func refreshHint(token *CachedToken, validity ValidityPolicy) *time.Time {
	if token == nil {
		return nil
	}
	if validity.Mode == ExpiryModeFixedLifetime && validity.MaxLifetime > 0 {
		hint := token.IssuedAt.Add(validity.MaxLifetime)
		return &hint
	}
	return cloneTime(token.ExpiresAt)
}
