package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	DefaultSessionMaxLifetime = 30 * time.Minute
	DefaultOAuth2Lifetime     = time.Hour
)

type APIKeyPlacement string

const (
	APIKeyInHeader APIKeyPlacement = "header"
	APIKeyInQuery  APIKeyPlacement = "query"
)

type APIKeyConfig struct {
	Field     string          `koanf:"field" mapstructure:"field"`
	Placement APIKeyPlacement `koanf:"placement" mapstructure:"placement"`
	Name      string          `koanf:"name" mapstructure:"name"`
	Prefix    string          `koanf:"prefix" mapstructure:"prefix"`
}

type BasicConfig struct {
	UsernameField string `koanf:"username_field" mapstructure:"username_field"`
	PasswordField string `koanf:"password_field" mapstructure:"password_field"`
}

type ClientAuthStyle string

const (
	ClientAuthHeader ClientAuthStyle = "header"
	ClientAuthBody   ClientAuthStyle = "body"
)

type OAuth2Config struct {
	TokenURL          string          `koanf:"token_url" mapstructure:"token_url"`
	ClientIDField     string          `koanf:"client_id_field" mapstructure:"client_id_field"`
	ClientSecretField string          `koanf:"client_secret_field" mapstructure:"client_secret_field"`
	RefreshTokenField string          `koanf:"refresh_token_field" mapstructure:"refresh_token_field"`
	TokenURLField     string          `koanf:"token_url_field" mapstructure:"token_url_field"`
	ClientAuth        ClientAuthStyle `koanf:"client_auth" mapstructure:"client_auth"`
	Scopes            []string        `koanf:"scopes" mapstructure:"scopes"`
	DefaultLifetime   time.Duration   `koanf:"default_lifetime" mapstructure:"default_lifetime"`
}

type SessionMode string

const (
	SessionModeCredentials    SessionMode = "credentials"
	SessionModeBearerExchange SessionMode = "bearer_exchange"
)

type SessionConfig struct {
	LoginURL         string        `koanf:"login_url" mapstructure:"login_url"`
	LoginURLField    string        `koanf:"login_url_field" mapstructure:"login_url_field"`
	Mode             SessionMode   `koanf:"mode" mapstructure:"mode"`
	Expiry           ExpiryMode    `koanf:"expiry" mapstructure:"expiry"`
	MaxLifetime      time.Duration `koanf:"max_lifetime" mapstructure:"max_lifetime"`
	CredentialFields []string      `koanf:"credential_fields" mapstructure:"credential_fields"`
	BearerField      string        `koanf:"bearer_field" mapstructure:"bearer_field"`
	TokenField       string        `koanf:"token_field" mapstructure:"token_field"`
	ExpiresInField   string        `koanf:"expires_in_field" mapstructure:"expires_in_field"`
	SuccessField     string        `koanf:"success_field" mapstructure:"success_field"`
	HeaderName       string        `koanf:"header_name" mapstructure:"header_name"`
	HeaderPrefix     string        `koanf:"header_prefix" mapstructure:"header_prefix"`
}

// VendorConfig is the configuration-file shape of a vendor profile.
type VendorConfig struct {
	Scheme  string            `koanf:"scheme" mapstructure:"scheme"`
	Headers map[string]string `koanf:"headers" mapstructure:"headers"`
	APIKey  APIKeyConfig      `koanf:"api_key" mapstructure:"api_key"`
	Basic   BasicConfig       `koanf:"basic" mapstructure:"basic"`
	OAuth2  OAuth2Config      `koanf:"oauth2" mapstructure:"oauth2"`
	Session SessionConfig     `koanf:"session" mapstructure:"session"`
}

// VendorProfile binds a vendor key to one auth scheme variant. Only the block
// matching Scheme is set; vendor quirks are data on that block.
type VendorProfile struct {
	Key     string
	Scheme  AuthScheme
	Headers map[string]string
	APIKey  *APIKeyConfig
	Basic   *BasicConfig
	OAuth2  *OAuth2Config
	Session *SessionConfig
}

func DefaultProfile(scheme AuthScheme) VendorProfile {
	profile := VendorProfile{Scheme: scheme, Headers: map[string]string{}}
	switch scheme {
	case AuthSchemeAPIKey:
		profile.APIKey = &APIKeyConfig{}
	case AuthSchemeBasic:
		profile.Basic = &BasicConfig{}
	case AuthSchemeOAuth2:
		profile.OAuth2 = &OAuth2Config{}
	case AuthSchemeVendorSession:
		profile.Session = &SessionConfig{}
	}
	return profile.withDefaults()
}

func ProfileFromConfig(key string, cfg VendorConfig) (VendorProfile, error) {
	scheme, err := ParseAuthScheme(cfg.Scheme)
	if err != nil {
		return VendorProfile{}, fmt.Errorf("core: vendor %q: %w", key, err)
	}
	profile := VendorProfile{
		Key:     strings.TrimSpace(key),
		Scheme:  scheme,
		Headers: copyStringMap(cfg.Headers),
	}
	switch scheme {
	case AuthSchemeAPIKey:
		block := cfg.APIKey
		profile.APIKey = &block
	case AuthSchemeBasic:
		block := cfg.Basic
		profile.Basic = &block
	case AuthSchemeOAuth2:
		block := cfg.OAuth2
		block.Scopes = append([]string(nil), cfg.OAuth2.Scopes...)
		profile.OAuth2 = &block
	case AuthSchemeVendorSession:
		block := cfg.Session
		block.CredentialFields = append([]string(nil), cfg.Session.CredentialFields...)
		profile.Session = &block
	}
	profile = profile.withDefaults()
	if err := profile.Validate(); err != nil {
		return VendorProfile{}, err
	}
	return profile, nil
}

func (p VendorProfile) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("core: vendor key is required")
	}
	blocks := 0
	for _, set := range []bool{p.APIKey != nil, p.Basic != nil, p.OAuth2 != nil, p.Session != nil} {
		if set {
			blocks++
		}
	}
	if blocks != 1 {
		return fmt.Errorf("core: vendor %q must configure exactly one scheme block", p.Key)
	}
	switch p.Scheme {
	case AuthSchemeAPIKey:
		if p.APIKey == nil {
			return fmt.Errorf("core: vendor %q api_key block is required", p.Key)
		}
		if p.APIKey.Placement != APIKeyInHeader && p.APIKey.Placement != APIKeyInQuery {
			return fmt.Errorf("core: vendor %q has invalid api key placement %q", p.Key, p.APIKey.Placement)
		}
	case AuthSchemeBasic:
		if p.Basic == nil {
			return fmt.Errorf("core: vendor %q basic block is required", p.Key)
		}
	case AuthSchemeOAuth2:
		if p.OAuth2 == nil {
			return fmt.Errorf("core: vendor %q oauth2 block is required", p.Key)
		}
	case AuthSchemeVendorSession:
		if p.Session == nil {
			return fmt.Errorf("core: vendor %q session block is required", p.Key)
		}
		if p.Session.Mode != SessionModeCredentials && p.Session.Mode != SessionModeBearerExchange {
			return fmt.Errorf("core: vendor %q has invalid session mode %q", p.Key, p.Session.Mode)
		}
		if p.Session.Expiry != ExpiryModeServer && p.Session.Expiry != ExpiryModeFixedLifetime {
			return fmt.Errorf("core: vendor %q has invalid session expiry %q", p.Key, p.Session.Expiry)
		}
	default:
		return fmt.Errorf("core: vendor %q has invalid auth scheme %q", p.Key, p.Scheme)
	}
	return nil
}

// Validity returns how cached tokens of this profile are judged.
func (p VendorProfile) Validity() ValidityPolicy {
	if p.Scheme == AuthSchemeVendorSession && p.Session != nil && p.Session.Expiry == ExpiryModeFixedLifetime {
		return ValidityPolicy{Mode: ExpiryModeFixedLifetime, MaxLifetime: p.Session.MaxLifetime}
	}
	return ValidityPolicy{Mode: ExpiryModeServer}
}

func (p VendorProfile) withDefaults() VendorProfile {
	if p.Headers == nil {
		p.Headers = map[string]string{}
	}
	if p.APIKey != nil {
		block := *p.APIKey
		block.Field = defaultString(block.Field, "api_key")
		block.Placement = APIKeyPlacement(defaultString(strings.ToLower(string(block.Placement)), string(APIKeyInHeader)))
		if block.Placement == APIKeyInQuery {
			block.Name = defaultString(block.Name, "api_key")
		} else {
			block.Name = defaultString(block.Name, "X-API-Key")
		}
		p.APIKey = &block
	}
	if p.Basic != nil {
		block := *p.Basic
		block.UsernameField = defaultString(block.UsernameField, "username")
		block.PasswordField = defaultString(block.PasswordField, "password")
		p.Basic = &block
	}
	if p.OAuth2 != nil {
		block := *p.OAuth2
		block.ClientIDField = defaultString(block.ClientIDField, "client_id")
		block.ClientSecretField = defaultString(block.ClientSecretField, "client_secret")
		block.RefreshTokenField = defaultString(block.RefreshTokenField, "refresh_token")
		block.TokenURLField = defaultString(block.TokenURLField, "token_url")
		block.ClientAuth = ClientAuthStyle(defaultString(strings.ToLower(string(block.ClientAuth)), string(ClientAuthHeader)))
		if block.DefaultLifetime <= 0 {
			block.DefaultLifetime = DefaultOAuth2Lifetime
		}
		p.OAuth2 = &block
	}
	if p.Session != nil {
		block := *p.Session
		block.LoginURLField = defaultString(block.LoginURLField, "login_url")
		block.Mode = SessionMode(defaultString(strings.ToLower(string(block.Mode)), string(SessionModeCredentials)))
		block.Expiry = ExpiryMode(defaultString(strings.ToLower(string(block.Expiry)), string(ExpiryModeServer)))
		if block.MaxLifetime <= 0 {
			block.MaxLifetime = DefaultSessionMaxLifetime
		}
		if len(block.CredentialFields) == 0 && block.Mode == SessionModeCredentials {
			block.CredentialFields = []string{"username", "password"}
		}
		block.BearerField = defaultString(block.BearerField, "access_token")
		block.TokenField = defaultString(block.TokenField, "access_token")
		block.ExpiresInField = defaultString(block.ExpiresInField, "expires_in")
		block.SuccessField = defaultString(block.SuccessField, "success")
		block.HeaderName = defaultString(block.HeaderName, "Authorization")
		if block.HeaderPrefix == "" && strings.EqualFold(block.HeaderName, "Authorization") {
			block.HeaderPrefix = "Bearer "
		}
		p.Session = &block
	}
	return p
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

type VendorRegistry struct {
	mu       sync.RWMutex
	profiles map[string]VendorProfile
}

func NewVendorRegistry() *VendorRegistry {
	return &VendorRegistry{profiles: make(map[string]VendorProfile)}
}

// NewVendorRegistryFromConfig registers every configured vendor.
func NewVendorRegistryFromConfig(vendors map[string]VendorConfig) (*VendorRegistry, error) {
	registry := NewVendorRegistry()
	keys := make([]string, 0, len(vendors))
	for key := range vendors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		profile, err := ProfileFromConfig(key, vendors[key])
		if err != nil {
			return nil, err
		}
		if err := registry.Register(profile); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *VendorRegistry) Register(profile VendorProfile) error {
	profile.Key = strings.TrimSpace(profile.Key)
	profile = profile.withDefaults()
	if err := profile.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[profile.Key]; exists {
		return fmt.Errorf("core: vendor already registered: %s", profile.Key)
	}
	r.profiles[profile.Key] = profile
	return nil
}

func (r *VendorRegistry) Get(vendorKey string) (VendorProfile, bool) {
	key := strings.TrimSpace(vendorKey)
	if r == nil || key == "" {
		return VendorProfile{}, false
	}
	r.mu.RLock()
	profile, ok := r.profiles[key]
	r.mu.RUnlock()
	return profile, ok
}

// Resolve returns the registered profile for the installation vendor, or the
// scheme defaults when the vendor is not registered.
func (r *VendorRegistry) Resolve(installation Installation) (VendorProfile, error) {
	profile, ok := r.Get(installation.VendorKey)
	if !ok {
		profile = DefaultProfile(installation.AuthScheme)
		profile.Key = strings.TrimSpace(installation.VendorKey)
		return profile, nil
	}
	if profile.Scheme != installation.AuthScheme {
		return VendorProfile{}, fmt.Errorf(
			"core: installation %q scheme %q mismatch with vendor %q scheme %q",
			installation.ID, installation.AuthScheme, profile.Key, profile.Scheme,
		)
	}
	return profile, nil
}

func (r *VendorRegistry) Keys() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	keys := make([]string, 0, len(r.profiles))
	for key := range r.profiles {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
