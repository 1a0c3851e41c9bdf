package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

// installationRecord keeps secrets in text columns. Both auth_form_settings and
// cached_token hold either plain JSON or a sealed envelope.
type installationRecord struct {
	bun.BaseModel `bun:"table:connector_installations,alias:ci"`

	ID               string     `bun:"id,pk"`
	UserID           string     `bun:"user_id,notnull"`
	VendorKey        string     `bun:"vendor_key,notnull"`
	AuthScheme       string     `bun:"auth_scheme,notnull"`
	AuthFormSettings string     `bun:"auth_form_settings,notnull"`
	CachedToken      *string    `bun:"cached_token"`
	TokenVersion     int        `bun:"token_version,notnull"`
	ExpiresAt        *time.Time `bun:"expires_at,nullzero"`
	Enabled          bool       `bun:"enabled,notnull"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type cachedTokenPayload struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type,omitempty"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Version      int        `json:"version"`
}
