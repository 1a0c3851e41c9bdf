package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/security"
)

type recordCodec struct {
	sealer security.Sealer
}

func (c recordCodec) encode(ctx context.Context, installation core.Installation, now time.Time) (*installationRecord, error) {
	settings := installation.AuthFormSettings
	if settings == nil {
		settings = map[string]string{}
	}
	settingsText, err := c.marshal(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode auth form settings: %w", err)
	}

	record := &installationRecord{
		ID:               installation.ID,
		UserID:           installation.UserID,
		VendorKey:        installation.VendorKey,
		AuthScheme:       string(installation.AuthScheme),
		AuthFormSettings: settingsText,
		ExpiresAt:        utcPointer(installation.ExpiresAt),
		Enabled:          installation.Enabled,
		CreatedAt:        installation.CreatedAt.UTC(),
		UpdatedAt:        now.UTC(),
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now.UTC()
	}
	if token := installation.CachedToken; token != nil {
		tokenText, tokenErr := c.marshal(ctx, cachedTokenPayload{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			TokenType:    token.TokenType,
			IssuedAt:     token.IssuedAt.UTC(),
			ExpiresAt:    utcPointer(token.ExpiresAt),
			Version:      token.Version,
		})
		if tokenErr != nil {
			return nil, fmt.Errorf("sqlstore: encode cached token: %w", tokenErr)
		}
		record.CachedToken = &tokenText
		record.TokenVersion = token.Version
	}
	return record, nil
}

func (c recordCodec) decode(ctx context.Context, record *installationRecord) (core.Installation, error) {
	if record == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: installation record is nil")
	}
	settings := map[string]string{}
	if err := c.unmarshal(ctx, record.AuthFormSettings, &settings); err != nil {
		return core.Installation{}, fmt.Errorf("sqlstore: decode auth form settings for %q: %w", record.ID, err)
	}
	installation := core.Installation{
		ID:               record.ID,
		UserID:           record.UserID,
		VendorKey:        record.VendorKey,
		AuthScheme:       core.AuthScheme(record.AuthScheme),
		AuthFormSettings: settings,
		ExpiresAt:        utcPointer(record.ExpiresAt),
		Enabled:          record.Enabled,
		CreatedAt:        record.CreatedAt.UTC(),
		UpdatedAt:        record.UpdatedAt.UTC(),
	}
	if record.CachedToken != nil && *record.CachedToken != "" {
		payload := cachedTokenPayload{}
		if err := c.unmarshal(ctx, *record.CachedToken, &payload); err != nil {
			return core.Installation{}, fmt.Errorf("sqlstore: decode cached token for %q: %w", record.ID, err)
		}
		installation.CachedToken = &core.CachedToken{
			AccessToken:  payload.AccessToken,
			RefreshToken: payload.RefreshToken,
			TokenType:    payload.TokenType,
			IssuedAt:     payload.IssuedAt.UTC(),
			ExpiresAt:    utcPointer(payload.ExpiresAt),
			Version:      payload.Version,
		}
	}
	return installation, nil
}

func (c recordCodec) marshal(ctx context.Context, value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	if c.sealer == nil {
		return string(data), nil
	}
	sealed, err := c.sealer.Seal(ctx, data)
	if err != nil {
		return "", err
	}
	return string(sealed), nil
}

// unmarshal accepts plain JSON rows written before a sealer was configured.
func (c recordCodec) unmarshal(ctx context.Context, text string, target any) error {
	data := []byte(text)
	if security.IsSealed(data) {
		if c.sealer == nil {
			return fmt.Errorf("sealed value found but no sealer is configured")
		}
		opened, err := c.sealer.Open(ctx, data)
		if err != nil {
			return err
		}
		data = opened
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	out := value.UTC()
	return &out
}
