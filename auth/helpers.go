package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

// lookup resolves a dotted path ("data.session.token") inside a decoded JSON
// object.
func lookup(payload map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" || payload == nil {
		return nil, false
	}
	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[segment]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

func readString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := lookup(payload, key)
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(typed); trimmed != "" {
				return trimmed
			}
		case json.Number:
			return typed.String()
		case fmt.Stringer:
			if trimmed := strings.TrimSpace(typed.String()); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// readSeconds parses an expires_in style value given as a JSON number or a
// numeric string.
func readSeconds(payload map[string]any, key string) (time.Duration, bool) {
	value, ok := lookup(payload, key)
	if !ok {
		return 0, false
	}
	var seconds float64
	switch typed := value.(type) {
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		seconds = parsed
	case float64:
		seconds = typed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		seconds = parsed
	default:
		return 0, false
	}
	if seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// readFlag reports the boolean value at key; present is false when the key is
// missing or not a boolean.
func readFlag(payload map[string]any, key string) (value bool, present bool) {
	raw, ok := lookup(payload, key)
	if !ok {
		return false, false
	}
	switch typed := raw.(type) {
	case bool:
		return typed, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		if err != nil {
			return false, false
		}
		return parsed, true
	}
	return false, false
}

func decodeObject(body []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	payload := map[string]any{}
	if err := decoder.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// profileFor returns the resolved profile, falling back to the scheme defaults
// when the caller passed a profile without the scheme block.
func profileFor(profile core.VendorProfile, scheme core.AuthScheme) core.VendorProfile {
	switch scheme {
	case core.AuthSchemeAPIKey:
		if profile.APIKey != nil {
			return profile
		}
	case core.AuthSchemeBasic:
		if profile.Basic != nil {
			return profile
		}
	case core.AuthSchemeOAuth2:
		if profile.OAuth2 != nil {
			return profile
		}
	case core.AuthSchemeVendorSession:
		if profile.Session != nil {
			return profile
		}
	}
	fallback := core.DefaultProfile(scheme)
	fallback.Key = profile.Key
	fallback.Headers = profile.Headers
	return fallback
}

func bearerRequest(installation core.Installation, token *core.CachedToken, header, prefix string) (core.AuthRequest, error) {
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return core.AuthRequest{}, core.NewAuthorizationError(installation.ID, installation.AuthScheme, "no cached token")
	}
	return core.AuthRequest{
		Headers: map[string]string{header: prefix + token.AccessToken},
	}, nil
}
