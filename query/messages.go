package query

import (
	"strings"
	"time"
)

const (
	TypeGetInstallation   = "integrations.query.installation.get"
	TypeResolveAuthHeader = "integrations.query.auth_header.resolve"
	TypeIsAuthorized      = "integrations.query.installation.authorized"
	TypeTokenState        = "integrations.query.token.state"
	TypeScanRefresh       = "integrations.query.refresh.scan"
)

type GetInstallationMessage struct {
	InstallationID string
}

func (GetInstallationMessage) Type() string { return TypeGetInstallation }

func (m GetInstallationMessage) Validate() error {
	return validateInstallationID(m.InstallationID)
}

type ResolveAuthHeaderMessage struct {
	InstallationID string
}

func (ResolveAuthHeaderMessage) Type() string { return TypeResolveAuthHeader }

func (m ResolveAuthHeaderMessage) Validate() error {
	return validateInstallationID(m.InstallationID)
}

type IsAuthorizedMessage struct {
	InstallationID string
}

func (IsAuthorizedMessage) Type() string { return TypeIsAuthorized }

func (m IsAuthorizedMessage) Validate() error {
	return validateInstallationID(m.InstallationID)
}

type TokenStateMessage struct {
	InstallationID string
}

func (TokenStateMessage) Type() string { return TypeTokenState }

func (m TokenStateMessage) Validate() error {
	return validateInstallationID(m.InstallationID)
}

// ScanRefreshMessage asks for the installations expiring within Horizon.
// A zero horizon falls back to the configured refresh horizon.
type ScanRefreshMessage struct {
	Horizon time.Duration
}

func (ScanRefreshMessage) Type() string { return TypeScanRefresh }

func (m ScanRefreshMessage) Validate() error {
	if m.Horizon < 0 {
		return queryValidationError("horizon", "horizon must be >= 0")
	}
	return nil
}

func validateInstallationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return queryValidationError("installation_id", "installation id is required")
	}
	return nil
}
