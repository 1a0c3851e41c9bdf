package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

const (
	TypeInvokeOperation   = "integrations.command.operation.invoke"
	TypeExecuteRefresh    = "integrations.command.refresh.execute"
	TypeRunRefresh        = "integrations.command.refresh.run"
	TypeEnqueueRefresh    = "integrations.command.refresh.enqueue"
	TypeUpdateAuthForm    = "integrations.command.installation.auth_form.update"
	TypeUpdateCachedToken = "integrations.command.installation.token.update"
)

type InvokeOperationMessage struct {
	Request core.InvokeRequest
}

func (InvokeOperationMessage) Type() string { return TypeInvokeOperation }

func (m InvokeOperationMessage) Validate() error {
	if strings.TrimSpace(m.Request.InstallationID) == "" {
		return commandValidationError("installation_id", "installation id is required")
	}
	if strings.TrimSpace(m.Request.Connector) == "" {
		return commandValidationError("connector", "connector is required")
	}
	if strings.TrimSpace(m.Request.Operation) == "" {
		return commandValidationError("operation", "operation is required")
	}
	if strings.TrimSpace(m.Request.URL) == "" {
		return commandValidationError("url", "url is required")
	}
	return nil
}

type ExecuteRefreshMessage struct {
	InstallationID string
}

func (ExecuteRefreshMessage) Type() string { return TypeExecuteRefresh }

func (m ExecuteRefreshMessage) Validate() error {
	if strings.TrimSpace(m.InstallationID) == "" {
		return commandValidationError("installation_id", "installation id is required")
	}
	return nil
}

// RunRefreshMessage triggers a single scheduler pass.
type RunRefreshMessage struct{}

func (RunRefreshMessage) Type() string { return TypeRunRefresh }

func (RunRefreshMessage) Validate() error { return nil }

type EnqueueRefreshMessage struct {
	Horizon time.Duration
}

func (EnqueueRefreshMessage) Type() string { return TypeEnqueueRefresh }

func (m EnqueueRefreshMessage) Validate() error {
	if m.Horizon < 0 {
		return commandValidationError("horizon", "horizon must be >= 0")
	}
	return nil
}

type UpdateAuthFormMessage struct {
	InstallationID string
	Settings       map[string]string
}

func (UpdateAuthFormMessage) Type() string { return TypeUpdateAuthForm }

func (m UpdateAuthFormMessage) Validate() error {
	if strings.TrimSpace(m.InstallationID) == "" {
		return commandValidationError("installation_id", "installation id is required")
	}
	if len(m.Settings) == 0 {
		return commandValidationError("settings", "at least one auth form setting is required")
	}
	return nil
}

type UpdateCachedTokenMessage struct {
	InstallationID string
	Grant          core.TokenGrant
}

func (UpdateCachedTokenMessage) Type() string { return TypeUpdateCachedToken }

func (m UpdateCachedTokenMessage) Validate() error {
	if strings.TrimSpace(m.InstallationID) == "" {
		return commandValidationError("installation_id", "installation id is required")
	}
	if strings.TrimSpace(m.Grant.AccessToken) == "" {
		return commandValidationError("access_token", "access token is required")
	}
	if m.Grant.ExpiresIn < 0 {
		return commandValidationError("expires_in", "expires_in must be >= 0")
	}
	return nil
}
