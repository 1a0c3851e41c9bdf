package auth

import (
	"context"
	"encoding/base64"

	"github.com/goliatone/go-integrations/core"
)

type BasicStrategy struct{}

func NewBasicStrategy() BasicStrategy {
	return BasicStrategy{}
}

func (BasicStrategy) Scheme() core.AuthScheme {
	return core.AuthSchemeBasic
}

func (BasicStrategy) Authorize(_ context.Context, in core.AuthorizeInput) (core.AuthRequest, error) {
	cfg := profileFor(in.Profile, core.AuthSchemeBasic).Basic
	username, userOK := core.AuthField(in.Installation, cfg.UsernameField)
	password, passOK := core.AuthField(in.Installation, cfg.PasswordField)
	missing := []string{}
	if !userOK {
		missing = append(missing, cfg.UsernameField)
	}
	if !passOK {
		missing = append(missing, cfg.PasswordField)
	}
	if len(missing) > 0 {
		return core.AuthRequest{}, core.NewAuthorizationError(in.Installation.ID, core.AuthSchemeBasic, "", missing...)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return core.AuthRequest{Headers: map[string]string{"Authorization": "Basic " + encoded}}, nil
}
