package auth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/goliatone/go-integrations/core"
)

// AuthResolver resolves request authentication for an installation id;
// *core.Service satisfies it.
type AuthResolver interface {
	ResolveAuthHeader(ctx context.Context, installationID string) (core.AuthRequest, error)
}

// InstallationTokenSource exposes an installation's bearer token as an
// oauth2.TokenSource so vendor SDK clients can share the cached token.
type InstallationTokenSource struct {
	ctx            context.Context
	resolver       AuthResolver
	installationID string
}

func NewInstallationTokenSource(ctx context.Context, resolver AuthResolver, installationID string) oauth2.TokenSource {
	return &InstallationTokenSource{
		ctx:            ctx,
		resolver:       resolver,
		installationID: strings.TrimSpace(installationID),
	}
}

func (s *InstallationTokenSource) Token() (*oauth2.Token, error) {
	if s.resolver == nil {
		return nil, fmt.Errorf("auth: token source resolver is required")
	}
	auth, err := s.resolver.ResolveAuthHeader(s.ctx, s.installationID)
	if err != nil {
		return nil, err
	}
	header := strings.TrimSpace(auth.Header("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("auth: installation %q does not authenticate with a bearer token", s.installationID)
	}
	return &oauth2.Token{
		AccessToken: strings.TrimSpace(token),
		TokenType:   "Bearer",
	}, nil
}
