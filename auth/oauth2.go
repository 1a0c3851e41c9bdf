package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/goliatone/go-integrations/core"
)

// OAuth2RefreshStrategy exchanges the installation refresh token for a new
// access token at the vendor token endpoint.
type OAuth2RefreshStrategy struct {
	client *http.Client
}

// NewOAuth2RefreshStrategy uses client for token requests; nil falls back to
// http.DefaultClient.
func NewOAuth2RefreshStrategy(client *http.Client) *OAuth2RefreshStrategy {
	return &OAuth2RefreshStrategy{client: client}
}

func (*OAuth2RefreshStrategy) Scheme() core.AuthScheme {
	return core.AuthSchemeOAuth2
}

func (*OAuth2RefreshStrategy) Authorize(_ context.Context, in core.AuthorizeInput) (core.AuthRequest, error) {
	return bearerRequest(in.Installation, in.Token, "Authorization", "Bearer ")
}

func (s *OAuth2RefreshStrategy) Acquire(ctx context.Context, in core.AcquireInput) (core.TokenGrant, error) {
	profile := profileFor(in.Profile, core.AuthSchemeOAuth2)
	cfg := profile.OAuth2
	installation := in.Installation

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL, _ = core.AuthField(installation, cfg.TokenURLField)
	}
	if tokenURL == "" {
		return core.TokenGrant{}, core.NewAuthorizationError(installation.ID, core.AuthSchemeOAuth2, "token url is not configured", cfg.TokenURLField)
	}
	refreshToken := core.RefreshTokenOf(installation, profile)
	if refreshToken == "" {
		return core.TokenGrant{}, core.NewAuthorizationError(installation.ID, core.AuthSchemeOAuth2, "", cfg.RefreshTokenField)
	}
	clientID, _ := core.AuthField(installation, cfg.ClientIDField)
	clientSecret, _ := core.AuthField(installation, cfg.ClientSecretField)

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: authStyle(cfg.ClientAuth),
		},
		Scopes: append([]string(nil), cfg.Scopes...),
	}
	if s != nil && s.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	}

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return core.TokenGrant{}, classifyOAuth2Error(installation, err)
	}

	grant := core.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	switch {
	case token.ExpiresIn > 0:
		grant.ExpiresIn = time.Duration(token.ExpiresIn) * time.Second
	case !token.Expiry.IsZero():
		expiry := token.Expiry.UTC()
		grant.ExpiresAt = &expiry
	}
	return grant, nil
}

func authStyle(style core.ClientAuthStyle) oauth2.AuthStyle {
	if style == core.ClientAuthBody {
		return oauth2.AuthStyleInParams
	}
	return oauth2.AuthStyleInHeader
}

func classifyOAuth2Error(installation core.Installation, err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		status := 0
		if retrieve.Response != nil {
			status = retrieve.Response.StatusCode
		}
		kind := core.TokenAcquisitionUnsuccessfulLogin
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			kind = core.TokenAcquisitionTransportFailure
		}
		return core.NewTokenAcquisitionError(kind, installation.VendorKey, installation.ID, status, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.NewTokenAcquisitionError(core.TokenAcquisitionTransportFailure, installation.VendorKey, installation.ID, 0, err)
	}
	message := err.Error()
	if strings.Contains(message, "missing access_token") || strings.Contains(message, "cannot parse") {
		return core.NewTokenAcquisitionError(core.TokenAcquisitionMalformedResponse, installation.VendorKey, installation.ID, 0, err)
	}
	return core.NewTokenAcquisitionError(
		core.TokenAcquisitionTransportFailure,
		installation.VendorKey,
		installation.ID,
		0,
		fmt.Errorf("auth: oauth2 refresh failed: %w", err),
	)
}
