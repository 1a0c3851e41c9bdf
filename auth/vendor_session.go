package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/goliatone/go-integrations/core"
)

const sessionLoginOperation = "session_login"

// VendorSessionStrategy logs into a vendor endpoint and caches the returned
// session token. Login requests go through the same Sender as API calls.
type VendorSessionStrategy struct {
	sender core.Sender
}

func NewVendorSessionStrategy(sender core.Sender) *VendorSessionStrategy {
	return &VendorSessionStrategy{sender: sender}
}

func (*VendorSessionStrategy) Scheme() core.AuthScheme {
	return core.AuthSchemeVendorSession
}

func (*VendorSessionStrategy) Authorize(_ context.Context, in core.AuthorizeInput) (core.AuthRequest, error) {
	cfg := profileFor(in.Profile, core.AuthSchemeVendorSession).Session
	return bearerRequest(in.Installation, in.Token, cfg.HeaderName, cfg.HeaderPrefix)
}

func (s *VendorSessionStrategy) Acquire(ctx context.Context, in core.AcquireInput) (core.TokenGrant, error) {
	profile := profileFor(in.Profile, core.AuthSchemeVendorSession)
	cfg := profile.Session
	installation := in.Installation
	if s == nil || s.sender == nil {
		return core.TokenGrant{}, fmt.Errorf("auth: vendor session sender is required")
	}

	request, err := loginRequest(installation, *cfg)
	if err != nil {
		return core.TokenGrant{}, err
	}
	response, err := s.sender.Send(ctx, request)
	if err != nil {
		return core.TokenGrant{}, core.NewTokenAcquisitionError(
			core.TokenAcquisitionTransportFailure, installation.VendorKey, installation.ID, 0, err,
		)
	}

	switch {
	case response.StatusCode >= http.StatusInternalServerError || response.StatusCode == http.StatusTooManyRequests:
		return core.TokenGrant{}, core.NewTokenAcquisitionError(
			core.TokenAcquisitionTransportFailure, installation.VendorKey, installation.ID, response.StatusCode,
			fmt.Errorf("auth: login returned status %d", response.StatusCode),
		)
	case response.StatusCode >= http.StatusBadRequest:
		return core.TokenGrant{}, core.NewTokenAcquisitionError(
			core.TokenAcquisitionUnsuccessfulLogin, installation.VendorKey, installation.ID, response.StatusCode,
			fmt.Errorf("auth: login rejected with status %d", response.StatusCode),
		)
	}

	payload, err := decodeObject(response.Body)
	if err != nil {
		return core.TokenGrant{}, malformed(installation, response.StatusCode, fmt.Errorf("auth: login response is not a json object: %w", err))
	}
	if ok, present := readFlag(payload, cfg.SuccessField); present && !ok {
		reason := firstNonEmpty(readString(payload, "message", "error", "error_description"), "vendor reported an unsuccessful login")
		return core.TokenGrant{}, core.NewTokenAcquisitionError(
			core.TokenAcquisitionUnsuccessfulLogin, installation.VendorKey, installation.ID, response.StatusCode,
			fmt.Errorf("auth: %s", reason),
		)
	}

	token := readString(payload, cfg.TokenField)
	if token == "" {
		return core.TokenGrant{}, malformed(installation, response.StatusCode, fmt.Errorf("auth: login response has no %q", cfg.TokenField))
	}
	grant := core.TokenGrant{AccessToken: token, TokenType: "session"}
	if cfg.Expiry == core.ExpiryModeServer {
		expiresIn, ok := readSeconds(payload, cfg.ExpiresInField)
		if !ok {
			return core.TokenGrant{}, malformed(installation, response.StatusCode, fmt.Errorf("auth: login response has no valid %q", cfg.ExpiresInField))
		}
		grant.ExpiresIn = expiresIn
	}
	return grant, nil
}

func loginRequest(installation core.Installation, cfg core.SessionConfig) (core.Request, error) {
	loginURL := cfg.LoginURL
	if loginURL == "" {
		loginURL, _ = core.AuthField(installation, cfg.LoginURLField)
	}
	if loginURL == "" {
		return core.Request{}, core.NewAuthorizationError(installation.ID, core.AuthSchemeVendorSession, "login url is not configured", cfg.LoginURLField)
	}
	headers := map[string]string{
		"Accept":       core.DefaultAccept,
		"Content-Type": core.DefaultContentType,
	}
	body := []byte("{}")

	if cfg.Mode == core.SessionModeBearerExchange {
		bearer, ok := core.AuthField(installation, cfg.BearerField)
		if !ok {
			return core.Request{}, core.NewAuthorizationError(installation.ID, core.AuthSchemeVendorSession, "", cfg.BearerField)
		}
		headers["Authorization"] = "Bearer " + bearer
	} else {
		credentials := make(map[string]string, len(cfg.CredentialFields))
		missing := []string{}
		for _, field := range cfg.CredentialFields {
			value, ok := core.AuthField(installation, field)
			if !ok {
				missing = append(missing, field)
				continue
			}
			credentials[field] = value
		}
		if len(missing) > 0 {
			return core.Request{}, core.NewAuthorizationError(installation.ID, core.AuthSchemeVendorSession, "", missing...)
		}
		encoded, err := json.Marshal(credentials)
		if err != nil {
			return core.Request{}, err
		}
		body = encoded
	}

	return core.Request{
		Method:    http.MethodPost,
		URL:       loginURL,
		Headers:   headers,
		Body:      body,
		Connector: installation.VendorKey,
		Operation: sessionLoginOperation,
		VendorKey: installation.VendorKey,
		Timeout:   core.DefaultDispatchTimeout,
	}, nil
}

func malformed(installation core.Installation, status int, err error) error {
	return core.NewTokenAcquisitionError(core.TokenAcquisitionMalformedResponse, installation.VendorKey, installation.ID, status, err)
}
