package core

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestIntegrationErrorMapper_AssignsStableCodes(t *testing.T) {
	tests := []struct {
		err      error
		textCode string
		category goerrors.Category
	}{
		{stderrors.New("core: installation id is required"), ErrorBadInput, goerrors.CategoryBadInput},
		{stderrors.New("vendor acme is not registered"), ErrorVendorNotRegistered, goerrors.CategoryNotFound},
		{stderrors.New("ratelimit: rate limit exceeded"), ErrorRateLimited, goerrors.CategoryRateLimit},
		{NewNotFoundError("inst_1", false), ErrorInstallationNotFound, goerrors.CategoryNotFound},
		{NewAuthorizationError("inst_1", AuthSchemeAPIKey, "", "api_key"), ErrorAuthorizationRequired, goerrors.CategoryAuth},
		{NewTokenAcquisitionError(TokenAcquisitionMalformedResponse, "acme", "inst_1", 200, nil), ErrorTokenMalformed, goerrors.CategoryExternal},
		{NewTokenAcquisitionError(TokenAcquisitionUnsuccessfulLogin, "acme", "inst_1", 401, nil), ErrorTokenLoginFailed, goerrors.CategoryAuth},
		{NewRetryLaterError(nil, time.Second, time.Second), ErrorRetryLater, goerrors.CategoryExternal},
	}
	for _, tc := range tests {
		t.Run(tc.textCode, func(t *testing.T) {
			mapped := integrationErrorMapper(tc.err)
			if mapped.TextCode != tc.textCode {
				t.Fatalf("expected %q, got %q", tc.textCode, mapped.TextCode)
			}
			if mapped.Category != tc.category {
				t.Fatalf("expected category %q, got %q", tc.category, mapped.Category)
			}
			if mapped.Code == 0 {
				t.Fatalf("expected http status code on mapped error")
			}
		})
	}
}

func TestTypedErrorsSurviveEnvelope(t *testing.T) {
	err := NewTokenAcquisitionError(TokenAcquisitionTransportFailure, "acme", "inst_1", 0, stderrors.New("dial tcp"))
	if kind, ok := TokenAcquisitionKindOf(err); !ok || kind != TokenAcquisitionTransportFailure {
		t.Fatalf("expected transport failure kind through envelope, got %v %v", kind, ok)
	}
	if !strings.Contains(err.Error(), "dial tcp") {
		t.Fatalf("expected cause in message, got %q", err.Error())
	}

	fatal := NewFatalError(&FatalError{Connector: "acme", Operation: "sync", Entries: []VendorError{{Code: "E9", Message: "nope"}}})
	if !IsFatal(fatal) || IsNotFound(fatal) {
		t.Fatalf("expected only fatal predicate to match")
	}
	if !strings.Contains(fatal.Error(), "acme.sync") {
		t.Fatalf("expected connector operation name, got %q", fatal.Error())
	}
}

func TestServiceMethods_MapErrorsToStableCodes(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(Config{}, WithInstallationRepository(newMemoryInstallationRepository()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.GetInstallation(ctx, "")
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", richErr.TextCode)
	}

	_, err = svc.ResolveAuthHeader(ctx, "missing")
	if !goerrors.As(err, &richErr) || richErr.TextCode != ErrorInstallationNotFound {
		t.Fatalf("expected installation not found code, got %v", err)
	}
	if !IsNotFound(err) {
		t.Fatalf("expected typed not found error to stay in the chain")
	}
}
