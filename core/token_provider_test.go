package core

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestTokenProvider_BasicNeedsNoAcquisition(t *testing.T) {
	installation := Installation{
		ID:               "inst_basic",
		VendorKey:        "basic-vendor",
		AuthScheme:       AuthSchemeBasic,
		AuthFormSettings: map[string]string{"username": "u", "password": "p"},
		Enabled:          true,
	}
	fx := newCoreFixture(installation)

	auth, err := fx.tokens.ResolveAuthHeader(context.Background(), installation)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("u:p"))
	if got := auth.Header("Authorization"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if fx.acquirer.count() != 0 || fx.repo.persists != 0 {
		t.Fatalf("expected no acquisition and no persistence")
	}
}

func TestTokenProvider_MissingAPIKeyIsAuthorizationError(t *testing.T) {
	installation := apiKeyInstallation("inst_key", "")
	fx := newCoreFixture(installation)

	if fx.store.IsAuthorized(installation) {
		t.Fatalf("expected installation without api key to be unauthorized")
	}
	_, err := fx.tokens.ResolveAuthHeader(context.Background(), installation)
	if !IsAuthorizationError(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) || len(authErr.Missing) != 1 || authErr.Missing[0] != "api_key" {
		t.Fatalf("expected api_key to be reported missing, got %#v", authErr)
	}
}

func TestTokenProvider_ReusesValidCachedToken(t *testing.T) {
	installation := oauthInstallation("inst_1")
	installation.CachedToken = &CachedToken{
		AccessToken: "cached",
		IssuedAt:    testEpoch.Add(-time.Minute),
		ExpiresAt:   timePtr(testEpoch.Add(time.Minute)),
		Version:     4,
	}
	fx := newCoreFixture(installation)

	auth, err := fx.tokens.ResolveAuthHeader(context.Background(), installation)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := auth.Header("Authorization"); got != "Bearer cached" {
		t.Fatalf("expected cached bearer, got %q", got)
	}
	if fx.acquirer.count() != 0 {
		t.Fatalf("expected zero acquisitions, got %d", fx.acquirer.count())
	}
}

func TestTokenProvider_RefreshesExpiredOrAbsentToken(t *testing.T) {
	expired := oauthInstallation("inst_expired")
	expired.CachedToken = &CachedToken{
		AccessToken: "stale",
		IssuedAt:    testEpoch.Add(-2 * time.Hour),
		ExpiresAt:   timePtr(testEpoch),
		Version:     1,
	}
	absent := oauthInstallation("inst_absent")

	for _, installation := range []Installation{expired, absent} {
		t.Run(installation.ID, func(t *testing.T) {
			fx := newCoreFixture(installation)
			auth, err := fx.tokens.ResolveAuthHeader(context.Background(), installation)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if fx.acquirer.count() != 1 {
				t.Fatalf("expected exactly one acquisition, got %d", fx.acquirer.count())
			}
			want := "Bearer token-" + installation.ID + "-1"
			if got := auth.Header("Authorization"); got != want {
				t.Fatalf("expected %q, got %q", want, got)
			}
			persisted := fx.repo.get(installation.ID)
			if persisted.CachedToken == nil || persisted.CachedToken.AccessToken != "token-"+installation.ID+"-1" {
				t.Fatalf("expected new token to be persisted, got %#v", persisted.CachedToken)
			}
		})
	}
}

func TestTokenProvider_SecondCallWithinLifetimeReusesToken(t *testing.T) {
	fx := newCoreFixture(oauthInstallation("inst_1"))
	ctx := context.Background()

	if _, err := fx.tokens.ResolveAuthHeader(ctx, fx.repo.get("inst_1")); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	fx.clock.Advance(59 * time.Minute)
	if _, err := fx.tokens.ResolveAuthHeader(ctx, fx.repo.get("inst_1")); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if fx.acquirer.count() != 1 {
		t.Fatalf("expected one acquisition inside the hour, got %d", fx.acquirer.count())
	}

	fx.clock.Advance(time.Minute)
	if _, err := fx.tokens.ResolveAuthHeader(ctx, fx.repo.get("inst_1")); err != nil {
		t.Fatalf("third resolve: %v", err)
	}
	if fx.acquirer.count() != 2 {
		t.Fatalf("expected refresh exactly at expiry, got %d acquisitions", fx.acquirer.count())
	}
}

func TestTokenProvider_FixedLifetimeSession(t *testing.T) {
	installation := Installation{
		ID:               "inst_session",
		VendorKey:        "fixed",
		AuthScheme:       AuthSchemeVendorSession,
		AuthFormSettings: map[string]string{"username": "u", "password": "p"},
		CachedToken:      &CachedToken{AccessToken: "S0", IssuedAt: testEpoch, Version: 1},
		Enabled:          true,
	}
	clock := newFakeClock()
	repo := newMemoryInstallationRepository(installation)
	vendors := NewVendorRegistry()
	if err := vendors.Register(VendorProfile{
		Key:     "fixed",
		Scheme:  AuthSchemeVendorSession,
		Session: &SessionConfig{LoginURL: "https://fixed.example/login", Expiry: ExpiryModeFixedLifetime, MaxLifetime: 30 * time.Minute},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	acquirer := &countingAcquirer{scheme: AuthSchemeVendorSession}
	strategies, err := NewStrategyRegistry(acquirer)
	if err != nil {
		t.Fatalf("strategies: %v", err)
	}
	tokens := NewTokenProvider(NewCredentialStore(repo, vendors, clock), strategies)
	ctx := context.Background()

	clock.Advance(29 * time.Minute)
	auth, err := tokens.ResolveAuthHeader(ctx, repo.get("inst_session"))
	if err != nil {
		t.Fatalf("resolve within lifetime: %v", err)
	}
	if acquirer.count() != 0 || auth.Header("Authorization") != "Bearer S0" {
		t.Fatalf("expected cached session within lifetime, got %q after %d calls", auth.Header("Authorization"), acquirer.count())
	}

	clock.Advance(time.Minute)
	if _, err := tokens.ResolveAuthHeader(ctx, repo.get("inst_session")); err != nil {
		t.Fatalf("resolve at lifetime boundary: %v", err)
	}
	if acquirer.count() != 1 {
		t.Fatalf("expected exactly one acquisition once lifetime elapsed, got %d", acquirer.count())
	}
}

func TestTokenProvider_AcquisitionFailures(t *testing.T) {
	t.Run("untyped errors become transport failures", func(t *testing.T) {
		fx := newCoreFixture(oauthInstallation("inst_1"))
		fx.acquirer.err = errors.New("connection reset")
		_, err := fx.tokens.ResolveAuthHeader(context.Background(), fx.repo.get("inst_1"))
		kind, ok := TokenAcquisitionKindOf(err)
		if !ok || kind != TokenAcquisitionTransportFailure {
			t.Fatalf("expected transport failure, got %v (%v)", kind, err)
		}
	})

	t.Run("typed errors pass through", func(t *testing.T) {
		fx := newCoreFixture(oauthInstallation("inst_1"))
		fx.acquirer.err = NewTokenAcquisitionError(TokenAcquisitionUnsuccessfulLogin, "acme", "inst_1", 401, nil)
		_, err := fx.tokens.ResolveAuthHeader(context.Background(), fx.repo.get("inst_1"))
		if kind, _ := TokenAcquisitionKindOf(err); kind != TokenAcquisitionUnsuccessfulLogin {
			t.Fatalf("expected unsuccessful login, got %v", err)
		}
	})

	t.Run("empty token is malformed", func(t *testing.T) {
		fx := newCoreFixture(oauthInstallation("inst_1"))
		fx.acquirer.tokens = []string{""}
		_, err := fx.tokens.ResolveAuthHeader(context.Background(), fx.repo.get("inst_1"))
		if kind, _ := TokenAcquisitionKindOf(err); kind != TokenAcquisitionMalformedResponse {
			t.Fatalf("expected malformed response, got %v", err)
		}
		if fx.repo.persists != 0 {
			t.Fatalf("expected failed acquisition not to persist")
		}
	})
}

func TestTokenProvider_ForceRefreshBypassesValidity(t *testing.T) {
	installation := oauthInstallation("inst_1")
	installation.CachedToken = &CachedToken{AccessToken: "fresh", IssuedAt: testEpoch, ExpiresAt: timePtr(testEpoch.Add(time.Hour)), Version: 1}
	fx := newCoreFixture(installation)

	updated, err := fx.tokens.ForceRefresh(context.Background(), installation)
	if err != nil {
		t.Fatalf("force refresh: %v", err)
	}
	if fx.acquirer.count() != 1 || updated.CachedToken.Version != 2 {
		t.Fatalf("expected forced acquisition, got %d calls and version %d", fx.acquirer.count(), updated.CachedToken.Version)
	}

	stateless := apiKeyInstallation("inst_key", "k")
	same, err := fx.tokens.ForceRefresh(context.Background(), stateless)
	if err != nil || same.ID != "inst_key" || fx.acquirer.count() != 1 {
		t.Fatalf("expected stateless force refresh to be a no-op, got %v", err)
	}
}

func TestTokenProvider_TokenState(t *testing.T) {
	installation := oauthInstallation("inst_1")
	fx := newCoreFixture(installation)

	state, err := fx.tokens.TokenState(installation)
	if err != nil || state != TokenStateAbsent {
		t.Fatalf("expected absent, got %s %v", state, err)
	}
	installation.CachedToken = &CachedToken{AccessToken: "T", IssuedAt: testEpoch, ExpiresAt: timePtr(testEpoch.Add(time.Second))}
	if state, _ = fx.tokens.TokenState(installation); state != TokenStateValid {
		t.Fatalf("expected valid, got %s", state)
	}
	fx.clock.Advance(time.Second)
	if state, _ = fx.tokens.TokenState(installation); state != TokenStateExpired {
		t.Fatalf("expected expired exactly at expiry, got %s", state)
	}
}
