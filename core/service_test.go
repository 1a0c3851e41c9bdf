package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type serviceFixture struct {
	svc      *Service
	repo     *memoryInstallationRepository
	clock    *fakeClock
	acquirer *countingAcquirer
	sender   *scriptedSender
	metrics  *captureMetricsRecorder
}

func newServiceFixture(t *testing.T, sender *scriptedSender, installations ...Installation) *serviceFixture {
	t.Helper()
	fx := &serviceFixture{
		repo:     newMemoryInstallationRepository(installations...),
		clock:    newFakeClock(),
		acquirer: &countingAcquirer{scheme: AuthSchemeOAuth2, expiresIn: time.Hour},
		sender:   sender,
		metrics:  &captureMetricsRecorder{},
	}
	svc, err := NewService(DefaultConfig(),
		WithLogger(stubLogger{}),
		WithMetricsRecorder(fx.metrics),
		WithClock(fx.clock),
		WithInstallationRepository(fx.repo),
		WithStrategies(
			headerStrategy{scheme: AuthSchemeAPIKey},
			headerStrategy{scheme: AuthSchemeBasic},
			fx.acquirer,
		),
		WithSender(sender),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	fx.svc = svc
	return fx
}

func TestService_InvokeSendsAuthenticatedRequest(t *testing.T) {
	sender := &scriptedSender{responses: []Response{{StatusCode: 201, Body: []byte(`{"id":"c_1"}`)}}}
	fx := newServiceFixture(t, sender, oauthInstallation("inst_1"))

	decision, err := fx.svc.Invoke(context.Background(), InvokeRequest{
		InstallationID: "inst_1",
		Connector:      "acme",
		Operation:      "create_contact",
		Method:         "post",
		URL:            "https://api.acme.example/contacts",
		Body:           []byte(`{"name":"n"}`),
	})
	if err != nil || !decision.IsSuccess() {
		t.Fatalf("invoke: %s %v", decision.Kind, err)
	}
	sent := sender.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one request, got %d", len(sent))
	}
	if sent[0].Headers["Authorization"] != "Bearer token-inst_1-1" || sent[0].Method != "POST" {
		t.Fatalf("unexpected request %#v", sent[0])
	}
	if string(decision.Body) != `{"id":"c_1"}` {
		t.Fatalf("expected response body in decision, got %q", decision.Body)
	}
}

func TestService_InvokeRefreshesOnceAfterUnauthorized(t *testing.T) {
	sender := &scriptedSender{responses: []Response{
		{StatusCode: 401, Body: []byte("token revoked")},
		{StatusCode: 200, Body: []byte(`{"ok":true}`)},
	}}
	fx := newServiceFixture(t, sender, oauthInstallation("inst_1"))

	decision, err := fx.svc.Invoke(context.Background(), InvokeRequest{
		InstallationID: "inst_1",
		Connector:      "acme",
		Operation:      "list_contacts",
		URL:            "https://api.acme.example/contacts",
	})
	if err != nil || !decision.IsSuccess() {
		t.Fatalf("expected success after refresh, got %s %v", decision.Kind, err)
	}
	sent := sender.sent()
	if len(sent) != 2 {
		t.Fatalf("expected exactly one re-send, got %d requests", len(sent))
	}
	if sent[1].Headers["Authorization"] != "Bearer token-inst_1-2" {
		t.Fatalf("expected re-send with the refreshed token, got %q", sent[1].Headers["Authorization"])
	}
	if fx.acquirer.count() != 2 {
		t.Fatalf("expected initial acquisition plus one forced refresh, got %d", fx.acquirer.count())
	}
	if !hasDecisionCounter(fx.metrics.counters, DecisionRetryNow) {
		t.Fatalf("expected retry_now decision to be recorded")
	}
}

// rotatingAcquirer issues a new refresh token with every grant and rejects any
// refresh token it has already accepted.
type rotatingAcquirer struct {
	mu        sync.Mutex
	presented []string
}

func (a *rotatingAcquirer) Scheme() AuthScheme { return AuthSchemeOAuth2 }

func (a *rotatingAcquirer) Authorize(_ context.Context, in AuthorizeInput) (AuthRequest, error) {
	return AuthRequest{Headers: map[string]string{"Authorization": "Bearer " + in.Token.AccessToken}}, nil
}

func (a *rotatingAcquirer) Acquire(_ context.Context, in AcquireInput) (TokenGrant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	refreshToken := RefreshTokenOf(in.Installation, in.Profile)
	for _, used := range a.presented {
		if used == refreshToken {
			return TokenGrant{}, fmt.Errorf("refresh token %s already used", refreshToken)
		}
	}
	a.presented = append(a.presented, refreshToken)
	next := len(a.presented)
	return TokenGrant{
		AccessToken:  fmt.Sprintf("T%d", next),
		RefreshToken: fmt.Sprintf("rt-%d", next+1),
		ExpiresIn:    time.Hour,
	}, nil
}

func TestService_InvokeUnauthorizedRefreshesFromPersistedToken(t *testing.T) {
	installation := oauthInstallation("inst_1")
	installation.CachedToken = &CachedToken{
		AccessToken: "stale",
		IssuedAt:    testEpoch.Add(-2 * time.Hour),
		ExpiresAt:   timePtr(testEpoch.Add(-time.Minute)),
		Version:     1,
	}
	repo := newMemoryInstallationRepository(installation)
	sender := &scriptedSender{responses: []Response{
		{StatusCode: 401, Body: []byte("token revoked")},
		{StatusCode: 200, Body: []byte(`{"ok":true}`)},
	}}
	acquirer := &rotatingAcquirer{}
	svc, err := NewService(DefaultConfig(),
		WithLogger(stubLogger{}),
		WithClock(newFakeClock()),
		WithInstallationRepository(repo),
		WithStrategies(acquirer),
		WithSender(sender),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	decision, err := svc.Invoke(context.Background(), InvokeRequest{InstallationID: "inst_1", URL: "https://api.acme.example/me"})
	if err != nil || !decision.IsSuccess() {
		t.Fatalf("expected success after refresh, got %s %v", decision.Kind, err)
	}
	if len(acquirer.presented) != 2 || acquirer.presented[0] != "rt-1" || acquirer.presented[1] != "rt-2" {
		t.Fatalf("expected rotated refresh tokens [rt-1 rt-2], got %v", acquirer.presented)
	}
	if got := sender.sent()[1].Headers["Authorization"]; got != "Bearer T2" {
		t.Fatalf("expected re-send with the second token, got %q", got)
	}
	if persisted := repo.get("inst_1"); persisted.CachedToken.Version != 3 || persisted.CachedToken.RefreshToken != "rt-3" {
		t.Fatalf("expected version 3 carrying rt-3, got %#v", persisted.CachedToken)
	}
}

func TestService_InvokeUnauthorizedTwiceIsFatal(t *testing.T) {
	sender := &scriptedSender{responses: []Response{{StatusCode: 401, Body: []byte("nope")}}}
	fx := newServiceFixture(t, sender, oauthInstallation("inst_1"))

	decision, err := fx.svc.Invoke(context.Background(), InvokeRequest{InstallationID: "inst_1", URL: "https://api.acme.example/me"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if decision.Kind != DecisionFatal || len(sender.sent()) != 2 {
		t.Fatalf("expected fatal after a single re-send, got %s with %d sends", decision.Kind, len(sender.sent()))
	}
}

func TestService_InvokeUnauthorizedStatelessSchemeIsNotRetried(t *testing.T) {
	sender := &scriptedSender{responses: []Response{{StatusCode: 401, Body: []byte("bad key")}}}
	fx := newServiceFixture(t, sender, apiKeyInstallation("inst_key", "k"))

	decision, err := fx.svc.Invoke(context.Background(), InvokeRequest{InstallationID: "inst_key", URL: "https://keyed.example/me"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if decision.Kind != DecisionFatal || len(sender.sent()) != 1 {
		t.Fatalf("expected fatal without re-send, got %s with %d sends", decision.Kind, len(sender.sent()))
	}
}

func TestService_InvokePreDispatchFailures(t *testing.T) {
	sender := &scriptedSender{}
	fx := newServiceFixture(t, sender, apiKeyInstallation("inst_nokey", ""))
	ctx := context.Background()

	if _, err := fx.svc.Invoke(ctx, InvokeRequest{InstallationID: "missing", URL: "https://x.example"}); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := fx.svc.Invoke(ctx, InvokeRequest{InstallationID: "inst_nokey", URL: "https://x.example"}); !IsAuthorizationError(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if len(sender.sent()) != 0 {
		t.Fatalf("expected nothing dispatched")
	}
}

func TestService_AuthorizationQueries(t *testing.T) {
	fx := newServiceFixture(t, &scriptedSender{}, oauthInstallation("inst_1"), apiKeyInstallation("inst_nokey", ""))
	ctx := context.Background()

	if ok, err := fx.svc.IsAuthorized(ctx, "inst_1"); err != nil || !ok {
		t.Fatalf("expected inst_1 authorized, got %v %v", ok, err)
	}
	if ok, err := fx.svc.IsAuthorized(ctx, "inst_nokey"); err != nil || ok {
		t.Fatalf("expected inst_nokey unauthorized, got %v %v", ok, err)
	}
	if state, err := fx.svc.TokenState(ctx, "inst_1"); err != nil || state != TokenStateAbsent {
		t.Fatalf("expected absent token, got %s %v", state, err)
	}
	if _, err := fx.svc.ResolveAuthHeader(ctx, "inst_1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if state, _ := fx.svc.TokenState(ctx, "inst_1"); state != TokenStateValid {
		t.Fatalf("expected valid token after resolve, got %s", state)
	}
}

func TestService_UpdateAuthFormInvalidatesToken(t *testing.T) {
	fx := newServiceFixture(t, &scriptedSender{}, oauthInstallation("inst_1"))
	ctx := context.Background()
	if _, err := fx.svc.ResolveAuthHeader(ctx, "inst_1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	updated, err := fx.svc.UpdateAuthForm(ctx, "inst_1", map[string]string{
		"client_id":     "cid-2",
		"client_secret": "secret-2",
		"refresh_token": "rt-2",
	})
	if err != nil {
		t.Fatalf("update auth form: %v", err)
	}
	if updated.CachedToken != nil {
		t.Fatalf("expected cached token cleared")
	}
	if _, err := fx.svc.ResolveAuthHeader(ctx, "inst_1"); err != nil {
		t.Fatalf("resolve after update: %v", err)
	}
	if fx.acquirer.count() != 2 {
		t.Fatalf("expected new acquisition after credentials change, got %d", fx.acquirer.count())
	}
}

func TestService_UpdateCachedToken(t *testing.T) {
	fx := newServiceFixture(t, &scriptedSender{}, oauthInstallation("inst_1"))
	updated, err := fx.svc.UpdateCachedToken(context.Background(), "inst_1", TokenGrant{AccessToken: "pushed", ExpiresIn: time.Minute})
	if err != nil {
		t.Fatalf("update cached token: %v", err)
	}
	if updated.CachedToken.AccessToken != "pushed" || !updated.ExpiresAt.Equal(testEpoch.Add(time.Minute)) {
		t.Fatalf("unexpected token %#v", updated.CachedToken)
	}
}

func TestService_RefreshOperations(t *testing.T) {
	fx := newServiceFixture(t, &scriptedSender{},
		expiringInstallation("soon", 10*time.Minute),
		expiringInstallation("later", 3*time.Hour),
	)
	ctx := context.Background()

	units, err := fx.svc.ScanRefresh(ctx, 0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(units) != 1 || units[0].InstallationID != "soon" {
		t.Fatalf("expected configured horizon to select soon, got %#v", units)
	}

	enqueuer := &recordingEnqueuer{}
	count, err := fx.svc.EnqueueRefresh(ctx, 0, enqueuer)
	if err != nil || count != 1 {
		t.Fatalf("enqueue: %d %v", count, err)
	}
	if err := fx.svc.HandleRefreshJob(ctx, enqueuer.messages[0]); err != nil {
		t.Fatalf("handle job: %v", err)
	}
	if fx.repo.get("soon").CachedToken.Version != 2 {
		t.Fatalf("expected job to refresh soon")
	}
	if err := fx.svc.HandleRefreshJob(ctx, &JobExecutionMessage{JobID: "unrelated"}); err == nil {
		t.Fatalf("expected foreign job to be rejected")
	}

	fx.clock.Advance(3 * time.Hour)
	result, err := fx.svc.RunRefresh(ctx)
	if err != nil {
		t.Fatalf("run refresh: %v", err)
	}
	if result.Scanned != 2 || result.Refreshed != 2 {
		t.Fatalf("expected both installations refreshed, got %#v", result)
	}
}
