package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var testEpoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryInstallationRepository struct {
	mu       sync.Mutex
	byID     map[string]Installation
	persists int
	scanErr  error
	// unreadable rows are yielded as load errors during scans.
	unreadable map[string]bool
}

func newMemoryInstallationRepository(installations ...Installation) *memoryInstallationRepository {
	repo := &memoryInstallationRepository{byID: map[string]Installation{}}
	for _, installation := range installations {
		repo.byID[installation.ID] = installation.Clone()
	}
	return repo
}

func (r *memoryInstallationRepository) FindByID(_ context.Context, id string) (Installation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	installation, ok := r.byID[id]
	if !ok {
		return Installation{}, false, nil
	}
	return installation.Clone(), true, nil
}

func (r *memoryInstallationRepository) Persist(_ context.Context, installation Installation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[installation.ID] = installation.Clone()
	r.persists++
	return nil
}

func (r *memoryInstallationRepository) FindExpiringBefore(_ context.Context, cutoff time.Time) iter.Seq2[Installation, error] {
	return func(yield func(Installation, error) bool) {
		if r.scanErr != nil {
			yield(Installation{}, r.scanErr)
			return
		}
		r.mu.Lock()
		ids := make([]string, 0, len(r.byID))
		for id, installation := range r.byID {
			if installation.ExpiresAt != nil && !installation.ExpiresAt.After(cutoff) {
				ids = append(ids, id)
			}
		}
		r.mu.Unlock()
		sort.Strings(ids)
		for _, id := range ids {
			if r.unreadable[id] {
				if !yield(Installation{}, NewInstallationLoadError(id, fmt.Errorf("decode: sealed row cannot be opened"))) {
					return
				}
				continue
			}
			installation, ok, _ := r.FindByID(context.Background(), id)
			if !ok {
				continue
			}
			if !yield(installation, nil) {
				return
			}
		}
	}
}

func (r *memoryInstallationRepository) delete(id string) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

func (r *memoryInstallationRepository) get(id string) Installation {
	installation, _, _ := r.FindByID(context.Background(), id)
	return installation
}

// headerStrategy authorizes stateless schemes straight from the auth form.
type headerStrategy struct {
	scheme AuthScheme
}

func (s headerStrategy) Scheme() AuthScheme { return s.scheme }

func (s headerStrategy) Authorize(_ context.Context, in AuthorizeInput) (AuthRequest, error) {
	switch s.scheme {
	case AuthSchemeBasic:
		user, _ := readAuthField(in.Installation, in.Profile.Basic.UsernameField)
		pass, _ := readAuthField(in.Installation, in.Profile.Basic.PasswordField)
		encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		return AuthRequest{Headers: map[string]string{"Authorization": "Basic " + encoded}}, nil
	default:
		key, _ := readAuthField(in.Installation, in.Profile.APIKey.Field)
		return AuthRequest{Headers: map[string]string{in.Profile.APIKey.Name: key}}, nil
	}
}

// countingAcquirer hands out sequential bearer tokens and counts acquisitions.
type countingAcquirer struct {
	scheme    AuthScheme
	calls     atomic.Int32
	expiresIn time.Duration
	err       error
	tokens    []string
}

func (a *countingAcquirer) Scheme() AuthScheme { return a.scheme }

func (a *countingAcquirer) Authorize(_ context.Context, in AuthorizeInput) (AuthRequest, error) {
	if in.Token == nil {
		return AuthRequest{}, fmt.Errorf("token is required")
	}
	return AuthRequest{Headers: map[string]string{"Authorization": "Bearer " + in.Token.AccessToken}}, nil
}

func (a *countingAcquirer) Acquire(_ context.Context, in AcquireInput) (TokenGrant, error) {
	call := int(a.calls.Add(1))
	if a.err != nil {
		return TokenGrant{}, a.err
	}
	token := fmt.Sprintf("token-%s-%d", in.Installation.ID, call)
	if call-1 < len(a.tokens) {
		token = a.tokens[call-1]
	}
	return TokenGrant{AccessToken: token, ExpiresIn: a.expiresIn}, nil
}

func (a *countingAcquirer) count() int { return int(a.calls.Load()) }

type scriptedSender struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	requests  []Request
}

func (s *scriptedSender) Send(_ context.Context, req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := len(s.requests)
	s.requests = append(s.requests, req)
	var err error
	if index < len(s.errs) {
		err = s.errs[index]
	}
	if err != nil {
		return Response{}, err
	}
	if len(s.responses) == 0 {
		return Response{StatusCode: 200}, nil
	}
	if index >= len(s.responses) {
		index = len(s.responses) - 1
	}
	return s.responses[index], nil
}

func (s *scriptedSender) sent() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (p stubLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.values), nil
}

func timePtr(t time.Time) *time.Time { return &t }

func oauthInstallation(id string) Installation {
	return Installation{
		ID:         id,
		UserID:     "usr_1",
		VendorKey:  "acme",
		AuthScheme: AuthSchemeOAuth2,
		AuthFormSettings: map[string]string{
			"client_id":     "cid",
			"client_secret": "secret",
			"refresh_token": "rt-1",
		},
		Enabled: true,
	}
}

func apiKeyInstallation(id string, key string) Installation {
	settings := map[string]string{}
	if strings.TrimSpace(key) != "" {
		settings["api_key"] = key
	}
	return Installation{
		ID:               id,
		UserID:           "usr_1",
		VendorKey:        "keyed",
		AuthScheme:       AuthSchemeAPIKey,
		AuthFormSettings: settings,
		Enabled:          true,
	}
}

type coreFixture struct {
	clock     *fakeClock
	repo      *memoryInstallationRepository
	vendors   *VendorRegistry
	acquirer  *countingAcquirer
	store     *CredentialStore
	tokens    *TokenProvider
	scheduler *RefreshScheduler
}

func newCoreFixture(installations ...Installation) *coreFixture {
	clock := newFakeClock()
	repo := newMemoryInstallationRepository(installations...)
	vendors := NewVendorRegistry()
	acquirer := &countingAcquirer{scheme: AuthSchemeOAuth2, expiresIn: time.Hour}
	strategies, err := NewStrategyRegistry(
		headerStrategy{scheme: AuthSchemeAPIKey},
		headerStrategy{scheme: AuthSchemeBasic},
		acquirer,
	)
	if err != nil {
		panic(err)
	}
	store := NewCredentialStore(repo, vendors, clock)
	tokens := NewTokenProvider(store, strategies)
	return &coreFixture{
		clock:     clock,
		repo:      repo,
		vendors:   vendors,
		acquirer:  acquirer,
		store:     store,
		tokens:    tokens,
		scheduler: NewRefreshScheduler(store, tokens, nil, nil, RefreshConfig{Concurrency: 2}, stubLogger{}),
	}
}
