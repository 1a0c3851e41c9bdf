package core

import (
	"context"
	"fmt"
)

// TokenProvider yields valid request authentication for an installation,
// acquiring and persisting a new token when the cached one is absent or expired.
type TokenProvider struct {
	store      *CredentialStore
	strategies *StrategyRegistry
}

func NewTokenProvider(store *CredentialStore, strategies *StrategyRegistry) *TokenProvider {
	return &TokenProvider{store: store, strategies: strategies}
}

func (p *TokenProvider) ResolveAuthHeader(ctx context.Context, installation Installation) (AuthRequest, error) {
	strategy, profile, err := p.prepare(installation)
	if err != nil {
		return AuthRequest{}, err
	}
	acquirer, cached := strategy.(TokenAcquirer)
	if !cached || !installation.AuthScheme.UsesCachedToken() {
		return strategy.Authorize(ctx, AuthorizeInput{Installation: installation, Profile: profile})
	}

	token := installation.CachedToken
	if !token.ValidAt(profile.Validity(), p.store.Clock().Now()) {
		updated, acquireErr := p.acquire(ctx, acquirer, installation, profile)
		if acquireErr != nil {
			return AuthRequest{}, acquireErr
		}
		installation = updated
		token = updated.CachedToken
	}
	return strategy.Authorize(ctx, AuthorizeInput{
		Installation: installation,
		Profile:      profile,
		Token:        token.Clone(),
	})
}

// ForceRefresh acquires a new token regardless of the cached token validity.
// Schemes without cached tokens return the installation unchanged.
func (p *TokenProvider) ForceRefresh(ctx context.Context, installation Installation) (Installation, error) {
	strategy, profile, err := p.prepare(installation)
	if err != nil {
		return Installation{}, err
	}
	acquirer, cached := strategy.(TokenAcquirer)
	if !cached || !installation.AuthScheme.UsesCachedToken() {
		return installation.Clone(), nil
	}
	return p.acquire(ctx, acquirer, installation, profile)
}

// TokenState reports the cached token state at the store clock.
func (p *TokenProvider) TokenState(installation Installation) (TokenState, error) {
	if p == nil || p.store == nil {
		return "", fmt.Errorf("core: credential store is required")
	}
	profile, err := p.store.Vendors().Resolve(installation)
	if err != nil {
		return "", err
	}
	return TokenStateOf(installation.CachedToken, profile.Validity(), p.store.Clock().Now()), nil
}

func (p *TokenProvider) prepare(installation Installation) (AuthStrategy, VendorProfile, error) {
	if p == nil || p.store == nil {
		return nil, VendorProfile{}, fmt.Errorf("core: credential store is required")
	}
	profile, err := p.store.Vendors().Resolve(installation)
	if err != nil {
		return nil, VendorProfile{}, err
	}
	strategy, ok := p.strategies.Get(installation.AuthScheme)
	if !ok {
		return nil, VendorProfile{}, fmt.Errorf("core: auth strategy for scheme %q is not registered", installation.AuthScheme)
	}
	if missing := missingFields(installation, profile); len(missing) > 0 {
		return nil, VendorProfile{}, NewAuthorizationError(installation.ID, installation.AuthScheme, "", missing...)
	}
	return strategy, profile, nil
}

func (p *TokenProvider) acquire(
	ctx context.Context,
	acquirer TokenAcquirer,
	installation Installation,
	profile VendorProfile,
) (Installation, error) {
	grant, err := acquirer.Acquire(ctx, AcquireInput{
		Installation: installation.Clone(),
		Profile:      profile,
		Now:          p.store.Clock().Now(),
	})
	if err != nil {
		if IsAuthorizationError(err) {
			return Installation{}, err
		}
		if _, typed := TokenAcquisitionKindOf(err); typed {
			return Installation{}, err
		}
		return Installation{}, NewTokenAcquisitionError(
			TokenAcquisitionTransportFailure,
			installation.VendorKey,
			installation.ID,
			0,
			err,
		)
	}
	if grant.AccessToken == "" {
		return Installation{}, NewTokenAcquisitionError(
			TokenAcquisitionMalformedResponse,
			installation.VendorKey,
			installation.ID,
			0,
			fmt.Errorf("core: acquisition returned an empty access token"),
		)
	}
	return p.store.UpdateCachedToken(ctx, installation, grant)
}
