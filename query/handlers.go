package query

import (
	"context"
	"time"

	"github.com/goliatone/go-integrations/core"
)

type InstallationReader interface {
	GetInstallation(ctx context.Context, id string) (core.Installation, error)
}

type AuthReader interface {
	ResolveAuthHeader(ctx context.Context, id string) (core.AuthRequest, error)
	IsAuthorized(ctx context.Context, id string) (bool, error)
	TokenState(ctx context.Context, id string) (core.TokenState, error)
}

type RefreshScanner interface {
	ScanRefresh(ctx context.Context, horizon time.Duration) ([]core.RefreshUnit, error)
}

type GetInstallationQuery struct {
	reader InstallationReader
}

func NewGetInstallationQuery(reader InstallationReader) *GetInstallationQuery {
	return &GetInstallationQuery{reader: reader}
}

func (q *GetInstallationQuery) Query(ctx context.Context, msg GetInstallationMessage) (core.Installation, error) {
	if q == nil || q.reader == nil {
		return core.Installation{}, queryDependencyError("query: installation reader is required")
	}
	return q.reader.GetInstallation(ctx, msg.InstallationID)
}

// ResolveAuthHeaderQuery returns the headers and query parameters that
// authenticate a vendor request. It may acquire and persist a fresh token.
type ResolveAuthHeaderQuery struct {
	reader AuthReader
}

func NewResolveAuthHeaderQuery(reader AuthReader) *ResolveAuthHeaderQuery {
	return &ResolveAuthHeaderQuery{reader: reader}
}

func (q *ResolveAuthHeaderQuery) Query(ctx context.Context, msg ResolveAuthHeaderMessage) (core.AuthRequest, error) {
	if q == nil || q.reader == nil {
		return core.AuthRequest{}, queryDependencyError("query: auth reader is required")
	}
	return q.reader.ResolveAuthHeader(ctx, msg.InstallationID)
}

type IsAuthorizedQuery struct {
	reader AuthReader
}

func NewIsAuthorizedQuery(reader AuthReader) *IsAuthorizedQuery {
	return &IsAuthorizedQuery{reader: reader}
}

func (q *IsAuthorizedQuery) Query(ctx context.Context, msg IsAuthorizedMessage) (bool, error) {
	if q == nil || q.reader == nil {
		return false, queryDependencyError("query: auth reader is required")
	}
	return q.reader.IsAuthorized(ctx, msg.InstallationID)
}

type TokenStateQuery struct {
	reader AuthReader
}

func NewTokenStateQuery(reader AuthReader) *TokenStateQuery {
	return &TokenStateQuery{reader: reader}
}

func (q *TokenStateQuery) Query(ctx context.Context, msg TokenStateMessage) (core.TokenState, error) {
	if q == nil || q.reader == nil {
		return "", queryDependencyError("query: auth reader is required")
	}
	return q.reader.TokenState(ctx, msg.InstallationID)
}

type ScanRefreshQuery struct {
	scanner RefreshScanner
}

func NewScanRefreshQuery(scanner RefreshScanner) *ScanRefreshQuery {
	return &ScanRefreshQuery{scanner: scanner}
}

func (q *ScanRefreshQuery) Query(ctx context.Context, msg ScanRefreshMessage) ([]core.RefreshUnit, error) {
	if q == nil || q.scanner == nil {
		return nil, queryDependencyError("query: refresh scanner is required")
	}
	return q.scanner.ScanRefresh(ctx, msg.Horizon)
}
