package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
)

var (
	_ gocmd.Querier[GetInstallationMessage, core.Installation]  = (*GetInstallationQuery)(nil)
	_ gocmd.Querier[ResolveAuthHeaderMessage, core.AuthRequest] = (*ResolveAuthHeaderQuery)(nil)
	_ gocmd.Querier[IsAuthorizedMessage, bool]                  = (*IsAuthorizedQuery)(nil)
	_ gocmd.Querier[TokenStateMessage, core.TokenState]         = (*TokenStateQuery)(nil)
	_ gocmd.Querier[ScanRefreshMessage, []core.RefreshUnit]     = (*ScanRefreshQuery)(nil)
)
