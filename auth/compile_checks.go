package auth

import "github.com/goliatone/go-integrations/core"

var (
	_ core.AuthStrategy  = APIKeyStrategy{}
	_ core.AuthStrategy  = BasicStrategy{}
	_ core.TokenAcquirer = (*OAuth2RefreshStrategy)(nil)
	_ core.TokenAcquirer = (*VendorSessionStrategy)(nil)
	_ AuthResolver       = (*core.Service)(nil)
)
