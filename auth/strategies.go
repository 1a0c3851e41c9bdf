package auth

import (
	"net/http"

	"github.com/goliatone/go-integrations/core"
)

// DefaultStrategies returns one strategy per supported auth scheme. sender
// carries vendor session logins; client carries OAuth2 token requests.
func DefaultStrategies(sender core.Sender, client *http.Client) []core.AuthStrategy {
	return []core.AuthStrategy{
		NewAPIKeyStrategy(),
		NewBasicStrategy(),
		NewOAuth2RefreshStrategy(client),
		NewVendorSessionStrategy(sender),
	}
}
