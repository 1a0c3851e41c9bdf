package transport

import "github.com/goliatone/go-integrations/core"

var (
	_ core.Sender = (*HTTPSender)(nil)
	_ core.Sender = (*PacedSender)(nil)
	_ core.Sender = (*Router)(nil)
)
