package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[InvokeOperationMessage]   = (*InvokeOperationCommand)(nil)
	_ gocmd.Commander[ExecuteRefreshMessage]    = (*ExecuteRefreshCommand)(nil)
	_ gocmd.Commander[RunRefreshMessage]        = (*RunRefreshCommand)(nil)
	_ gocmd.Commander[EnqueueRefreshMessage]    = (*EnqueueRefreshCommand)(nil)
	_ gocmd.Commander[UpdateAuthFormMessage]    = (*UpdateAuthFormCommand)(nil)
	_ gocmd.Commander[UpdateCachedTokenMessage] = (*UpdateCachedTokenCommand)(nil)
)
