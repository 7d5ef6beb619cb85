package reactor

import custom_err "github.com/Viet-ph/reactor/internal/error"

// Errors a handle's OnClose may receive, or a task may return.
var (
	ErrDescriptorLimit   = custom_err.ErrorDescriptorLimit
	ErrInvalidDescriptor = custom_err.ErrorInvalidDescriptor
	ErrNotRegistered     = custom_err.ErrorNotRegistered
	ErrBackendClosed     = custom_err.ErrorBackendClosed
	ErrRequeueTask       = custom_err.ErrorRequeueTask
)
