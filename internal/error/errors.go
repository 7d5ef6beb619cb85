package custom_err

import "errors"

var (
	ErrorDescriptorLimit   = errors.New("descriptor exceeds backend limit")
	ErrorInvalidDescriptor = errors.New("invalid descriptor")
	ErrorNotRegistered     = errors.New("descriptor not registered with backend")
	ErrorBackendClosed     = errors.New("backend closed")
	ErrorUnknownBackend    = errors.New("unknown backend")

	ErrorNotFullyWritten    = errors.New("data not fully written to socket")
	ErrorClientDisconnected = errors.New("client disconnected")
	ErrorReadingSocket      = errors.New("failed to copy data from kernal space to user space")

	ErrorRequeueTask = errors.New("task executed with failure, needs to be requeued")
)
