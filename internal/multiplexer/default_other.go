//go:build !linux && !darwin

package multiplexer

import (
	"fmt"
	"runtime"

	custom_err "github.com/Viet-ph/reactor/internal/error"
)

func New(maxEvents int) (Backend, error) {
	return nil, fmt.Errorf("%s: %w", runtime.GOOS, custom_err.ErrorUnknownBackend)
}
