package engine

import (
	"errors"

	"github.com/Atanda1/offramp/pkg/engine/registry"
)

// Failure kinds. Every precondition violation rejects the whole operation
// synchronously with one of these; no partial state is ever applied.
var (
	ErrUnauthorized           = registry.ErrUnauthorized
	ErrInvalidAddress         = registry.ErrInvalidAddress
	ErrSenderNotAllowed       = errors.New("sender is not on the allow-list")
	ErrUnsupportedInstitution = errors.New("unsupported institution code")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrOrderAlreadySettled    = errors.New("order already settled")
	ErrInvalidBPS             = errors.New("settle basis points out of range")
	ErrTransferFailed         = errors.New("fund transfer failed")
	ErrOrderNotFound          = errors.New("order not found")
)
