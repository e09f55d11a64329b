package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema for protocol configuration.

const (
	prefixInstitution = "inst:"
	prefixRole        = "role:"
	prefixAllowed     = "allow:"
)

// institutionKey returns the key for an institution entry.
// Format: "inst:{code}"
func institutionKey(code string) []byte {
	return []byte(prefixInstitution + code)
}

func institutionPrefix() []byte {
	return []byte(prefixInstitution)
}

// roleKey returns the key for a protocol role holder.
// Format: "role:{name}"
func roleKey(role string) []byte {
	return []byte(prefixRole + role)
}

// allowedKey returns the key for a sender allow-list entry.
// Format: "allow:{address}"
func allowedKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixAllowed, addr.Hex()))
}
