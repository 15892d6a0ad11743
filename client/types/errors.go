package types

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by repositories, services and the HTTP API.
// Callers match with errors.Is; the message chain carries the detail.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrAddressLocked          = errors.New("public address is locked")
	ErrLabelsIncomplete       = errors.New("signer labels are incomplete")
	ErrRegistryIncomplete     = errors.New("signer registry is incomplete")
	ErrInvalidToken           = errors.New("invalid auto-config token")
	ErrStaleSyncData          = errors.New("sync data is stale")
	ErrInsufficientSignatures = errors.New("not enough signatures")
	ErrTransport              = errors.New("transport failure")
	ErrCryptoEngine           = errors.New("crypto engine failure")
)

// WrapTransport marks an error as coming from the transport gateway.
// Errors already in the taxonomy pass through unchanged.
func WrapTransport(err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// WrapCryptoEngine marks an error as coming from the wallet engine,
// except for sentinels the engine itself reports (e.g. stale sync data).
func WrapCryptoEngine(err error) error {
	if err == nil || errors.Is(err, ErrCryptoEngine) || errors.Is(err, ErrStaleSyncData) ||
		errors.Is(err, ErrInsufficientSignatures) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCryptoEngine, err)
}
