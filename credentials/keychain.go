package credentials

import (
	"errors"

	keyring "github.com/zalando/go-keyring"
)

// Keychain abstracts the OS credential store so tests can substitute an
// in-memory implementation.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// systemKeychain delegates to the platform keychain (Secret Service,
// macOS Keychain, or Windows Credential Manager).
type systemKeychain struct{}

func (systemKeychain) Get(service, account string) (string, error) {
	return keyring.Get(service, account)
}

func (systemKeychain) Set(service, account, value string) error {
	return keyring.Set(service, account, value)
}

// isKeychainMiss distinguishes an absent entry from a backend failure.
// Misses are expected and not worth a log line.
func isKeychainMiss(err error) bool {
	return errors.Is(err, keyring.ErrNotFound)
}
