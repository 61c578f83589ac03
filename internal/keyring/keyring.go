// Package keyring stores the Gemini API key in the OS credential store.
package keyring

import (
	"errors"
	"fmt"
	"strings"

	zkeyring "github.com/zalando/go-keyring"
)

const (
	serviceName    = "LorekeeperTRPG"
	credentialUser = "gemini_api_key"
)

// ErrNoService reports that no OS keyring backend is available. Callers are
// expected to surface it as a distinct, non-fatal condition.
var ErrNoService = errors.New("keyring service unavailable")

// Store wraps the OS credential store with a fixed service/user pair.
type Store struct {
	service string
	user    string
}

func NewStore() *Store {
	return &Store{service: serviceName, user: credentialUser}
}

// Save stores the secret. Saving an empty secret deletes any stored value.
// The returned message is suitable for direct display to the user.
func (s *Store) Save(secret string) (bool, string) {
	if secret == "" {
		return s.Delete()
	}
	if err := zkeyring.Set(s.service, s.user, secret); err != nil {
		if isNoService(err) {
			return false, "No OS keyring service found; the API key could not be stored securely."
		}
		return false, fmt.Sprintf("Failed to store the API key: %v", err)
	}
	return true, "API key stored securely."
}

// Get returns the stored secret, or "" when none is stored. A missing keyring
// backend is reported as ErrNoService.
func (s *Store) Get() (string, error) {
	secret, err := zkeyring.Get(s.service, s.user)
	if err != nil {
		if errors.Is(err, zkeyring.ErrNotFound) {
			return "", nil
		}
		if isNoService(err) {
			return "", ErrNoService
		}
		return "", fmt.Errorf("read credential: %w", err)
	}
	return secret, nil
}

// Delete removes the stored secret. Deleting an absent secret succeeds so the
// caller's flow stays simple.
func (s *Store) Delete() (bool, string) {
	err := zkeyring.Delete(s.service, s.user)
	switch {
	case err == nil:
		return true, "Stored API key removed."
	case errors.Is(err, zkeyring.ErrNotFound):
		return true, "No API key was stored."
	case isNoService(err):
		return false, "No OS keyring service found; nothing could be removed."
	default:
		return false, fmt.Sprintf("Failed to remove the API key: %v", err)
	}
}

func isNoService(err error) bool {
	if errors.Is(err, zkeyring.ErrUnsupportedPlatform) {
		return true
	}
	// On Linux an absent Secret Service surfaces as a generic D-Bus error
	// rather than a typed sentinel, so match the failure text.
	msg := err.Error()
	return strings.Contains(msg, "org.freedesktop.secrets") ||
		strings.Contains(msg, "org.freedesktop.DBus.Error.ServiceUnknown") ||
		strings.Contains(msg, "couldn't determine address of session bus")
}
