// Package credentials stores the account password, trying the OS keyring
// first and falling back to the config file's own hex-obfuscated storage
// (spec §6: save_pass / pass fields) when no keyring is available.
package credentials

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dusong7/nmail-go/internal/crypto"
	"github.com/dusong7/nmail-go/internal/logging"
	"github.com/rs/zerolog"
	gokeyring "github.com/zalando/go-keyring"
)

const serviceName = "nmail"

// ErrCredentialNotFound is returned when no password is stored for an
// account in either the keyring or the fallback path.
var ErrCredentialNotFound = errors.New("credentials: not found")

// Store persists a single account's password. It is not a general
// credential manager: nmail has exactly one account per configuration
// directory (spec §6), so every method is keyed by the account's username.
type Store struct {
	keyringEnabled bool
	log            zerolog.Logger
}

// NewStore probes the OS keyring and returns a Store that prefers it,
// falling back to caller-supplied hex-obfuscated storage when the keyring
// is unavailable (headless hosts, containers without a secret service).
func NewStore() *Store {
	log := logging.WithComponent("credentials")

	enabled := testKeyring()
	if enabled {
		log.Info().Msg("OS keyring available, using as primary credential storage")
	} else {
		log.Warn().Msg("OS keyring not available, falling back to config file storage")
	}

	return &Store{keyringEnabled: enabled, log: log}
}

func testKeyring() bool {
	const testKey = "nmail-keyring-check"
	if err := gokeyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	_ = gokeyring.Delete(serviceName, testKey)
	return true
}

// IsKeyringEnabled reports whether the OS keyring is being used as the
// primary storage path.
func (s *Store) IsKeyringEnabled() bool {
	return s.keyringEnabled
}

// SetPassword stores password for user in the OS keyring. Callers without
// a working keyring should use EncodeFallback instead and persist the
// result themselves in the config file's pass field.
func (s *Store) SetPassword(user, password string) error {
	if password == "" {
		return nil
	}
	if !s.keyringEnabled {
		return errors.New("credentials: keyring unavailable, use EncodeFallback")
	}

	if err := gokeyring.Set(serviceName, user, password); err != nil {
		return fmt.Errorf("store in OS keyring: %w", err)
	}

	s.log.Debug().Str("user", user).Msg("password stored in OS keyring")
	return nil
}

// GetPassword retrieves the password stored for user in the OS keyring.
func (s *Store) GetPassword(user string) (string, error) {
	if !s.keyringEnabled {
		return "", ErrCredentialNotFound
	}

	password, err := gokeyring.Get(serviceName, user)
	if err != nil {
		if errors.Is(err, gokeyring.ErrNotFound) {
			return "", ErrCredentialNotFound
		}
		return "", fmt.Errorf("read from OS keyring: %w", err)
	}

	return password, nil
}

// DeletePassword removes the password stored for user in the OS keyring.
func (s *Store) DeletePassword(user string) error {
	if !s.keyringEnabled {
		return nil
	}
	if err := gokeyring.Delete(serviceName, user); err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
		return fmt.Errorf("delete from OS keyring: %w", err)
	}
	return nil
}

// EncodeFallback implements the config file's save_pass obfuscation path
// (spec §6): password is encrypted with the session key derived from user
// as passphrase, then hex-encoded for storage in the pass field.
func EncodeFallback(user, password string) string {
	env := crypto.NewEnvelope([]byte(user))
	ciphertext, err := env.Encrypt([]byte(password))
	if err != nil {
		return ""
	}
	return hex.EncodeToString(ciphertext)
}

// DecodeFallback reverses EncodeFallback: it hex-decodes the pass field
// read from the config file and decrypts it with the session key derived
// from user. An empty value decodes to an empty password; a value that is
// not valid hex or does not decrypt returns an error.
func DecodeFallback(user, encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	ciphertext, err := hex.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode pass field: %w", err)
	}

	env := crypto.NewEnvelope([]byte(user))
	plaintext, err := env.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt pass field: %w", err)
	}

	return string(plaintext), nil
}
