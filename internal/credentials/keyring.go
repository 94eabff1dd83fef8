// Package credentials resolves account passwords from the system keyring.
// It is the default implementation of the credential collaborator the
// email client consumes; environment variables take precedence so headless
// deployments can run without a keyring daemon.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "tuimail"

// Password kinds. The same account may hold distinct IMAP and SMTP secrets.
const (
	KindIMAP = "imap"
	KindSMTP = "smtp"
)

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = errors.New("credentials: password not found")

// KeyringStore resolves passwords from the system keyring, one keyring
// service per password kind.
type KeyringStore struct {
	fileDir string
}

// NewKeyringStore creates a keyring-backed credential store. The file
// backend (used when no system keyring is available) stores entries under
// ~/.config/tuimail/credentials.
func NewKeyringStore() *KeyringStore {
	dir := filepath.Join(".", "credentials")
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", "tuimail", "credentials")
	}
	return &KeyringStore{fileDir: dir}
}

// open returns the keyring for the given password kind.
func (s *KeyringStore) open(kind string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: fmt.Sprintf("%s-%s", serviceName, kind),
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  s.fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return ring, nil
}

// GetPassword returns the stored password for (accountID, kind). The
// environment variable TUIMAIL_<KIND>_PASSWORD overrides the keyring when
// set. Missing entries yield ErrNotFound.
func (s *KeyringStore) GetPassword(accountID, kind string) (string, error) {
	if env := os.Getenv(envVar(kind)); env != "" {
		return env, nil
	}

	ring, err := s.open(kind)
	if err != nil {
		return "", err
	}

	item, err := ring.Get(accountID)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read password for %s/%s: %w", accountID, kind, err)
	}

	return string(item.Data), nil
}

// SetPassword stores a password for (accountID, kind).
func (s *KeyringStore) SetPassword(accountID, kind, password string) error {
	ring, err := s.open(kind)
	if err != nil {
		return err
	}

	if err := ring.Set(keyring.Item{Key: accountID, Data: []byte(password)}); err != nil {
		return fmt.Errorf("failed to store password for %s/%s: %w", accountID, kind, err)
	}
	return nil
}

// DeletePassword removes the stored password for (accountID, kind).
func (s *KeyringStore) DeletePassword(accountID, kind string) error {
	ring, err := s.open(kind)
	if err != nil {
		return err
	}

	if err := ring.Remove(accountID); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete password for %s/%s: %w", accountID, kind, err)
	}
	return nil
}

func envVar(kind string) string {
	return "TUIMAIL_" + strings.ToUpper(kind) + "_PASSWORD"
}
