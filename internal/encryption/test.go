package encryption

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"jot-go/internal/jot"
	"jot-go/internal/model"
)

// testCipherPrefix marks cipher text produced by TestEncryptor so
// encrypted output is clearly different from plaintext while remaining
// deterministic and reversible.
const testCipherPrefix = "JOTENC:"

// TestEncryptor is a simple, deterministic encryptor for testing. It
// base64-encodes the serialized item behind a fixed prefix instead of
// doing real crypto, so tests can reverse it without a passphrase.
type TestEncryptor struct {
	mu          sync.Mutex
	enabled     bool
	activeKeyID string
	reloads     int
}

var _ jot.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a TestEncryptor with encryption off.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

func (e *TestEncryptor) EnableEncryption(masterKey *model.Item) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = true
	e.activeKeyID = masterKey.ID
	return nil
}

func (e *TestEncryptor) ReloadMasterKeys() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reloads++
	return nil
}

func (e *TestEncryptor) EncryptItem(item *model.Item) (string, error) {
	e.mu.Lock()
	enabled := e.enabled
	e.mu.Unlock()

	if !enabled {
		return "", jot.NewError(jot.CodeNoActiveMasterKey, "no active master key is loaded")
	}
	plaintext, err := model.Serialize(item)
	if err != nil {
		return "", fmt.Errorf("serializing item for encryption: %w", err)
	}
	return testCipherPrefix + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
}

// DecryptItem reverses EncryptItem. Only meaningful for cipher text the
// TestEncryptor produced itself.
func (e *TestEncryptor) DecryptItem(item *model.Item) (*model.Item, error) {
	encoded, found := strings.CutPrefix(item.CipherText, testCipherPrefix)
	if !found {
		return nil, fmt.Errorf("invalid test cipher text on item %s", item.ID)
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding test cipher text: %w", err)
	}
	decrypted, err := model.Unserialize(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("parsing decrypted item %s: %w", item.ID, err)
	}
	return decrypted, nil
}

// ActiveKeyID returns the id of the master key passed to
// EnableEncryption.
func (e *TestEncryptor) ActiveKeyID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeKeyID
}

// Reloads returns how many times ReloadMasterKeys was called.
func (e *TestEncryptor) Reloads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reloads
}
