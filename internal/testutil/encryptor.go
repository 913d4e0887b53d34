package testutil

import (
	"jot-go/internal/encryption"
)

// NewTestEncryptor creates a new deterministic encryptor for testing.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}
