package encryption

import (
	"fmt"

	"jot-go/internal/config"
	"jot-go/internal/jot"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig, store jot.Store) (jot.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(store)
	case "none":
		return jot.NopEncryptor{}, nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
