package jot

import "jot-go/internal/model"

// Encryptor is the end-to-end encryption side of the engine. The engine
// never touches key material itself: it asks for payload encryption
// during upload and flips encryption on when the first master key arrives
// from a target.
type Encryptor interface {
	// Enabled reports whether end-to-end encryption is on for this
	// client.
	Enabled() bool

	// EnableEncryption turns encryption on using the given master key
	// item as the active key.
	EnableEncryption(masterKey *model.Item) error

	// ReloadMasterKeys re-reads master key items from the store.
	ReloadMasterKeys() error

	// EncryptItem returns the cipher text for an item's serialized
	// payload. Returns a noActiveMasterKey coded error when no usable key
	// is loaded.
	EncryptItem(item *model.Item) (string, error)
}

// NopEncryptor is an Encryptor for clients without end-to-end encryption
// configured.
type NopEncryptor struct{}

func (NopEncryptor) Enabled() bool { return false }

func (NopEncryptor) EnableEncryption(*model.Item) error { return nil }

func (NopEncryptor) ReloadMasterKeys() error { return nil }

func (NopEncryptor) EncryptItem(*model.Item) (string, error) {
	return "", NewError(CodeNoActiveMasterKey, "encryption is not configured on this client")
}

// ShareService performs share housekeeping after a successful run. Its
// failures never fail the sync.
type ShareService interface {
	Maintenance() error
}
