package encryption

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"filippo.io/age"
	"filippo.io/age/armor"

	"jot-go/internal/jot"
	"jot-go/internal/model"
)

// Settings keys for the encryption state. They live in the item store so
// the state travels with the profile, like the client id does.
const (
	SettingEnabled     = "encryption.enabled"
	SettingActiveKeyID = "encryption.activeMasterKeyId"
)

// AgeEncryptor implements jot.Encryptor using filippo.io/age with X25519
// keys. A master key is a sync item whose body carries the public
// recipient in plaintext and the private identity encrypted with the
// user's passphrase using age's scrypt-based passphrase encryption.
// Encrypting items only needs the recipient; the identity stays locked
// until Unlock is called with the passphrase.
type AgeEncryptor struct {
	store jot.Store

	mu          sync.Mutex
	enabled     bool
	activeKeyID string
	recipient   age.Recipient
	identity    age.Identity // nil until unlocked
}

var _ jot.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates an AgeEncryptor reading its state from the
// store settings.
func NewAgeEncryptor(store jot.Store) (*AgeEncryptor, error) {
	e := &AgeEncryptor{store: store}
	if err := e.ReloadMasterKeys(); err != nil {
		return nil, fmt.Errorf("loading encryption state: %w", err)
	}
	return e, nil
}

// GenerateMasterKey creates a new master key item protected by the
// passphrase. The caller is expected to save the item and pass it to
// EnableEncryption; it then syncs to other clients like any item.
func GenerateMasterKey(passphrase string) (*model.Item, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}

	var buf bytes.Buffer
	armorWriter := armor.NewWriter(&buf)

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(armorWriter, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("writing encrypted identity: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encrypted identity: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}

	return &model.Item{
		Kind: model.KindMasterKey,
		Body: identity.Recipient().String() + "\n" + buf.String(),
	}, nil
}

// Enabled reports whether end-to-end encryption is on for this client.
func (e *AgeEncryptor) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// EnableEncryption turns encryption on using the given master key item
// as the active key and persists that choice in the settings.
func (e *AgeEncryptor) EnableEncryption(masterKey *model.Item) error {
	recipient, _, err := parseMasterKeyBody(masterKey.Body)
	if err != nil {
		return fmt.Errorf("parsing master key %s: %w", masterKey.ID, err)
	}

	if err := e.store.SetSetting(SettingEnabled, "1"); err != nil {
		return fmt.Errorf("saving encryption setting: %w", err)
	}
	if err := e.store.SetSetting(SettingActiveKeyID, masterKey.ID); err != nil {
		return fmt.Errorf("saving active master key id: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = true
	e.activeKeyID = masterKey.ID
	e.recipient = recipient
	e.identity = nil
	return nil
}

// ReloadMasterKeys re-reads the encryption settings and the active
// master key item from the store. An enabled state whose key item has
// not arrived yet keeps encryption on but without a usable recipient,
// so uploads fail until the key syncs in.
func (e *AgeEncryptor) ReloadMasterKeys() error {
	enabledValue, err := e.store.Setting(SettingEnabled)
	if err != nil {
		return fmt.Errorf("reading encryption setting: %w", err)
	}
	activeKeyID, err := e.store.Setting(SettingActiveKeyID)
	if err != nil {
		return fmt.Errorf("reading active master key id: %w", err)
	}

	var recipient age.Recipient
	if activeKeyID != "" {
		item, err := e.store.Item(activeKeyID)
		if err != nil {
			return fmt.Errorf("loading master key %s: %w", activeKeyID, err)
		}
		if item != nil {
			recipient, _, err = parseMasterKeyBody(item.Body)
			if err != nil {
				return fmt.Errorf("parsing master key %s: %w", activeKeyID, err)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabledValue == "1"
	e.activeKeyID = activeKeyID
	e.recipient = recipient
	return nil
}

// EncryptItem returns the armored age ciphertext of the item's
// serialized payload, encrypted to the active master key.
func (e *AgeEncryptor) EncryptItem(item *model.Item) (string, error) {
	e.mu.Lock()
	recipient := e.recipient
	enabled := e.enabled
	e.mu.Unlock()

	if !enabled || recipient == nil {
		return "", jot.NewError(jot.CodeNoActiveMasterKey, "no active master key is loaded")
	}

	plaintext, err := model.Serialize(item)
	if err != nil {
		return "", fmt.Errorf("serializing item for encryption: %w", err)
	}

	var buf bytes.Buffer
	armorWriter := armor.NewWriter(&buf)
	w, err := age.Encrypt(armorWriter, recipient)
	if err != nil {
		return "", fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("encrypting item: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := armorWriter.Close(); err != nil {
		return "", fmt.Errorf("finalizing armor: %w", err)
	}
	return buf.String(), nil
}

// Unlock decrypts the active master key's identity with the passphrase
// and keeps it in memory for DecryptItem.
func (e *AgeEncryptor) Unlock(passphrase string) error {
	e.mu.Lock()
	activeKeyID := e.activeKeyID
	e.mu.Unlock()

	if activeKeyID == "" {
		return fmt.Errorf("no active master key configured")
	}
	item, err := e.store.Item(activeKeyID)
	if err != nil {
		return fmt.Errorf("loading master key %s: %w", activeKeyID, err)
	}
	if item == nil {
		return fmt.Errorf("master key %s has not synced to this client yet", activeKeyID)
	}

	_, armored, err := parseMasterKeyBody(item.Body)
	if err != nil {
		return fmt.Errorf("parsing master key %s: %w", activeKeyID, err)
	}

	scryptIdentity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(armor.NewReader(strings.NewReader(armored)), scryptIdentity)
	if err != nil {
		return fmt.Errorf("decrypting master key: %w", err)
	}
	keyData, err := io.ReadAll(decReader)
	if err != nil {
		return fmt.Errorf("reading decrypted master key: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return fmt.Errorf("parsing master key identity: %w", err)
	}
	if len(identities) == 0 {
		return fmt.Errorf("no identities found in master key")
	}

	e.mu.Lock()
	e.identity = identities[0]
	e.mu.Unlock()
	return nil
}

// Unlocked reports whether the private identity is available for
// decryption.
func (e *AgeEncryptor) Unlocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity != nil
}

// DecryptItem decrypts an item's cipher text back into the full item.
// Unlock must have been called first.
func (e *AgeEncryptor) DecryptItem(item *model.Item) (*model.Item, error) {
	e.mu.Lock()
	identity := e.identity
	e.mu.Unlock()

	if identity == nil {
		return nil, fmt.Errorf("master key is locked, unlock it with the passphrase first")
	}
	if !item.EncryptionApplied {
		return nil, fmt.Errorf("item %s is not encrypted", item.ID)
	}

	decReader, err := age.Decrypt(armor.NewReader(strings.NewReader(item.CipherText)), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting item %s: %w", item.ID, err)
	}
	plaintext, err := io.ReadAll(decReader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted item %s: %w", item.ID, err)
	}

	decrypted, err := model.Unserialize(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("parsing decrypted item %s: %w", item.ID, err)
	}
	return decrypted, nil
}

// parseMasterKeyBody splits a master key body into the recipient line
// and the armored identity block.
func parseMasterKeyBody(body string) (age.Recipient, string, error) {
	recipientLine, armored, found := strings.Cut(body, "\n")
	if !found {
		return nil, "", fmt.Errorf("master key body has no identity block")
	}

	recipients, err := age.ParseRecipients(strings.NewReader(recipientLine))
	if err != nil {
		return nil, "", fmt.Errorf("parsing recipient: %w", err)
	}
	if len(recipients) == 0 {
		return nil, "", fmt.Errorf("no recipients found in master key")
	}
	return recipients[0], armored, nil
}
