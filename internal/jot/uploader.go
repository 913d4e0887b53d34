package jot

import (
	"fmt"

	"jot-go/internal/model"
)

// maxBatchBytes caps one MultiPut request. Items larger than this are
// uploaded individually.
const maxBatchBytes = 1_000_000

// ItemUploader serializes items and writes them to the target, batching
// small payloads through MultiPut when the backend supports it.
type ItemUploader struct {
	api       Target
	encryptor Encryptor
	logger    Logger

	preUploaded map[string]error
}

func NewItemUploader(api Target, encryptor Encryptor, logger Logger) *ItemUploader {
	return &ItemUploader{
		api:         api,
		encryptor:   encryptor,
		logger:      logger,
		preUploaded: make(map[string]error),
	}
}

// PreUpload serializes the given items and ships them in MultiPut batches
// of up to a megabyte. Per-path outcomes are memoized and replayed by
// SerializeAndUpload, so items that were batched are not uploaded twice.
func (u *ItemUploader) PreUpload(items []*model.Item) error {
	if !u.api.SupportsMultiPut() || len(items) == 0 {
		return nil
	}

	var batch []BatchItem
	size := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		u.logger.Debug("uploading item batch", "items", len(batch), "bytes", size)
		results, err := u.api.MultiPut(batch)
		if err != nil {
			return fmt.Errorf("uploading item batch: %w", err)
		}
		for _, it := range batch {
			u.preUploaded[it.Path] = results[it.Path]
		}
		batch = nil
		size = 0
		return nil
	}

	for _, item := range items {
		// Resources upload their blob before their metadata, so they
		// cannot go out with a batch.
		if item.Kind == model.KindResource {
			continue
		}
		content, err := u.serializeForSync(item)
		if err != nil {
			// the per-item upload will hit the same error and classify it
			continue
		}
		if len(content) > maxBatchBytes {
			continue
		}
		if size+len(content) > maxBatchBytes {
			if err := flush(); err != nil {
				return err
			}
		}
		batch = append(batch, BatchItem{Path: model.SystemPath(item), Content: []byte(content)})
		size += len(content)
	}
	return flush()
}

// SerializeAndUpload writes one item to its remote path, replaying the
// memoized result when the item went out with a pre-upload batch.
func (u *ItemUploader) SerializeAndUpload(item *model.Item, path string) error {
	if result, ok := u.preUploaded[path]; ok {
		if result != nil {
			return fmt.Errorf("uploading item %s: %w", item.ID, result)
		}
		return nil
	}
	content, err := u.serializeForSync(item)
	if err != nil {
		return err
	}
	if err := u.api.Put(path, []byte(content), &PutOptions{ShareID: item.ShareID}); err != nil {
		return fmt.Errorf("uploading item %s: %w", item.ID, err)
	}
	return nil
}

// serializeForSync renders the item for the wire, encrypting the payload
// when end-to-end encryption is on. Master keys and shared items always
// go out in clear.
func (u *ItemUploader) serializeForSync(item *model.Item) (string, error) {
	if u.encryptor.Enabled() && item.Kind != model.KindMasterKey && item.ShareID == "" {
		if item.EncryptionApplied {
			return "", NewError(CodeCannotEncryptEncrypted, fmt.Sprintf("item %s is already encrypted", item.ID))
		}
		cipher, err := u.encryptor.EncryptItem(item)
		if err != nil {
			return "", fmt.Errorf("encrypting item %s: %w", item.ID, err)
		}
		enc := item.Clone()
		enc.EncryptionApplied = true
		enc.CipherText = cipher
		return model.Serialize(enc)
	}
	return model.Serialize(item)
}
