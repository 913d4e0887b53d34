package target

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"jot-go/internal/jot"
	"jot-go/internal/model"
)

// s3OpTimeout bounds every S3 call. A stalled request surfaces as a
// timeout error and the engine disables the affected item instead of
// hanging the whole run.
const s3OpTimeout = 30 * time.Second

// S3Target stores items as objects in a bucket, optionally under a key
// prefix so one bucket can hold several targets. Object keys mirror the
// file layout of the filesystem target. Resource blobs go through the
// upload manager, which switches to multipart transfers for large
// files.
type S3Target struct {
	id       int
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	clock    jot.Clock
	requestLog

	tempDir string
}

// NewS3Target wraps an S3 client for the given bucket. prefix may be
// empty; a trailing slash is stripped.
func NewS3Target(id int, client *s3.Client, bucket, prefix string, clock jot.Clock) *S3Target {
	if clock == nil {
		clock = jot.RealClock{}
	}
	return &S3Target{
		id:       id,
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.TrimSuffix(prefix, "/"),
		clock:    clock,
	}
}

func (t *S3Target) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s3OpTimeout)
}

func (t *S3Target) key(path string) string {
	if t.prefix == "" {
		return path
	}
	return t.prefix + "/" + path
}

func (t *S3Target) keyPrefix() string {
	if t.prefix == "" {
		return ""
	}
	return t.prefix + "/"
}

// Initialize is a no-op: the bucket is expected to exist, and S3 has no
// directories to create.
func (t *S3Target) Initialize() error {
	t.record(t.clock, "initialize", "")
	return nil
}

// SetTempDirName is a no-op as well; object writes are already atomic.
func (t *S3Target) SetTempDirName(name string) {
	t.tempDir = name
}

func (t *S3Target) Stat(path string) (*jot.RemoteItem, error) {
	t.record(t.clock, "stat", path)
	ctx, cancel := t.opContext()
	defer cancel()

	out, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(path)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("stating s3 object %s: %w", path, err)
	}

	r := &jot.RemoteItem{Path: path}
	if out.LastModified != nil {
		r.UpdatedTime = out.LastModified.UnixMilli()
	}
	if model.IsItemPath(path) {
		r.ID = model.ItemIDFromPath(path)
	}
	return r, nil
}

func (t *S3Target) Get(path string) ([]byte, error) {
	t.record(t.clock, "get", path)
	ctx, cancel := t.opContext()
	defer cancel()

	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(path)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching s3 object %s: %w", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3 object %s: %w", path, err)
	}
	return data, nil
}

func (t *S3Target) Put(path string, content []byte, opts *jot.PutOptions) error {
	t.record(t.clock, "put", path)
	ctx, cancel := t.opContext()
	defer cancel()

	if opts != nil && opts.SourcePath != "" {
		f, err := os.Open(opts.SourcePath)
		if err != nil {
			if os.IsNotExist(err) {
				return jot.NewError(jot.CodeFileNotFound, fmt.Sprintf("source file missing: %s", opts.SourcePath))
			}
			return fmt.Errorf("opening source file: %w", err)
		}
		defer f.Close()

		_, err = t.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(t.key(path)),
			Body:   f,
		})
		if err != nil {
			return fmt.Errorf("uploading s3 object %s: %w", path, err)
		}
		return nil
	}

	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(path)),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return fmt.Errorf("writing s3 object %s: %w", path, err)
	}
	return nil
}

func (t *S3Target) MultiPut([]jot.BatchItem) (map[string]error, error) {
	return nil, fmt.Errorf("s3 target does not support batch uploads")
}

// Delete removes an object. S3 deletes are idempotent, so a missing
// object deletes without error.
func (t *S3Target) Delete(path string) error {
	t.record(t.clock, "delete", path)
	ctx, cancel := t.opContext()
	defer cancel()

	_, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(path)),
	})
	if err != nil {
		return fmt.Errorf("deleting s3 object %s: %w", path, err)
	}
	return nil
}

// List returns the objects directly under dir. Keys further down the
// hierarchy are excluded through the delimiter.
func (t *S3Target) List(dir string) ([]jot.RemoteItem, error) {
	t.record(t.clock, "list", dir)

	prefix := t.keyPrefix()
	if dir != "" {
		prefix = t.key(dir) + "/"
	}

	var out []jot.RemoteItem
	paginator := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(t.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		ctx, cancel := t.opContext()
		page, err := paginator.NextPage(ctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("listing s3 objects under %s: %w", dir, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, t.keyPrefix())
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}
			r := jot.RemoteItem{Path: rel}
			if obj.LastModified != nil {
				r.UpdatedTime = obj.LastModified.UnixMilli()
			}
			if model.IsItemPath(rel) {
				r.ID = model.ItemIDFromPath(rel)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *S3Target) Delta(dir string, opts jot.DeltaOptions) (*jot.DeltaPage, error) {
	t.record(t.clock, "delta", dir)
	return BasicDelta(func() ([]jot.RemoteItem, error) {
		return t.List(dir)
	}, opts)
}

func (t *S3Target) SyncTargetID() int { return t.id }

func (t *S3Target) SupportsAccurateTimestamp() bool { return false }

func (t *S3Target) SupportsMultiPut() bool { return false }

var _ jot.Target = (*S3Target)(nil)
