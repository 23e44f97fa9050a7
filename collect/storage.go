package collect

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/jyothri/picasa-bridge/picasa"
	"google.golang.org/api/iterator"
)

// newStorageClient uses application default credentials.
var newStorageClient = func(ctx context.Context) (*storage.Client, error) {
	return storage.NewClient(ctx)
}

type storageBody struct {
	io.ReadCloser
	client *storage.Client
}

func (b *storageBody) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// storageRange converts rng into the offset and length of a range read.
// A negative length reads to the end of the object.
func storageRange(rng *picasa.ByteRange) (int64, int64) {
	if rng == nil {
		return 0, -1
	}
	return rng.Start, rng.Len()
}

// OpenStorageObject reads object of bucket, restricted to rng.
func OpenStorageObject(ctx context.Context, bucket string, object string, rng *picasa.ByteRange) (*Source, error) {
	client, err := newStorageClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	obj := client.Bucket(bucket).Object(object)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		client.Close()
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrSourceNotFound, bucket, object)
		}
		return nil, fmt.Errorf("failed to get attributes of gs://%s/%s: %w", bucket, object, err)
	}
	if err := checkRange(rng, attrs.Size); err != nil {
		client.Close()
		return nil, err
	}

	offset, length := storageRange(rng)
	reader, err := obj.NewRangeReader(ctx, offset, length)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}

	return &Source{
		Kind:     SourceStorage,
		Name:     path.Base(attrs.Name),
		MimeType: attrs.ContentType,
		Size:     attrs.Size,
		Md5Hash:  hex.EncodeToString(attrs.MD5),
		Body:     &storageBody{ReadCloser: reader, client: client},
	}, nil
}

// ListStorageVideos lists the video objects of bucket under prefix.
func ListStorageVideos(ctx context.Context, bucket string, prefix string) ([]SourceFile, error) {
	client, err := newStorageClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	defer client.Close()

	files := make([]SourceFile, 0)
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
		}
		if !strings.HasPrefix(attrs.ContentType, "video/") {
			continue
		}
		files = append(files, SourceFile{
			Kind:     SourceStorage,
			Name:     path.Base(attrs.Name),
			Bucket:   bucket,
			Object:   attrs.Name,
			MimeType: attrs.ContentType,
			Size:     attrs.Size,
			Md5Hash:  hex.EncodeToString(attrs.MD5),
			ModTime:  attrs.Updated,
		})
	}
	return files, nil
}
