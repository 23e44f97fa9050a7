package collect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jyothri/picasa-bridge/picasa"
	"google.golang.org/api/googleapi"
)

const (
	SourceLocal   = "local"
	SourceDrive   = "drive"
	SourceStorage = "gcs"
)

var (
	ErrSourceNotFound = errors.New("upload source not found")
	ErrUnknownSource  = errors.New("unknown upload source kind")
)

// Source is an opened upload source. Size is the size of the whole content;
// Body yields only the bytes of the requested range.
type Source struct {
	Kind     string
	Name     string
	MimeType string
	Size     int64
	Md5Hash  string
	Body     io.ReadCloser
}

// SourceSpec names an upload source. Which fields apply depends on Kind.
type SourceSpec struct {
	Kind   string `json:"kind"`
	Path   string `json:"path,omitempty"`
	FileId string `json:"file_id,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Object string `json:"object,omitempty"`
}

// SourceFile is one candidate upload listed from a source.
type SourceFile struct {
	Kind     string    `json:"kind"`
	Name     string    `json:"name"`
	Path     string    `json:"path,omitempty"`
	FileId   string    `json:"file_id,omitempty"`
	Bucket   string    `json:"bucket,omitempty"`
	Object   string    `json:"object,omitempty"`
	MimeType string    `json:"mime_type"`
	Size     int64     `json:"size"`
	Md5Hash  string    `json:"md5hash,omitempty"`
	ModTime  time.Time `json:"mod_time"`
}

// OpenSource opens spec positioned at rng. refreshToken is only used by
// Drive sources.
func OpenSource(ctx context.Context, spec SourceSpec, refreshToken string, rng *picasa.ByteRange) (*Source, error) {
	switch spec.Kind {
	case SourceLocal:
		return OpenLocal(spec.Path, rng)
	case SourceDrive:
		return OpenDriveFile(ctx, refreshToken, spec.FileId, rng)
	case SourceStorage:
		return OpenStorageObject(ctx, spec.Bucket, spec.Object, rng)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, spec.Kind)
	}
}

func checkRange(rng *picasa.ByteRange, size int64) error {
	if rng == nil {
		return nil
	}
	if rng.Start < 0 || rng.End < rng.Start || rng.End >= size {
		return fmt.Errorf("%w: %d-%d of %d", picasa.ErrInvalidRange, rng.Start, rng.End, size)
	}
	return nil
}

// IsRetryError reports whether a source failed because it was throttled.
func IsRetryError(err error) bool {
	var googleErr *googleapi.Error
	if errors.As(err, &googleErr) {
		statusCode := googleErr.Code
		if statusCode == http.StatusTooManyRequests {
			return true
		}
		slog.Debug("Google API error", "code", statusCode, "message", googleErr.Message)
	}
	return false
}

func mapGoogleError(err error, name string) error {
	var googleErr *googleapi.Error
	if errors.As(err, &googleErr) && googleErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	return err
}
