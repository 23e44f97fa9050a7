package collect

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jyothri/picasa-bridge/constants"
	"github.com/jyothri/picasa-bridge/picasa"
)

// localRoot is swapped in tests.
var localRoot = func() string { return constants.LocalRoot }

// resolveLocal maps a client supplied path below the local root.
func resolveLocal(path string) string {
	return filepath.Join(localRoot(), filepath.Clean("/"+path))
}

// OpenLocal opens a file below the local root.
func OpenLocal(path string, rng *picasa.ByteRange) (*Source, error) {
	fullPath := resolveLocal(path)
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if err := checkRange(rng, info.Size()); err != nil {
		return nil, err
	}

	mtype, err := mimetype.DetectFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect type of %s: %w", path, err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if rng != nil && rng.Start > 0 {
		if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to seek %s to %d: %w", path, rng.Start, err)
		}
	}

	return &Source{
		Kind:     SourceLocal,
		Name:     info.Name(),
		MimeType: mtype.String(),
		Size:     info.Size(),
		Md5Hash:  getMd5ForFile(fullPath),
		Body:     file,
	}, nil
}

// ListLocalVideos walks dir below the local root and returns the video files in it.
func ListLocalVideos(dir string) ([]SourceFile, error) {
	root := resolveLocal(dir)
	files := make([]SourceFile, 0)
	err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			// Log and skip problematic files/directories
			slog.Warn("Failed to access path during walk, skipping",
				"path", path,
				"error", err)
			return nil
		}

		// Skip hidden files and directories
		if runtime.GOOS != "windows" && path != root && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		mtype, err := mimetype.DetectFile(path)
		if err != nil {
			slog.Warn("Failed to detect file type, skipping",
				"path", path,
				"error", err)
			return nil
		}
		if !strings.HasPrefix(mtype.String(), "video/") {
			return nil
		}
		rel, err := filepath.Rel(localRoot(), path)
		if err != nil {
			return nil
		}
		files = append(files, SourceFile{
			Kind:     SourceLocal,
			Name:     info.Name(),
			Path:     filepath.ToSlash(rel),
			MimeType: mtype.String(),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %s: %w", dir, err)
	}
	return files, nil
}

func getMd5ForFile(filePath string) string {
	file, err := os.Open(filePath)
	if err != nil {
		// Log but don't fail - MD5 is optional metadata
		slog.Warn("Failed to open file for MD5 calculation, skipping hash",
			"path", filePath,
			"error", err)
		return ""
	}
	defer file.Close()

	hash := md5.New()
	_, err = io.Copy(hash, file)
	if err != nil {
		slog.Warn("Failed to calculate MD5 hash, skipping",
			"path", filePath,
			"error", err)
		return ""
	}

	return hex.EncodeToString(hash.Sum(nil))
}
