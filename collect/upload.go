package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jyothri/picasa-bridge/db"
	"github.com/jyothri/picasa-bridge/notification"
	"github.com/jyothri/picasa-bridge/picasa"
)

// Uploader is the part of picasa.Client an upload job needs.
type Uploader interface {
	PostVideo(ctx context.Context, accessToken, albumID string, data picasa.VideoData, progress picasa.ProgressFunc) (*picasa.UploadResult, error)
	ResumeUpload(ctx context.Context, location string, data picasa.VideoData, progress picasa.ProgressFunc) (*picasa.UploadResult, error)
}

// Recorder keeps the audit trail of uploads.
type Recorder interface {
	LogStartUpload(upload db.UploadRecord) error
	UpdateUploadProgress(uploadKey string, transferred int64) error
	MarkUploadCompleted(uploadKey string, outcome db.UploadOutcome) error
	MarkUploadFailed(uploadKey string, errMsg string) error
}

type dbRecorder struct{}

func (dbRecorder) LogStartUpload(upload db.UploadRecord) error {
	return db.LogStartUpload(upload)
}

func (dbRecorder) UpdateUploadProgress(uploadKey string, transferred int64) error {
	return db.UpdateUploadProgress(uploadKey, transferred)
}

func (dbRecorder) MarkUploadCompleted(uploadKey string, outcome db.UploadOutcome) error {
	return db.MarkUploadCompleted(uploadKey, outcome)
}

func (dbRecorder) MarkUploadFailed(uploadKey string, errMsg string) error {
	return db.MarkUploadFailed(uploadKey, errMsg)
}

var recorder Recorder = dbRecorder{}

var progressInterval = 2 * time.Second

// VideoUpload is one upload job. A non-empty Location continues an existing
// session instead of creating one in AlbumId.
type VideoUpload struct {
	ClientKey   string
	AccessToken string
	AlbumId     string
	Location    string
	Title       string
	Summary     string
	Range       *picasa.ByteRange
	Source      *Source
}

// StartVideoUpload records the upload and runs it in the background. The
// returned key identifies it in the audit store and the notification hub.
// The source body is owned by the job from here on.
func StartVideoUpload(uploader Uploader, upload VideoUpload) (string, error) {
	// Phase 1: Create upload record (synchronous)
	uploadKey := uuid.NewString()
	src := upload.Source
	if upload.Title == "" {
		upload.Title = src.Name
	}
	rng := picasa.ByteRange{Start: 0, End: src.Size - 1}
	if upload.Range != nil {
		rng = *upload.Range
	}
	err := recorder.LogStartUpload(db.UploadRecord{
		UploadKey:  uploadKey,
		ClientKey:  upload.ClientKey,
		AlbumId:    upload.AlbumId,
		SourceKind: src.Kind,
		SourceName: src.Name,
		Title:      upload.Title,
		MimeType:   src.MimeType,
		Md5Hash:    src.Md5Hash,
		RangeStart: rng.Start,
		RangeEnd:   rng.End,
		TotalSize:  src.Size,
	})
	if err != nil {
		src.Body.Close()
		return "", fmt.Errorf("failed to start upload of %s: %w", src.Name, err)
	}

	// Phase 2: Transfer in background (asynchronous)
	go runUpload(uploader, uploadKey, upload, rng)

	return uploadKey, nil
}

func runUpload(uploader Uploader, uploadKey string, upload VideoUpload, rng picasa.ByteRange) {
	src := upload.Source
	defer src.Body.Close()

	var transferred atomic.Int64
	ticker := time.NewTicker(progressInterval)
	done := make(chan notification.Progress)
	finished := make(chan struct{})
	notificationChannel := notification.GetPublisher(uploadKey)
	tracker := progressTracker{
		uploadKey:  uploadKey,
		clientKey:  upload.ClientKey,
		rangeStart: rng.Start,
		length:     rng.Len(),
		total:      src.Size,
		start:      time.Now(),
	}
	go func() {
		defer close(finished)
		logProgress(tracker, &transferred, done, ticker, notificationChannel)
	}()

	data := picasa.VideoData{
		Title:         upload.Title,
		Summary:       upload.Summary,
		MimeType:      src.MimeType,
		ContentLength: src.Size,
		Range:         upload.Range,
		Body:          src.Body,
	}
	progress := func(p picasa.Progress) {
		transferred.Store(p.Transferred)
	}

	ctx := context.Background()
	var result *picasa.UploadResult
	var err error
	if upload.Location != "" {
		result, err = uploader.ResumeUpload(ctx, upload.Location, data, progress)
	} else {
		result, err = uploader.PostVideo(ctx, upload.AccessToken, upload.AlbumId, data, progress)
	}
	ticker.Stop()

	final := tracker.progress(transferred.Load())
	if err != nil {
		msg := failureMessage(err)
		slog.Error("Video upload failed",
			"upload_key", uploadKey,
			"source", src.Name,
			"status_code", picasa.StatusCode(err),
			"error", msg)
		if err := recorder.MarkUploadFailed(uploadKey, msg); err != nil {
			slog.Error("Failed to mark upload failed", "upload_key", uploadKey, "error", err)
		}
		final.Status = "Failed"
		final.Error = msg
	} else {
		outcome := db.UploadOutcome{
			StatusCode:  result.StatusCode,
			Transferred: result.Transferred,
			Committed:   result.Committed,
			Complete:    result.Complete,
		}
		if err := recorder.MarkUploadCompleted(uploadKey, outcome); err != nil {
			slog.Error("Failed to mark upload completed", "upload_key", uploadKey, "error", err)
		}
		final = tracker.progress(result.Transferred)
		final.Status = "Completed"
		if !result.Complete {
			final.Status = "Partial"
		}
	}
	done <- final
	<-finished
}

// failureMessage drops the session location from upload errors so it is
// never persisted.
func failureMessage(err error) string {
	var uploadErr *picasa.UploadError
	if errors.As(err, &uploadErr) {
		return uploadErr.Err.Error()
	}
	return err.Error()
}

type progressTracker struct {
	uploadKey  string
	clientKey  string
	rangeStart int64
	length     int64
	total      int64
	start      time.Time
}

func (t progressTracker) progress(transferred int64) notification.Progress {
	elapsed := time.Since(t.start)
	p := notification.Progress{
		UploadKey:    t.uploadKey,
		ClientKey:    t.clientKey,
		Status:       "Uploading",
		Transferred:  transferred,
		TotalSize:    t.total,
		ElapsedInSec: int(elapsed.Seconds()),
	}
	if t.total > 0 {
		p.CompletionPct = float32(t.rangeStart+transferred) * 100 / float32(t.total)
	}
	if transferred > 0 {
		remaining := t.length - transferred
		p.EtaInSec = int(elapsed.Seconds() * float64(remaining) / float64(transferred))
	}
	return p
}

func logProgress(tracker progressTracker, transferred *atomic.Int64, done <-chan notification.Progress, ticker *time.Ticker, notificationChannel chan<- notification.Progress) {
	defer close(notificationChannel)
	for {
		select {
		case progress := <-done:
			notificationChannel <- progress
			return
		case <-ticker.C:
			progress := tracker.progress(transferred.Load())
			if err := recorder.UpdateUploadProgress(tracker.uploadKey, progress.Transferred); err != nil {
				slog.Warn("Failed to record upload progress",
					"upload_key", tracker.uploadKey,
					"error", err)
			}
			notificationChannel <- progress
		}
	}
}
