package picasa

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync/atomic"
)

// statusResumeIncomplete is answered when the service accepted a part of
// the upload and expects more.
const statusResumeIncomplete = 308

var rangeRE = regexp.MustCompile(`^(?:bytes=)?0-(\d+)$`)

// UploadSession is a created resumable upload. Location is the only state
// the service needs to continue it.
type UploadSession struct {
	Location string
	Start    int64
	End      int64
	Total    int64

	transferred atomic.Int64
}

// Len is the number of bytes this session sends.
func (s *UploadSession) Len() int64 {
	return s.End - s.Start + 1
}

// ContentRange is the Content-Range header value of the transfer.
func (s *UploadSession) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", s.Start, s.End, s.Total)
}

// Transferred reports the bytes consumed from the source so far.
func (s *UploadSession) Transferred() int64 {
	return s.transferred.Load()
}

// Progress is reported while the source is consumed.
type Progress struct {
	Transferred int64 `json:"transferred"`
	Length      int64 `json:"length"`
	Start       int64 `json:"start"`
	Total       int64 `json:"total"`
}

// Percent of the whole content that has been sent, counting the bytes
// before Start as already sent.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Start+p.Transferred) * 100 / float64(p.Total)
}

// ProgressFunc is called synchronously from the transfer. It must not block.
type ProgressFunc func(Progress)

// UploadResult is the outcome of a transfer that the service accepted.
type UploadResult struct {
	Status      string `json:"status"`
	StatusCode  int    `json:"status_code"`
	Transferred int64  `json:"transferred"`
	Committed   int64  `json:"committed"`
	Complete    bool   `json:"complete"`
}

// newUploadSession resolves the byte range of data against its declared
// content length.
func newUploadSession(location string, data VideoData) (*UploadSession, error) {
	if data.ContentLength <= 0 {
		return nil, fmt.Errorf("%w: content length %d", ErrInvalidRange, data.ContentLength)
	}
	r := ByteRange{Start: 0, End: data.ContentLength - 1}
	if data.Range != nil {
		r = *data.Range
	}
	if r.Start < 0 || r.End < r.Start || r.End >= data.ContentLength {
		return nil, fmt.Errorf("%w: %d-%d of %d", ErrInvalidRange, r.Start, r.End, data.ContentLength)
	}
	return &UploadSession{
		Location: location,
		Start:    r.Start,
		End:      r.End,
		Total:    data.ContentLength,
	}, nil
}

// CreateResumableVideo opens an upload session in albumID. No content is sent.
func (c *Client) CreateResumableVideo(ctx context.Context, accessToken, albumID string, data VideoData) (*UploadSession, error) {
	session, err := newUploadSession("", data)
	if err != nil {
		return nil, &RequestError{Op: "create resumable video", Err: err}
	}
	resp, err := c.execute(ctx, c.httpClient, c.createSessionRequest(accessToken, albumID, data))
	if err != nil {
		return nil, &RequestError{Op: "create resumable video", Err: err}
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, &RequestError{Op: "create resumable video", Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	session.Location = resp.Header.Get("Location")
	if session.Location == "" {
		return nil, &RequestError{Op: "create resumable video", Err: ErrNoLocation}
	}
	c.logger.Info("Created upload session",
		"album_id", albumID,
		"title", data.Title,
		"total", session.Total)
	return session, nil
}

// PostVideo creates a session and transfers data into it. Nothing is sent
// when data has no body.
func (c *Client) PostVideo(ctx context.Context, accessToken, albumID string, data VideoData, progress ProgressFunc) (*UploadResult, error) {
	if data.Body == nil {
		return nil, &RequestError{Op: "post video", Err: ErrNoBody}
	}
	session, err := c.CreateResumableVideo(ctx, accessToken, albumID, data)
	if err != nil {
		return nil, err
	}
	return c.Transfer(ctx, session, data.Body, progress)
}

// ResumeUpload transfers data to an existing session location.
func (c *Client) ResumeUpload(ctx context.Context, location string, data VideoData, progress ProgressFunc) (*UploadResult, error) {
	session, err := newUploadSession(location, data)
	if err != nil {
		return nil, &UploadError{Location: location, Err: err}
	}
	return c.Transfer(ctx, session, data.Body, progress)
}

// Transfer sends exactly session.Len() bytes of body as one PUT. Both a 2xx
// and a 308 answer resolve successfully; Complete tells them apart.
func (c *Client) Transfer(ctx context.Context, session *UploadSession, body io.Reader, progress ProgressFunc) (*UploadResult, error) {
	if body == nil {
		return nil, &UploadError{Location: session.Location, Err: ErrNoBody}
	}
	counter := &progressReader{
		r:        io.LimitReader(body, session.Len()),
		session:  session,
		progress: progress,
	}
	c.logger.Debug("Starting upload transfer",
		"content_range", session.ContentRange())
	resp, err := c.execute(ctx, c.uploadClient, transferRequest(session, counter))
	if err != nil {
		return nil, &UploadError{Location: session.Location, Err: err}
	}
	defer resp.Body.Close()

	result := &UploadResult{
		Status:      "OK",
		StatusCode:  resp.StatusCode,
		Transferred: session.Transferred(),
	}
	switch {
	case resp.StatusCode == statusResumeIncomplete:
		_, _ = io.Copy(io.Discard, resp.Body)
		result.Committed = committedOffset(resp.Header, session)
		result.Complete = result.Committed >= session.Total
		c.logger.Info("Upload partially accepted",
			"committed", result.Committed,
			"total", session.Total)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		result.Committed = session.Total
		result.Complete = true
		c.logger.Info("Upload completed", "total", session.Total)
	default:
		return nil, &UploadError{Location: session.Location, Err: checkResponse(resp)}
	}
	return result, nil
}

// committedOffset is the next byte the service expects. Without a Range
// header the bytes sent in this transfer are assumed to be kept.
func committedOffset(header http.Header, session *UploadSession) int64 {
	if m := rangeRE.FindStringSubmatch(header.Get("Range")); m != nil {
		last, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return last + 1
		}
	}
	return session.Start + session.Transferred()
}

type progressReader struct {
	r        io.Reader
	session  *UploadSession
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		sent := p.session.transferred.Add(int64(n))
		if p.progress != nil {
			p.progress(Progress{
				Transferred: sent,
				Length:      p.session.Len(),
				Start:       p.session.Start,
				Total:       p.session.Total,
			})
		}
	}
	return n, err
}
