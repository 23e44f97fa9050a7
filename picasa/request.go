package picasa

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

const (
	feedPath    = "/data/feed/api/user/default"
	entryPath   = "/data/entry/api/user/default"
	sessionPath = "/data/upload/resumable/media/create-session/feed/api/user/default"

	fetchAsJSON     = "json"
	atomContentType = "application/atom+xml"
)

// Request describes one outbound HTTP call before it is bound to a context.
type Request struct {
	Method        string
	URL           string
	Query         url.Values
	Header        http.Header
	Body          io.Reader
	ContentLength int64 // 0 means unknown unless Body is nil
}

// FullURL is URL with the encoded query appended.
func (r *Request) FullURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}
	return r.URL + "?" + r.Query.Encode()
}

func (r *Request) build(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.FullURL(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", r.Method, err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.ContentLength > 0 {
		req.ContentLength = r.ContentLength
	}
	return req, nil
}

func newRequest(method, target string) *Request {
	return &Request{
		Method: method,
		URL:    target,
		Query:  url.Values{},
		Header: http.Header{},
	}
}

func tokenQuery(accessToken string) url.Values {
	return url.Values{
		"alt":          {fetchAsJSON},
		"access_token": {accessToken},
	}
}

func albumPart(albumID string) string {
	if albumID == "" {
		return ""
	}
	return "/albumid/" + url.PathEscape(albumID)
}

// feedRequest lists a feed. kind may be empty for the album feed.
func (c *Client) feedRequest(accessToken, kind string, opts Options) *Request {
	req := newRequest(http.MethodGet, c.endpoints.PicasaHost+feedPath+albumPart(opts.AlbumID))
	req.Query = tokenQuery(accessToken)
	if kind != "" {
		req.Query.Set("kind", kind)
	}
	if opts.MaxResults > 0 {
		req.Query.Set("max-results", strconv.Itoa(opts.MaxResults))
	}
	if opts.StartIndex > 0 {
		req.Query.Set("start-index", strconv.Itoa(opts.StartIndex))
	}
	req.Header.Set("GData-Version", "2")
	return req
}

func (c *Client) deletePhotoRequest(accessToken, albumID, photoID string) *Request {
	target := c.endpoints.PicasaHost + entryPath + albumPart(albumID) + "/photoid/" + url.PathEscape(photoID)
	req := newRequest(http.MethodDelete, target)
	req.Query = tokenQuery(accessToken)
	req.Header.Set("If-Match", "*")
	return req
}

const albumEntryFormat = `<entry xmlns='http://www.w3.org/2005/Atom' xmlns:media='http://search.yahoo.com/mrss/' xmlns:gphoto='http://schemas.google.com/photos/2007'>
  <title type='text'>%s</title>
  <summary type='text'>%s</summary>
  <gphoto:access>private</gphoto:access>
  <category scheme='http://schemas.google.com/g/2005#kind' term='http://schemas.google.com/photos/2007#album'></category>
</entry>`

func (c *Client) createAlbumRequest(accessToken string, data AlbumData) *Request {
	body := fmt.Sprintf(albumEntryFormat, escape(data.Title), escape(data.Summary))
	req := newRequest(http.MethodPost, c.endpoints.PicasaHost+feedPath)
	req.Query = tokenQuery(accessToken)
	req.Header.Set("Content-Type", atomContentType)
	req.Body = strings.NewReader(body)
	req.ContentLength = int64(len(body))
	return req
}

const photoEntryFormat = `<entry xmlns="http://www.w3.org/2005/Atom">
  <title>%s</title>
  <summary>%s</summary>
  <category scheme="http://schemas.google.com/g/2005#kind" term="http://schemas.google.com/photos/2007#photo"/>
</entry>`

func (c *Client) postPhotoRequest(accessToken, albumID string, data PhotoData) *Request {
	meta := fmt.Sprintf(photoEntryFormat, escape(data.Title), escape(data.Summary))
	body, contentType := multipartRelated(meta, data.ContentType, data.Binary)
	req := newRequest(http.MethodPost, c.endpoints.PicasaHost+feedPath+albumPart(albumID))
	req.Query = tokenQuery(accessToken)
	req.Header.Set("Content-Type", contentType)
	req.Body = body
	return req
}

const videoEntryFormat = `<?xml version="1.0" encoding="UTF-8"?>
<entry xmlns="http://www.w3.org/2005/Atom" xmlns:gphoto="http://schemas.google.com/photos/2007">
  <category scheme="http://schemas.google.com/g/2005#kind" term="http://schemas.google.com/photos/2007#photo"/>
  <title>%s</title>
  <summary>%s</summary>
  <gphoto:timestamp>%d</gphoto:timestamp>
</entry>`

func (c *Client) createSessionRequest(accessToken, albumID string, data VideoData) *Request {
	body := fmt.Sprintf(videoEntryFormat, escape(data.Title), escape(data.Summary), c.now().UnixMilli())
	req := newRequest(http.MethodPost, c.endpoints.UploadHost+sessionPath+albumPart(albumID))
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", atomContentType+"; charset=utf-8")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(data.ContentLength, 10))
	req.Header.Set("X-Upload-Content-Type", data.MimeType)
	req.Header.Set("Slug", data.Title)
	req.Header.Set("GData-Version", "3")
	req.Body = strings.NewReader(body)
	req.ContentLength = int64(len(body))
	return req
}

// transferRequest PUTs the session's range to its location.
func transferRequest(session *UploadSession, body io.Reader) *Request {
	req := newRequest(http.MethodPut, session.Location)
	req.Header.Set("Content-Range", session.ContentRange())
	req.Body = body
	req.ContentLength = session.Len()
	return req
}

// multipartRelated streams an Atom metadata part followed by the binary
// part. The parts are produced in the background as the request body is read.
func multipartRelated(meta, contentType string, binary io.Reader) (io.ReadCloser, string) {
	bodyReader, bodyWriter := io.Pipe()
	writer := multipart.NewWriter(bodyWriter)
	mediaType := "multipart/related; boundary=" + writer.Boundary()

	go func() {
		part, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {atomContentType}})
		if err != nil {
			_ = bodyWriter.CloseWithError(fmt.Errorf("create metadata part: %w", err))
			return
		}
		if _, err = io.WriteString(part, meta); err != nil {
			_ = bodyWriter.CloseWithError(fmt.Errorf("write metadata part: %w", err))
			return
		}
		part, err = writer.CreatePart(textproto.MIMEHeader{"Content-Type": {contentType}})
		if err != nil {
			_ = bodyWriter.CloseWithError(fmt.Errorf("create content part: %w", err))
			return
		}
		if binary != nil {
			if _, err = io.Copy(part, binary); err != nil {
				_ = bodyWriter.CloseWithError(fmt.Errorf("copy content: %w", err))
				return
			}
		}
		if err = writer.Close(); err != nil {
			_ = bodyWriter.CloseWithError(fmt.Errorf("close multipart body: %w", err))
			return
		}
		_ = bodyWriter.Close()
	}()

	return bodyReader, mediaType
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
