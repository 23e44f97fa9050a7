package picasa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Endpoints are the remote hosts the client talks to. Tests point them at a
// local server.
type Endpoints struct {
	AuthURL    string
	TokenURL   string
	RefreshURL string
	PicasaHost string
	UploadHost string
}

var DefaultEndpoints = Endpoints{
	AuthURL:    "https://accounts.google.com/o/oauth2/auth",
	TokenURL:   "https://www.googleapis.com/oauth2/v3/token",
	RefreshURL: "https://www.googleapis.com/oauth2/v4/token",
	PicasaHost: "https://picasaweb.google.com",
	UploadHost: "https://photos.googleapis.com",
}

const Scope = "https://picasaweb.google.com/data"

// Client is a stateless facade over the photo hosting service. Every call
// takes the access token it should use; nothing is cached between calls.
type Client struct {
	httpClient   *http.Client
	uploadClient *http.Client
	throttler    *rate.Limiter
	logger       *slog.Logger
	endpoints    Endpoints
	now          func() time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithEndpoints(e Endpoints) Option {
	return func(c *Client) {
		c.endpoints = e
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit caps the rate of outbound calls.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.throttler = rate.NewLimiter(limit, burst)
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		throttler:  rate.NewLimiter(150, 10),
		logger:     slog.Default(),
		endpoints:  DefaultEndpoints,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.uploadClient = clientWithNoRedirects(c.httpClient)
	return c
}

// clientWithNoRedirects returns a copy of hc that hands back 3xx answers
// instead of following them. Upload sessions answer 308 on partial success.
func clientWithNoRedirects(hc *http.Client) *http.Client {
	clientCopy := *hc
	clientCopy.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &clientCopy
}

type feedResponse struct {
	Feed struct {
		Entry []Entry `json:"entry"`
	} `json:"feed"`
}

type entryResponse struct {
	Entry Entry `json:"entry"`
}

// GetAlbums lists the albums of the authenticated user.
func (c *Client) GetAlbums(ctx context.Context, accessToken string, opts Options) ([]Album, error) {
	opts.AlbumID = ""
	var resp feedResponse
	if err := c.call(ctx, c.httpClient, c.feedRequest(accessToken, "", opts), &resp); err != nil {
		return nil, &RequestError{Op: "get albums", Err: err}
	}
	albums := make([]Album, 0, len(resp.Feed.Entry))
	for _, entry := range resp.Feed.Entry {
		albums = append(albums, albumFromEntry(entry))
	}
	return albums, nil
}

// CreateAlbum creates a private album and returns it as the service echoed it.
func (c *Client) CreateAlbum(ctx context.Context, accessToken string, data AlbumData) (Album, error) {
	var resp entryResponse
	if err := c.call(ctx, c.httpClient, c.createAlbumRequest(accessToken, data), &resp); err != nil {
		return Album{}, &RequestError{Op: "create album", Err: err}
	}
	return albumFromEntry(resp.Entry), nil
}

// GetPhotos lists photos, optionally restricted to one album.
func (c *Client) GetPhotos(ctx context.Context, accessToken string, opts Options) ([]Photo, error) {
	var resp feedResponse
	if err := c.call(ctx, c.httpClient, c.feedRequest(accessToken, "photo", opts), &resp); err != nil {
		return nil, &RequestError{Op: "get photos", Err: err}
	}
	photos := make([]Photo, 0, len(resp.Feed.Entry))
	for _, entry := range resp.Feed.Entry {
		photos = append(photos, photoFromEntry(entry))
	}
	return photos, nil
}

// PostPhoto uploads a photo into albumID with a single multipart request.
func (c *Client) PostPhoto(ctx context.Context, accessToken, albumID string, data PhotoData) (Photo, error) {
	var resp entryResponse
	if err := c.call(ctx, c.httpClient, c.postPhotoRequest(accessToken, albumID, data), &resp); err != nil {
		return Photo{}, &RequestError{Op: "post photo", Err: err}
	}
	return photoFromEntry(resp.Entry), nil
}

// DeletePhoto removes a photo regardless of its current version.
func (c *Client) DeletePhoto(ctx context.Context, accessToken, albumID, photoID string) error {
	if err := c.call(ctx, c.httpClient, c.deletePhotoRequest(accessToken, albumID, photoID), nil); err != nil {
		return &RequestError{Op: "delete photo", Err: err}
	}
	return nil
}

// call executes req and decodes a JSON answer into out. A nil out discards
// the body. Network failures come back as *TransportError, non-2xx answers
// as *RemoteError.
func (c *Client) call(ctx context.Context, hc *http.Client, req *Request, out any) error {
	resp, err := c.execute(ctx, hc, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := getJson(resp, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) execute(ctx context.Context, hc *http.Client, req *Request) (*http.Response, error) {
	if err := c.throttler.Wait(ctx); err != nil {
		closeBody(req.Body)
		return nil, &TransportError{Err: fmt.Errorf("throttler wait error: %w", err)}
	}
	httpReq, err := req.build(ctx)
	if err != nil {
		closeBody(req.Body)
		return nil, err
	}
	c.logger.Debug("Calling remote service", "method", req.Method, "url", req.URL)
	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return resp, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("failed to read error body for status %d: %w", resp.StatusCode, err)}
	}
	return &RemoteError{StatusCode: resp.StatusCode, Body: string(body)}
}

func getJson(resp *http.Response, out any) error {
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	err := decoder.Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func closeBody(body io.Reader) {
	if closer, ok := body.(io.Closer); ok {
		_ = closer.Close()
	}
}
