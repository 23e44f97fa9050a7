package picasa

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestClient(server *httptest.Server) *Client {
	return NewClient(
		WithHTTPClient(server.Client()),
		WithEndpoints(Endpoints{
			AuthURL:    server.URL + "/o/oauth2/auth",
			TokenURL:   server.URL + "/oauth2/v3/token",
			RefreshURL: server.URL + "/oauth2/v4/token",
			PicasaHost: server.URL,
			UploadHost: server.URL,
		}),
		WithRateLimit(rate.Inf, 1),
		withClock(func() time.Time { return time.UnixMilli(1700000000000) }),
	)
}

func TestGetAlbums(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/data/feed/api/user/default", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("alt"))
		assert.Equal(t, "token", r.URL.Query().Get("access_token"))
		assert.Equal(t, "5", r.URL.Query().Get("max-results"))
		assert.False(t, r.URL.Query().Has("kind"))
		assert.Equal(t, "2", r.Header.Get("GData-Version"))
		_, _ = io.WriteString(w, `{"feed": {"entry": [
			{"gphoto$id": {"$t": "a1"}, "title": {"$t": "First"}},
			{"gphoto$id": {"$t": "a2"}, "title": {"$t": "Second"}}
		]}}`)
	}))
	defer server.Close()

	albums, err := newTestClient(server).GetAlbums(context.Background(), "token", Options{MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, albums, 2)
	assert.Equal(t, "a1", albums[0].ID)
	assert.Equal(t, "Second", albums[1].Title)
}

func TestGetPhotosEmptyFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "photo", r.URL.Query().Get("kind"))
		assert.Equal(t, "11", r.URL.Query().Get("start-index"))
		_, _ = io.WriteString(w, `{"feed": {}}`)
	}))
	defer server.Close()

	photos, err := newTestClient(server).GetPhotos(context.Background(), "token", Options{StartIndex: 11})
	require.NoError(t, err)
	assert.Empty(t, photos)
}

func TestRemoteErrorBodyIsMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "Token invalid - Invalid token: Token not found")
	}))
	defer server.Close()

	_, err := newTestClient(server).GetPhotos(context.Background(), "bad", Options{})
	require.Error(t, err)

	var requestErr *RequestError
	require.True(t, errors.As(err, &requestErr))
	assert.Equal(t, "get photos", requestErr.Op)
	assert.Equal(t, "Token invalid - Invalid token: Token not found", err.Error())
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestTransportErrorIsWrapped(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client := newTestClient(server)
	server.Close()

	_, err := client.GetAlbums(context.Background(), "token", Options{})
	require.Error(t, err)

	var transportErr *TransportError
	assert.True(t, errors.As(err, &transportErr))
	assert.Equal(t, 0, StatusCode(err))
}

func TestCreateAlbumEscapesText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/atom+xml", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "<title type='text'>Tom &amp; Jerry &lt;3</title>")
		assert.Contains(t, string(body), "<gphoto:access>private</gphoto:access>")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"entry": {"gphoto$id": {"$t": "new"}, "title": {"$t": "Tom & Jerry <3"}}}`)
	}))
	defer server.Close()

	album, err := newTestClient(server).CreateAlbum(context.Background(), "token", AlbumData{Title: "Tom & Jerry <3"})
	require.NoError(t, err)
	assert.Equal(t, "new", album.ID)
	assert.Equal(t, "Tom & Jerry <3", album.Title)
}

func TestPostPhotoMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/feed/api/user/default/albumid/a1", r.URL.Path)
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/related", mediaType)

		reader := multipart.NewReader(r.Body, params["boundary"])
		meta, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "application/atom+xml", meta.Header.Get("Content-Type"))
		metaBody, _ := io.ReadAll(meta)
		assert.Contains(t, string(metaBody), "<title>cat.png</title>")

		binary, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/png", binary.Header.Get("Content-Type"))
		data, _ := io.ReadAll(binary)
		assert.Equal(t, "PNGDATA", string(data))

		_, _ = io.WriteString(w, `{"entry": {"gphoto$id": {"$t": "p9"}, "gphoto$albumid": {"$t": "a1"}}}`)
	}))
	defer server.Close()

	photo, err := newTestClient(server).PostPhoto(context.Background(), "token", "a1", PhotoData{
		Title:       "cat.png",
		ContentType: "image/png",
		Binary:      strings.NewReader("PNGDATA"),
	})
	require.NoError(t, err)
	assert.Equal(t, "p9", photo.ID)
	assert.Equal(t, "a1", photo.AlbumID)
}

func TestDeletePhotoWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/data/entry/api/user/default/albumid/a1/photoid/p1", r.URL.Path)
		assert.Equal(t, "*", r.Header.Get("If-Match"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := newTestClient(server).DeletePhoto(context.Background(), "token", "a1", "p1")
	assert.NoError(t, err)
}

func TestCallHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(server).GetAlbums(ctx, "token", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
