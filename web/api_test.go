package web

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jyothri/picasa-bridge/collect"
	"github.com/jyothri/picasa-bridge/constants"
	"github.com/jyothri/picasa-bridge/db"
	"github.com/jyothri/picasa-bridge/picasa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeStore struct {
	mu      sync.Mutex
	tokens  map[string]db.PrivateToken
	uploads map[string]*db.Upload
	saved   []db.PrivateToken
	looked  chan string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens: map[string]db.PrivateToken{
			"ck": {Client_key: "ck", AccessToken: "old", RefreshToken: "refresh", DisplayName: "Jane"},
		},
		uploads: map[string]*db.Upload{},
		looked:  make(chan string, 1),
	}
}

func (f *fakeStore) SaveOAuthToken(accessToken, refreshToken, displayName, clientKey, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := db.PrivateToken{AccessToken: accessToken, RefreshToken: refreshToken, DisplayName: displayName, Client_key: clientKey, Scope: scope}
	f.saved = append(f.saved, token)
	f.tokens[clientKey] = token
	return nil
}

func (f *fakeStore) GetOAuthToken(clientKey string) (db.PrivateToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.tokens[clientKey]
	if !ok {
		return db.PrivateToken{}, fmt.Errorf("failed to get OAuth token for client %s: %w", clientKey, sql.ErrNoRows)
	}
	return token, nil
}

func (f *fakeStore) UpdateAccessToken(clientKey, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := f.tokens[clientKey]
	token.AccessToken = accessToken
	f.tokens[clientKey] = token
	return nil
}

func (f *fakeStore) GetRequestAccountsFromDb() ([]db.Account, error) {
	return []db.Account{{ClientKey: "ck", DisplayName: "Jane"}}, nil
}

func (f *fakeStore) GetUploadByKey(uploadKey string) (*db.Upload, error) {
	select {
	case f.looked <- uploadKey:
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	upload, ok := f.uploads[uploadKey]
	if !ok {
		return nil, fmt.Errorf("failed to get upload %s: %w", uploadKey, sql.ErrNoRows)
	}
	return upload, nil
}

func (f *fakeStore) GetUploadsFromDb(clientKey string, pageNo int) ([]db.Upload, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uploads := []db.Upload{}
	for _, upload := range f.uploads {
		if upload.ClientKey == clientKey {
			uploads = append(uploads, *upload)
		}
	}
	return uploads, len(uploads), nil
}

// withFakes points the handlers at a fake store and at remote, which plays
// the photo service and its token endpoints.
func withFakes(t *testing.T, remote http.HandlerFunc) *fakeStore {
	t.Helper()
	if remote == nil {
		remote = func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("unexpected remote call %s", r.URL.Path)
		}
	}
	server := httptest.NewServer(remote)
	t.Cleanup(server.Close)

	fake := newFakeStore()
	previousStore, previousClient := store, photoClient
	store = fake
	photoClient = picasa.NewClient(
		picasa.WithHTTPClient(server.Client()),
		picasa.WithEndpoints(picasa.Endpoints{
			AuthURL:    server.URL + "/o/oauth2/auth",
			TokenURL:   server.URL + "/oauth2/v3/token",
			RefreshURL: server.URL + "/oauth2/v4/token",
			PicasaHost: server.URL,
			UploadHost: server.URL,
		}),
		picasa.WithRateLimit(rate.Inf, 1),
	)
	t.Cleanup(func() {
		store, photoClient = previousStore, previousClient
	})
	return fake
}

func serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	newRouter().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func writeRefreshedToken(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"access_token": "new", "token_type": "Bearer", "expires_in": 3600}`)
}

func TestHealth(t *testing.T) {
	rec := serve(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok": true}`, rec.Body.String())
}

func TestAuthUrlHandler(t *testing.T) {
	withFakes(t, nil)

	rec := serve(httptest.NewRequest(http.MethodGet, "/api/auth/url?drive=true&redirectUri=https://app.example/api/glink", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body AuthUrlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	parsed, err := url.Parse(body.Url)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example/api/glink", parsed.Query().Get("redirect_uri"))
	assert.Equal(t, picasa.Scope+" "+collect.DriveScope, parsed.Query().Get("scope"))
	assert.Equal(t, "offline", parsed.Query().Get("access_type"))
}

func TestGetRequestAccounts(t *testing.T) {
	withFakes(t, nil)

	rec := serve(httptest.NewRequest(http.MethodGet, "/api/accounts", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"clientKey": "ck", "displayName": "Jane"}]`, rec.Body.String())
}

func TestListAlbumsRenewsRejectedToken(t *testing.T) {
	fake := withFakes(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/v4/token":
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh", r.PostForm.Get("refresh_token"))
			writeRefreshedToken(w)
		case "/data/feed/api/user/default":
			if r.URL.Query().Get("access_token") != "new" {
				w.WriteHeader(http.StatusForbidden)
				_, _ = io.WriteString(w, "Token invalid")
				return
			}
			_, _ = io.WriteString(w, `{"feed": {"entry": [{"gphoto$id": {"$t": "a1"}, "title": {"$t": "Trip"}}]}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	rec := serve(httptest.NewRequest(http.MethodGet, "/api/accounts/ck/albums", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body ListAlbumsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Albums, 1)
	assert.Equal(t, "Trip", body.Albums[0].Title)
	assert.Equal(t, "new", fake.tokens["ck"].AccessToken)
}

func TestListAlbumsUnknownAccount(t *testing.T) {
	withFakes(t, nil)

	rec := serve(httptest.NewRequest(http.MethodGet, "/api/accounts/nobody/albums", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UNKNOWN_ACCOUNT", decodeError(t, rec).Code)
}

func TestListPhotosPaging(t *testing.T) {
	withFakes(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/feed/api/user/default/albumid/a1", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("max-results"))
		assert.Equal(t, "21", r.URL.Query().Get("start-index"))
		_, _ = io.WriteString(w, `{"feed": {"entry": [{"gphoto$id": {"$t": "p1"}}]}}`)
	})

	rec := serve(httptest.NewRequest(http.MethodGet, "/api/accounts/ck/photos?album_id=a1&max_results=10&start_index=21", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body ListPhotosResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, PaginationInfo{Page: 3, Size: 1}, body.PageInfo)
	assert.Equal(t, "p1", body.Photos[0].ID)
}

func TestListPhotosInvalidQuery(t *testing.T) {
	withFakes(t, nil)

	rec := serve(httptest.NewRequest(http.MethodGet, "/api/accounts/ck/photos?max_results=many", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAlbum(t *testing.T) {
	withFakes(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<title type='text'>Trip &amp; more</title>")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"entry": {"gphoto$id": {"$t": "a9"}, "title": {"$t": "Trip & more"}}}`)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/ck/albums", strings.NewReader(`{"title": "Trip & more"}`))
	rec := serve(req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var album picasa.Album
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &album))
	assert.Equal(t, "a9", album.ID)
}

func TestCreateAlbumNeedsTitle(t *testing.T) {
	withFakes(t, nil)

	rec := serve(httptest.NewRequest(http.MethodPost, "/api/accounts/ck/albums", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeletePhotoRemoteStatusPassesThrough(t *testing.T) {
	withFakes(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/data/entry/api/user/default/albumid/a1/photoid/p1", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "Photo not found")
	})

	rec := serve(httptest.NewRequest(http.MethodDelete, "/api/accounts/ck/albums/a1/photos/p1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, "REMOTE_ERROR", detail.Code)
	assert.Contains(t, detail.Message, "Photo not found")
}

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func photoForm(t *testing.T, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("title", "Sunset"))
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="sunset.bin"`)
	header.Set("Content-Type", "application/octet-stream")
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestPostPhotoSniffsContentType(t *testing.T) {
	withFakes(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/feed/api/user/default/albumid/a1", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/related"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "Content-Type: image/png")
		assert.Contains(t, string(body), "Sunset")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"entry": {"gphoto$id": {"$t": "p7"}, "title": {"$t": "Sunset"}}}`)
	})

	body, contentType := photoForm(t, append(append([]byte{}, pngHeader...), "pixels"...))
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/ck/albums/a1/photos", body)
	req.Header.Set("Content-Type", contentType)
	rec := serve(req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var photo picasa.Photo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &photo))
	assert.Equal(t, "p7", photo.ID)
}

func TestPostPhotoRejectsNonImage(t *testing.T) {
	withFakes(t, nil)

	body, contentType := photoForm(t, []byte("just some text"))
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/ck/albums/a1/photos", body)
	req.Header.Set("Content-Type", contentType)
	rec := serve(req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

type capturedUpload struct {
	spec         collect.SourceSpec
	refreshToken string
	upload       collect.VideoUpload
}

func withUploadFakes(t *testing.T, mimeType string, openErr error) *capturedUpload {
	t.Helper()
	captured := &capturedUpload{}
	previousOpen, previousStart := openSource, startUpload
	openSource = func(ctx context.Context, spec collect.SourceSpec, refreshToken string, rng *picasa.ByteRange) (*collect.Source, error) {
		captured.spec = spec
		captured.refreshToken = refreshToken
		if openErr != nil {
			return nil, openErr
		}
		return &collect.Source{
			Kind:     spec.Kind,
			Name:     "clip.mp4",
			MimeType: mimeType,
			Size:     100,
			Body:     io.NopCloser(strings.NewReader("data")),
		}, nil
	}
	startUpload = func(upload collect.VideoUpload) (string, error) {
		captured.upload = upload
		return "upload-1", nil
	}
	t.Cleanup(func() {
		openSource, startUpload = previousOpen, previousStart
	})
	return captured
}

func TestPostVideoHandler(t *testing.T) {
	withFakes(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth2/v4/token", r.URL.Path)
		writeRefreshedToken(w)
	})
	captured := withUploadFakes(t, "video/mp4", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/ck/albums/a1/videos",
		strings.NewReader(`{"source": {"kind": "drive", "file_id": "f1"}, "title": "Trip", "range": {"start": 0, "end": 49}}`))
	rec := serve(req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"upload_key": "upload-1"}`, rec.Body.String())

	assert.Equal(t, "f1", captured.spec.FileId)
	assert.Equal(t, "refresh", captured.refreshToken)
	assert.Equal(t, "new", captured.upload.AccessToken)
	assert.Equal(t, "a1", captured.upload.AlbumId)
	assert.Equal(t, "Trip", captured.upload.Title)
	assert.Equal(t, &picasa.ByteRange{Start: 0, End: 49}, captured.upload.Range)
}

func TestPostVideoRejectsNonVideo(t *testing.T) {
	withFakes(t, func(w http.ResponseWriter, r *http.Request) {
		writeRefreshedToken(w)
	})
	withUploadFakes(t, "image/png", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/ck/albums/a1/videos",
		strings.NewReader(`{"source": {"kind": "local", "path": "cat.png"}}`))
	rec := serve(req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestPostVideoInvalidRange(t *testing.T) {
	withFakes(t, func(w http.ResponseWriter, r *http.Request) {
		writeRefreshedToken(w)
	})
	withUploadFakes(t, "video/mp4", fmt.Errorf("%w: 5-500 of 100", picasa.ErrInvalidRange))

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/ck/albums/a1/videos",
		strings.NewReader(`{"source": {"kind": "local", "path": "clip.mp4"}, "range": {"start": 5, "end": 500}}`))
	rec := serve(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_RANGE", decodeError(t, rec).Code)
}

func TestResumeUploadHandler(t *testing.T) {
	withFakes(t, nil)
	captured := withUploadFakes(t, "video/mp4", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/resume",
		strings.NewReader(`{"location": "https://upload.example/s/1", "source": {"kind": "local", "path": "clip.mp4"}, "range": {"start": 50, "end": 99}}`))
	rec := serve(req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Empty(t, captured.refreshToken)
	assert.Equal(t, "https://upload.example/s/1", captured.upload.Location)
	assert.Equal(t, int64(50), captured.upload.Range.Start)
}

func TestResumeUploadNeedsRange(t *testing.T) {
	withFakes(t, nil)
	withUploadFakes(t, "video/mp4", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/resume",
		strings.NewReader(`{"location": "https://upload.example/s/1", "source": {"kind": "local", "path": "clip.mp4"}}`))
	rec := serve(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUploadHandler(t *testing.T) {
	fake := withFakes(t, nil)
	fake.uploads["u1"] = &db.Upload{UploadKey: "u1", ClientKey: "ck", Status: "Completed", Transferred: 100}

	rec := serve(httptest.NewRequest(http.MethodGet, "/api/uploads/u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var upload db.Upload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &upload))
	assert.Equal(t, "Completed", upload.Status)

	rec = serve(httptest.NewRequest(http.MethodGet, "/api/uploads/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListUploadsHandler(t *testing.T) {
	fake := withFakes(t, nil)
	fake.uploads["u1"] = &db.Upload{UploadKey: "u1", ClientKey: "ck", Status: "Pending"}
	fake.uploads["u2"] = &db.Upload{UploadKey: "u2", ClientKey: "other", Status: "Pending"}

	rec := serve(httptest.NewRequest(http.MethodGet, "/api/accounts/ck/uploads?page=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body UploadsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, PaginationInfo{Page: 2, Size: 1}, body.PageInfo)
	require.Len(t, body.Uploads, 1)
	assert.Equal(t, "u1", body.Uploads[0].UploadKey)
}

func TestListLocalSources(t *testing.T) {
	dir := t.TempDir()
	previous := constants.LocalRoot
	constants.LocalRoot = dir
	t.Cleanup(func() { constants.LocalRoot = previous })
	mp4 := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2', 0x00, 0x00, 0x00, 0x00, 'm', 'p', '4', '2', 'i', 's', 'o', 'm'}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), mp4, 0o644))

	rec := serve(httptest.NewRequest(http.MethodGet, "/api/sources/local", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body SourcesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Files, 1)
	assert.Equal(t, "clip.mp4", body.Files[0].Path)
}

func TestListStorageSourcesNeedsBucket(t *testing.T) {
	rec := serve(httptest.NewRequest(http.MethodGet, "/api/sources/gcs", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
