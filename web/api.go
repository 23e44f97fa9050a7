package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"
	"github.com/jyothri/picasa-bridge/collect"
	"github.com/jyothri/picasa-bridge/constants"
	"github.com/jyothri/picasa-bridge/db"
	"github.com/jyothri/picasa-bridge/picasa"
)

// Store is the persistence used by the handlers.
type Store interface {
	SaveOAuthToken(accessToken, refreshToken, displayName, clientKey, scope string) error
	GetOAuthToken(clientKey string) (db.PrivateToken, error)
	UpdateAccessToken(clientKey, accessToken string) error
	GetRequestAccountsFromDb() ([]db.Account, error)
	GetUploadByKey(uploadKey string) (*db.Upload, error)
	GetUploadsFromDb(clientKey string, pageNo int) ([]db.Upload, int, error)
}

type dbStore struct{}

func (dbStore) SaveOAuthToken(accessToken, refreshToken, displayName, clientKey, scope string) error {
	return db.SaveOAuthToken(accessToken, refreshToken, displayName, clientKey, scope)
}

func (dbStore) GetOAuthToken(clientKey string) (db.PrivateToken, error) {
	return db.GetOAuthToken(clientKey)
}

func (dbStore) UpdateAccessToken(clientKey, accessToken string) error {
	return db.UpdateAccessToken(clientKey, accessToken)
}

func (dbStore) GetRequestAccountsFromDb() ([]db.Account, error) {
	return db.GetRequestAccountsFromDb()
}

func (dbStore) GetUploadByKey(uploadKey string) (*db.Upload, error) {
	return db.GetUploadByKey(uploadKey)
}

func (dbStore) GetUploadsFromDb(clientKey string, pageNo int) ([]db.Upload, int, error) {
	return db.GetUploadsFromDb(clientKey, pageNo)
}

var store Store = dbStore{}

func api(r *mux.Router) {
	// Handle API routes
	api := r.PathPrefix("/api/").Subrouter()
	api.Use(RequestSizeLimitMiddleware(DefaultMaxBodySize))
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	api.HandleFunc("/auth/url", AuthUrlHandler).Methods("GET")
	api.HandleFunc("/accounts", GetRequestAccountsHandler).Methods("GET")
	api.HandleFunc("/accounts/{client_key}/renew", RenewTokenHandler).Methods("POST")
	api.HandleFunc("/accounts/{client_key}/albums", ListAlbumsHandler).Methods("GET")
	api.HandleFunc("/accounts/{client_key}/albums", CreateAlbumHandler).Methods("POST")
	api.HandleFunc("/accounts/{client_key}/photos", ListPhotosHandler).Methods("GET")
	api.HandleFunc("/accounts/{client_key}/albums/{album_id}/photos/{photo_id}", DeletePhotoHandler).Methods("DELETE")
	api.HandleFunc("/accounts/{client_key}/videos", ListVideosHandler).Methods("GET")
	api.HandleFunc("/accounts/{client_key}/albums/{album_id}/videos", PostVideoHandler).Methods("POST")
	api.HandleFunc("/accounts/{client_key}/uploads", ListUploadsHandler).Methods("GET").Queries("page", "{page}")
	api.HandleFunc("/accounts/{client_key}/uploads", ListUploadsHandler).Methods("GET")
	api.HandleFunc("/accounts/{client_key}/sources/drive", ListDriveSourcesHandler).Methods("GET")
	api.HandleFunc("/uploads/resume", ResumeUploadHandler).Methods("POST")
	api.HandleFunc("/uploads/{upload_key}", GetUploadHandler).Methods("GET")
	api.HandleFunc("/sources/local", ListLocalSourcesHandler).Methods("GET")
	api.HandleFunc("/sources/gcs", ListStorageSourcesHandler).Methods("GET")

	// Photo uploads carry the binary and get a larger body limit.
	photos := r.PathPrefix("/api/").Subrouter()
	photos.Use(RequestSizeLimitMiddleware(PhotoUploadMaxBodySize))
	photos.HandleFunc("/accounts/{client_key}/albums/{album_id}/photos", PostPhotoHandler).Methods("POST")
}

// authConfig is the OAuth client of this server. Drive sources need the
// Drive scope next to the photo scope.
func authConfig(redirectUri string, withDrive bool) picasa.AuthConfig {
	cfg := picasa.AuthConfig{
		ClientID:     constants.OauthClientId,
		ClientSecret: constants.OauthClientSecret,
		RedirectURI:  redirectUri,
	}
	if withDrive {
		cfg.ExtraScopes = []string{collect.DriveScope}
	}
	return cfg
}

func AuthUrlHandler(w http.ResponseWriter, r *http.Request) {
	redirectUri := r.URL.Query().Get("redirectUri")
	if redirectUri == "" {
		redirectUri = constants.OauthRedirectUri
	}
	withDrive, _ := strconv.ParseBool(r.URL.Query().Get("drive"))
	body := AuthUrlResponse{Url: photoClient.AuthURL(authConfig(redirectUri, withDrive))}
	writeJSONResponse(w, body, http.StatusOK)
}

func GetRequestAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := store.GetRequestAccountsFromDb()
	if err != nil {
		slog.Error("Failed to get request accounts from database", "error", err)
		http.Error(w, "Failed to retrieve accounts", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, accounts, http.StatusOK)
}

func RenewTokenHandler(w http.ResponseWriter, r *http.Request) {
	clientKey := mux.Vars(r)["client_key"]
	token, err := store.GetOAuthToken(clientKey)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if _, err := renewAccessToken(r.Context(), token); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, map[string]bool{"ok": true}, http.StatusOK)
}

// renewAccessToken trades the refresh token of token for a new access token
// and stores it.
func renewAccessToken(ctx context.Context, token db.PrivateToken) (string, error) {
	accessToken, err := photoClient.RenewAccessToken(ctx, authConfig(constants.OauthRedirectUri, false), token.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := store.UpdateAccessToken(token.Client_key, accessToken); err != nil {
		return "", err
	}
	slog.Info("Renewed access token", "client_key", token.Client_key)
	return accessToken, nil
}

// withAccessToken runs call with the stored access token of clientKey. A
// rejected token is renewed once and call is repeated with the new one.
func withAccessToken(ctx context.Context, clientKey string, call func(accessToken string) error) error {
	token, err := store.GetOAuthToken(clientKey)
	if err != nil {
		return err
	}
	err = call(token.AccessToken)
	if status := picasa.StatusCode(err); status != http.StatusUnauthorized && status != http.StatusForbidden {
		return err
	}
	slog.Info("Access token rejected, renewing", "client_key", clientKey, "status_code", picasa.StatusCode(err))
	accessToken, err := renewAccessToken(ctx, token)
	if err != nil {
		return err
	}
	return call(accessToken)
}

func ListAlbumsHandler(w http.ResponseWriter, r *http.Request) {
	clientKey := mux.Vars(r)["client_key"]
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, "INVALID_REQUEST", err.Error(), http.StatusBadRequest)
		return
	}
	var albums []picasa.Album
	err = withAccessToken(r.Context(), clientKey, func(accessToken string) error {
		albums, err = photoClient.GetAlbums(r.Context(), accessToken, opts)
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	body := ListAlbumsResponse{
		PageInfo: pageInfo(opts, len(albums)),
		Albums:   albums,
	}
	writeJSONResponse(w, body, http.StatusOK)
}

func CreateAlbumHandler(w http.ResponseWriter, r *http.Request) {
	clientKey := mux.Vars(r)["client_key"]
	var data picasa.AlbumData
	err := json.NewDecoder(r.Body).Decode(&data)
	if handleMaxBytesError(w, r, err, DefaultMaxBodySize) {
		return
	}
	if err != nil || data.Title == "" {
		writeError(w, "INVALID_REQUEST", "Album title is required", http.StatusBadRequest)
		return
	}
	var album picasa.Album
	err = withAccessToken(r.Context(), clientKey, func(accessToken string) error {
		album, err = photoClient.CreateAlbum(r.Context(), accessToken, data)
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	slog.Info("Created album", "client_key", clientKey, "album_id", album.ID)
	writeJSONResponse(w, album, http.StatusCreated)
}

func ListPhotosHandler(w http.ResponseWriter, r *http.Request) {
	clientKey := mux.Vars(r)["client_key"]
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, "INVALID_REQUEST", err.Error(), http.StatusBadRequest)
		return
	}
	var photos []picasa.Photo
	err = withAccessToken(r.Context(), clientKey, func(accessToken string) error {
		photos, err = photoClient.GetPhotos(r.Context(), accessToken, opts)
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	body := ListPhotosResponse{
		PageInfo: pageInfo(opts, len(photos)),
		Photos:   photos,
	}
	writeJSONResponse(w, body, http.StatusOK)
}

func PostPhotoHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientKey := vars["client_key"]
	albumId := vars["album_id"]

	err := r.ParseMultipartForm(photoFormMemory)
	if handleMaxBytesError(w, r, err, PhotoUploadMaxBodySize) {
		return
	}
	if err != nil {
		writeError(w, "INVALID_REQUEST", "Invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "INVALID_REQUEST", "Form field file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType, err := photoContentType(file, header)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, "UNSUPPORTED_MEDIA", fmt.Sprintf("%s is not an image", contentType), http.StatusUnsupportedMediaType)
		return
	}
	title := r.FormValue("title")
	if title == "" {
		title = header.Filename
	}

	var photo picasa.Photo
	err = withAccessToken(r.Context(), clientKey, func(accessToken string) error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		photo, err = photoClient.PostPhoto(r.Context(), accessToken, albumId, picasa.PhotoData{
			Title:       title,
			Summary:     r.FormValue("summary"),
			ContentType: contentType,
			Binary:      file,
		})
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	slog.Info("Posted photo",
		"client_key", clientKey,
		"album_id", albumId,
		"photo_id", photo.ID,
		"size", header.Size)
	writeJSONResponse(w, photo, http.StatusCreated)
}

// photoContentType prefers the declared type of the part and sniffs the
// content otherwise.
func photoContentType(file multipart.File, header *multipart.FileHeader) (string, error) {
	declared := header.Header.Get("Content-Type")
	if declared != "" && declared != "application/octet-stream" {
		return declared, nil
	}
	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		return "", fmt.Errorf("failed to detect type of %s: %w", header.Filename, err)
	}
	return mtype.String(), nil
}

func DeletePhotoHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientKey := vars["client_key"]
	err := withAccessToken(r.Context(), clientKey, func(accessToken string) error {
		return photoClient.DeletePhoto(r.Context(), accessToken, vars["album_id"], vars["photo_id"])
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	slog.Info("Deleted photo", "client_key", clientKey, "album_id", vars["album_id"], "photo_id", vars["photo_id"])
	w.WriteHeader(http.StatusOK)
}

func ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	clientKey := mux.Vars(r)["client_key"]
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, "INVALID_REQUEST", err.Error(), http.StatusBadRequest)
		return
	}
	var videos []picasa.Video
	err = withAccessToken(r.Context(), clientKey, func(accessToken string) error {
		videos, err = photoClient.GetVideos(r.Context(), accessToken, opts)
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	body := ListVideosResponse{
		PageInfo: pageInfo(opts, len(videos)),
		Videos:   videos,
	}
	writeJSONResponse(w, body, http.StatusOK)
}

// listOptions reads album_id, max_results and start_index from the query.
func listOptions(r *http.Request) (picasa.Options, error) {
	query := r.URL.Query()
	opts := picasa.Options{AlbumID: query.Get("album_id")}
	for field, target := range map[string]*int{"max_results": &opts.MaxResults, "start_index": &opts.StartIndex} {
		value := query.Get(field)
		if value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid %s: %q", field, value)
		}
		*target = n
	}
	return opts, nil
}

func pageInfo(opts picasa.Options, size int) PaginationInfo {
	page := 1
	if opts.MaxResults > 0 && opts.StartIndex > 1 {
		page = (opts.StartIndex-1)/opts.MaxResults + 1
	}
	return PaginationInfo{Page: page, Size: size}
}

func getIntFromMap(vars map[string]string, field string) (int, bool) {
	field, present := vars[field]
	if !present {
		return 0, false
	}
	fieldInt, err := strconv.Atoi(field)
	if err != nil {
		return 0, false
	}
	return fieldInt, true
}

func getPageNumber(vars map[string]string) int {
	page, present := getIntFromMap(vars, "page")
	if !present || page < 1 {
		return 1
	}
	return page
}

// writeJSONResponse writes a JSON response with the given status code
func writeJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")

	serializedBody, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to marshal JSON", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(statusCode)

	if _, err := w.Write(serializedBody); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

type PaginationInfo struct {
	Size int `json:"size"`
	Page int `json:"page"`
}

type AuthUrlResponse struct {
	Url string `json:"url"`
}

type ListAlbumsResponse struct {
	PageInfo PaginationInfo `json:"pagination_info"`
	Albums   []picasa.Album `json:"albums"`
}

type ListPhotosResponse struct {
	PageInfo PaginationInfo `json:"pagination_info"`
	Photos   []picasa.Photo `json:"photos"`
}

type ListVideosResponse struct {
	PageInfo PaginationInfo `json:"pagination_info"`
	Videos   []picasa.Video `json:"videos"`
}
