package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jyothri/picasa-bridge/collect"
	"github.com/jyothri/picasa-bridge/db"
	"github.com/jyothri/picasa-bridge/picasa"
)

// Swapped in tests.
var (
	openSource  = collect.OpenSource
	startUpload = func(upload collect.VideoUpload) (string, error) {
		return collect.StartVideoUpload(photoClient, upload)
	}
)

func PostVideoHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientKey := vars["client_key"]
	albumId := vars["album_id"]

	var req PostVideoRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if handleMaxBytesError(w, r, err, DefaultMaxBodySize) {
		return
	}
	if err != nil {
		slog.Error("Failed to decode video request", "error", err)
		writeError(w, "INVALID_REQUEST", "Invalid request body", http.StatusBadRequest)
		return
	}
	slog.Info("Received video upload request",
		"client_key", clientKey,
		"album_id", albumId,
		"source_kind", req.Source.Kind)

	token, err := store.GetOAuthToken(clientKey)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// The session is created from the background job, long after a stored
	// token may have expired.
	accessToken, err := renewAccessToken(r.Context(), token)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	src, ok := openVideoSource(w, r, req.Source, token.RefreshToken, req.Range)
	if !ok {
		return
	}
	uploadKey, err := startUpload(collect.VideoUpload{
		ClientKey:   clientKey,
		AccessToken: accessToken,
		AlbumId:     albumId,
		Title:       req.Title,
		Summary:     req.Summary,
		Range:       req.Range,
		Source:      src,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, UploadResponse{UploadKey: uploadKey}, http.StatusAccepted)
}

func ResumeUploadHandler(w http.ResponseWriter, r *http.Request) {
	var req ResumeUploadRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if handleMaxBytesError(w, r, err, DefaultMaxBodySize) {
		return
	}
	if err != nil {
		slog.Error("Failed to decode resume request", "error", err)
		writeError(w, "INVALID_REQUEST", "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Location == "" || req.Range == nil {
		writeError(w, "INVALID_REQUEST", "location and range are required", http.StatusBadRequest)
		return
	}

	// Only Drive sources need the account.
	var refreshToken string
	if req.ClientKey != "" {
		token, err := store.GetOAuthToken(req.ClientKey)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		refreshToken = token.RefreshToken
	}

	src, ok := openVideoSource(w, r, req.Source, refreshToken, req.Range)
	if !ok {
		return
	}
	uploadKey, err := startUpload(collect.VideoUpload{
		ClientKey: req.ClientKey,
		Location:  req.Location,
		Range:     req.Range,
		Source:    src,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, UploadResponse{UploadKey: uploadKey}, http.StatusAccepted)
}

// openVideoSource opens spec for an upload job. The job outlives the request,
// so the source is not bound to its cancellation. On failure the error
// response is written and ok is false.
func openVideoSource(w http.ResponseWriter, r *http.Request, spec collect.SourceSpec, refreshToken string, rng *picasa.ByteRange) (*collect.Source, bool) {
	src, err := openSource(context.WithoutCancel(r.Context()), spec, refreshToken, rng)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if !strings.HasPrefix(src.MimeType, "video/") {
		src.Body.Close()
		writeError(w, "UNSUPPORTED_MEDIA", fmt.Sprintf("%s is not a video", src.MimeType), http.StatusUnsupportedMediaType)
		return nil, false
	}
	return src, true
}

func GetUploadHandler(w http.ResponseWriter, r *http.Request) {
	uploadKey := mux.Vars(r)["upload_key"]
	upload, err := store.GetUploadByKey(uploadKey)
	if err != nil {
		slog.Warn("Failed to get upload", "upload_key", uploadKey, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, upload, http.StatusOK)
}

func ListUploadsHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientKey := vars["client_key"]
	pageNo := getPageNumber(vars)
	uploads, totResults, err := store.GetUploadsFromDb(clientKey, pageNo)
	if err != nil {
		slog.Error("Failed to get uploads from database",
			"client_key", clientKey,
			"page", pageNo,
			"error", err)
		http.Error(w, "Failed to retrieve uploads", http.StatusInternalServerError)
		return
	}
	body := UploadsResponse{
		PageInfo: PaginationInfo{Page: pageNo, Size: totResults},
		Uploads:  uploads,
	}
	writeJSONResponse(w, body, http.StatusOK)
}

func ListLocalSourcesHandler(w http.ResponseWriter, r *http.Request) {
	files, err := collect.ListLocalVideos(r.URL.Query().Get("path"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, SourcesResponse{Files: files}, http.StatusOK)
}

func ListDriveSourcesHandler(w http.ResponseWriter, r *http.Request) {
	token, err := store.GetOAuthToken(mux.Vars(r)["client_key"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	files, err := collect.ListDriveVideos(r.Context(), token.RefreshToken, r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, SourcesResponse{Files: files}, http.StatusOK)
}

func ListStorageSourcesHandler(w http.ResponseWriter, r *http.Request) {
	bucket := r.URL.Query().Get("bucket")
	if bucket == "" {
		writeError(w, "INVALID_REQUEST", "bucket is required", http.StatusBadRequest)
		return
	}
	files, err := collect.ListStorageVideos(r.Context(), bucket, r.URL.Query().Get("prefix"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONResponse(w, SourcesResponse{Files: files}, http.StatusOK)
}

type PostVideoRequest struct {
	Source  collect.SourceSpec `json:"source"`
	Title   string             `json:"title"`
	Summary string             `json:"summary"`
	Range   *picasa.ByteRange  `json:"range,omitempty"`
}

type ResumeUploadRequest struct {
	ClientKey string             `json:"client_key,omitempty"`
	Location  string             `json:"location"`
	Source    collect.SourceSpec `json:"source"`
	Range     *picasa.ByteRange  `json:"range"`
}

type UploadResponse struct {
	UploadKey string `json:"upload_key"`
}

type UploadsResponse struct {
	PageInfo PaginationInfo `json:"pagination_info"`
	Uploads  []db.Upload    `json:"uploads"`
}

type SourcesResponse struct {
	Files []collect.SourceFile `json:"files"`
}
