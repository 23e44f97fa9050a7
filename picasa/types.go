package picasa

import (
	"io"
	"time"
)

// Album is a remote photo album.
type Album struct {
	ID        string `mapstructure:"id" json:"id"`
	Name      string `mapstructure:"name" json:"name"`
	NumPhotos string `mapstructure:"num_photos" json:"num_photos"`
	Published string `mapstructure:"published" json:"published"`
	Title     string `mapstructure:"title" json:"title"`
	Summary   string `mapstructure:"summary" json:"summary"`
	Location  string `mapstructure:"location" json:"location"`
	Nickname  string `mapstructure:"nickname" json:"nickname"`
}

// Content describes where the media bytes of a photo or video live.
// Thumb is only set on videos and keeps the original content src.
type Content struct {
	Type  string `mapstructure:"type" json:"type"`
	Src   string `mapstructure:"src" json:"src"`
	Thumb string `mapstructure:"thumb" json:"thumb,omitempty"`
}

// Photo is a remote photo entry.
type Photo struct {
	ID                string  `mapstructure:"id" json:"id"`
	AlbumID           string  `mapstructure:"album_id" json:"album_id"`
	Access            string  `mapstructure:"access" json:"access"`
	Width             string  `mapstructure:"width" json:"width"`
	Height            string  `mapstructure:"height" json:"height"`
	Size              string  `mapstructure:"size" json:"size"`
	Checksum          string  `mapstructure:"checksum" json:"checksum"`
	Timestamp         string  `mapstructure:"timestamp" json:"timestamp"`
	ImageVersion      string  `mapstructure:"image_version" json:"image_version"`
	CommentingEnabled string  `mapstructure:"commenting_enabled" json:"commenting_enabled"`
	CommentCount      string  `mapstructure:"comment_count" json:"comment_count"`
	Content           Content `mapstructure:"content" json:"content"`
	Title             string  `mapstructure:"title" json:"title"`
	Summary           string  `mapstructure:"summary" json:"summary"`
}

// VideoSource is one encoded variant of a video.
type VideoSource struct {
	URL    string `mapstructure:"url" json:"url"`
	Type   string `mapstructure:"type" json:"type"`
	Medium string `mapstructure:"medium" json:"medium"`
	Height int    `mapstructure:"height" json:"height"`
	Width  int    `mapstructure:"width" json:"width"`
}

// Thumbnail is a preview image of a video.
type Thumbnail struct {
	URL    string `mapstructure:"url" json:"url"`
	Height int    `mapstructure:"height" json:"height"`
	Width  int    `mapstructure:"width" json:"width"`
}

// Video is a photo entry carrying video variants. Content points at the
// chosen default variant.
type Video struct {
	Photo
	CapturedAt           time.Time     `json:"ts"`
	Sources              []VideoSource `json:"sources"`
	Thumbnails           []Thumbnail   `json:"thumbnail"`
	OrgResolutionPresent bool          `json:"orgResolutionPresent"`
}

// Options filter and page list operations. Zero values are omitted.
type Options struct {
	MaxResults int
	StartIndex int
	AlbumID    string
}

// AlbumData is the caller supplied metadata of a new album.
type AlbumData struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// PhotoData is a new photo: metadata plus the binary content.
type PhotoData struct {
	Title       string
	Summary     string
	ContentType string
	Binary      io.Reader
}

// ByteRange is an inclusive range of the logical upload.
type ByteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

// VideoData describes a video upload. ContentLength is the total size of
// the logical upload; Body streams the bytes of Range (or of the whole
// content when Range is nil).
type VideoData struct {
	Title         string
	Summary       string
	MimeType      string
	ContentLength int64
	Range         *ByteRange
	Body          io.Reader
}

// Credentials are the opaque tokens issued by the authorization server.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// Scope is the space separated list of granted scopes, when reported.
	Scope string `json:"scope,omitempty"`
}

// AuthConfig identifies the OAuth client.
type AuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
	// ExtraScopes are requested next to the photo scope.
	ExtraScopes []string `json:"extra_scopes,omitempty"`
}
