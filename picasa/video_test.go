package picasa

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const videoEntryJSON = `{
	"gphoto$id": {"$t": "v1"},
	"gphoto$height": {"$t": "%s"},
	"gphoto$timestamp": {"$t": "1451703845000"},
	"content": {"type": "image/jpeg", "src": "https://lh3/v1.jpg"},
	"media$group": {
		"media$content": [
			{"url": "https://lh3/v1.jpg", "type": "image/jpeg", "medium": "image", "height": 720, "width": 1280},
			{"url": "https://v/360", "type": "video/mpeg4", "medium": "video", "height": 360, "width": 640},
			{"url": "https://v/720a", "type": "video/mpeg4", "medium": "video", "height": 720, "width": 1280},
			{"url": "https://v/720b", "type": "video/flv", "medium": "video", "height": 720, "width": 1280}
		],
		"media$thumbnail": [
			{"url": "https://lh3/t1.jpg", "height": 72, "width": 128}
		]
	}
}`

func TestVideoFromEntryMatchingHeight(t *testing.T) {
	video, err := videoFromEntry(decodeEntry(t, fmt.Sprintf(videoEntryJSON, "360")))
	require.NoError(t, err)

	assert.True(t, video.OrgResolutionPresent)
	assert.Equal(t, "https://v/360", video.Content.Src)
	assert.Equal(t, "video/mpeg4", video.Content.Type)
	assert.Equal(t, "https://lh3/v1.jpg", video.Content.Thumb)
	assert.Len(t, video.Sources, 3)
	assert.Equal(t, []Thumbnail{{URL: "https://lh3/t1.jpg", Height: 72, Width: 128}}, video.Thumbnails)
	assert.Equal(t, time.UnixMilli(1451703845000).UTC(), video.CapturedAt)
}

func TestVideoFromEntryFirstMatchWins(t *testing.T) {
	video, err := videoFromEntry(decodeEntry(t, fmt.Sprintf(videoEntryJSON, "720")))
	require.NoError(t, err)

	assert.True(t, video.OrgResolutionPresent)
	assert.Equal(t, "https://v/720a", video.Content.Src)
}

func TestVideoFromEntryWidestFallback(t *testing.T) {
	video, err := videoFromEntry(decodeEntry(t, fmt.Sprintf(videoEntryJSON, "1080")))
	require.NoError(t, err)

	assert.False(t, video.OrgResolutionPresent)
	// equal widths keep source order, the last one wins
	assert.Equal(t, "https://v/720b", video.Content.Src)
	assert.Equal(t, "video/flv", video.Content.Type)
	assert.Equal(t, "https://lh3/v1.jpg", video.Content.Thumb)
}

func TestVideoFromEntryRejects(t *testing.T) {
	for _, tc := range []struct {
		name  string
		entry string
	}{
		{"no media group", `{"gphoto$id": {"$t": "x"}}`},
		{"no video source", `{"media$group": {"media$content": [{"medium": "image", "url": "u"}]}}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := videoFromEntry(decodeEntry(t, tc.entry))
			assert.Error(t, err)
		})
	}
}

func TestGetVideosSkipsBrokenEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "photo", r.URL.Query().Get("kind"))
		assert.Equal(t, "/data/feed/api/user/default/albumid/a1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"feed": {"entry": [%s, {"gphoto$id": {"$t": "broken"}}]}}`, fmt.Sprintf(videoEntryJSON, "360"))
	}))
	defer server.Close()

	videos, err := newTestClient(server).GetVideos(context.Background(), "token", Options{AlbumID: "a1"})
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "v1", videos[0].ID)
}
