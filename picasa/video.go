package picasa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"
)

const videoMedium = "video"

var errNoVideoSource = errors.New("entry has no video source")

// GetVideos lists photo entries that carry video variants. Entries that
// cannot be interpreted as videos are logged and left out.
func (c *Client) GetVideos(ctx context.Context, accessToken string, opts Options) ([]Video, error) {
	var resp feedResponse
	if err := c.call(ctx, c.httpClient, c.feedRequest(accessToken, "photo", opts), &resp); err != nil {
		return nil, &RequestError{Op: "get videos", Err: err}
	}
	videos := make([]Video, 0, len(resp.Feed.Entry))
	for _, entry := range resp.Feed.Entry {
		video, err := videoFromEntry(entry)
		if err != nil {
			c.logger.Warn("Skipping video entry",
				"id", checkParam(entry["gphoto$id"]),
				"error", err)
			continue
		}
		videos = append(videos, video)
	}
	return videos, nil
}

type mediaGroup struct {
	Content   []VideoSource `mapstructure:"media$content"`
	Thumbnail []Thumbnail   `mapstructure:"media$thumbnail"`
}

func videoFromEntry(entry Entry) (Video, error) {
	var video Video
	if err := decodeRecord(ParseEntry(entry, PhotoSchema), &video.Photo); err != nil {
		return Video{}, err
	}

	raw, ok := entry["media$group"].(map[string]any)
	if !ok {
		return Video{}, fmt.Errorf("entry has no media group")
	}
	var group mediaGroup
	if err := decodeRecord(Record(raw), &group); err != nil {
		return Video{}, fmt.Errorf("failed to decode media group: %w", err)
	}

	video.CapturedAt = parseMillis(checkParam(entry["gphoto$timestamp"]))
	video.Thumbnails = group.Thumbnail
	video.Sources = make([]VideoSource, 0, len(group.Content))
	for _, source := range group.Content {
		if source.Medium == videoMedium {
			video.Sources = append(video.Sources, source)
		}
	}
	if len(video.Sources) == 0 {
		return Video{}, errNoVideoSource
	}

	source, exact := defaultSource(video.Sources, video.Height)
	video.OrgResolutionPresent = exact
	video.Content.Thumb = video.Content.Src
	video.Content.Src = source.URL
	video.Content.Type = source.Type
	return video, nil
}

// defaultSource picks the first source whose height matches the declared
// height of the entry, or else the widest one. sources must not be empty.
func defaultSource(sources []VideoSource, height string) (VideoSource, bool) {
	for _, source := range sources {
		if strconv.Itoa(source.Height) == height {
			return source, true
		}
	}
	byWidth := make([]VideoSource, len(sources))
	copy(byWidth, sources)
	sort.SliceStable(byWidth, func(i, j int) bool {
		return byWidth[i].Width < byWidth[j].Width
	})
	return byWidth[len(byWidth)-1], false
}

func parseMillis(value any) time.Time {
	ms, err := strconv.ParseInt(fmt.Sprint(value), 10, 64)
	if err != nil {
		slog.Debug("Unparseable capture timestamp", "value", value)
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
