package metadata

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kkdai/youtube/v2"
)

// YouTubeSource reads metadata straight from YouTube without the external
// tool. It only understands YouTube URLs. It is safe for concurrent use.
type YouTubeSource struct {
	httpClient *http.Client
}

func NewYouTubeSource() *YouTubeSource {
	return &YouTubeSource{}
}

func (y *YouTubeSource) Name() string { return "youtube" }

func (y *YouTubeSource) Lookup(ctx context.Context, url string) (Info, error) {
	// youtube.Client mutates itself on first request, so each lookup gets its own.
	client := youtube.Client{HTTPClient: y.httpClient}
	video, err := client.GetVideoContext(ctx, url)
	if err != nil {
		return Info{}, fmt.Errorf("video info error: %w", err)
	}

	thumbnail := ""
	var widest uint
	for _, th := range video.Thumbnails {
		if th.Width >= widest {
			widest = th.Width
			thumbnail = th.URL
		}
	}

	return Info{
		ID:        video.ID,
		Title:     video.Title,
		Author:    video.Author,
		Thumbnail: thumbnail,
		Duration:  video.Duration,
		Views:     int64(video.Views),
	}, nil
}
