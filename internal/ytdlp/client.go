package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goytdlp "github.com/lrstanley/go-ytdlp"

	"github.com/king-of-kingdom/tubegrab/internal/metadata"
	"github.com/king-of-kingdom/tubegrab/internal/model"
)

// progressFrequency is how often yt-dlp is asked to report progress.
const progressFrequency = 500 * time.Millisecond

// Progress is one structured report from a running download.
type Progress struct {
	// Percent is the raw 0-100 completion of the current stream.
	Percent float64
	// Finished marks the end of a stream's transfer; post-processing may follow.
	Finished bool
}

// DownloadOptions describes one media extraction. OutputTemplate is passed
// to --output unchanged, so it may carry %(ext)s.
type DownloadOptions struct {
	URL            string
	Format         model.Format
	Quality        int
	OutputTemplate string
	OnProgress     func(Progress)
}

type Client struct {
	bin *Binary
}

func NewClient(bin *Binary) *Client {
	return &Client{bin: bin}
}

func (c *Client) Ready() bool { return c.bin.Ready() }

// Name identifies this source in logs.
func (c *Client) Name() string { return "yt-dlp" }

// Lookup runs the tool in metadata mode.
func (c *Client) Lookup(ctx context.Context, url string) (metadata.Info, error) {
	if strings.TrimSpace(url) == "" {
		return metadata.Info{}, errors.New("video URL is required")
	}
	path, err := c.bin.Resolve(ctx)
	if err != nil {
		return metadata.Info{}, err
	}

	result, err := goytdlp.New().
		SetExecutable(path).
		DumpJSON().
		NoPlaylist().
		SkipDownload().
		NoWarnings().
		Run(ctx, "--", url)
	if err != nil {
		return metadata.Info{}, fmt.Errorf("yt-dlp failed: %w", err)
	}

	infos, err := result.GetExtractedInfo()
	if err != nil {
		return metadata.Info{}, fmt.Errorf("decode yt-dlp output: %w", err)
	}
	if len(infos) == 0 {
		return metadata.Info{}, errors.New("yt-dlp returned no video info")
	}
	return infoFrom(infos[0]), nil
}

func infoFrom(v *goytdlp.ExtractedInfo) metadata.Info {
	info := metadata.Info{
		ID:        v.ID,
		Title:     deref(v.Title),
		Author:    deref(v.Uploader),
		Thumbnail: deref(v.Thumbnail),
	}
	if info.Author == "" {
		info.Author = deref(v.Channel)
	}
	if v.Duration != nil {
		info.Duration = time.Duration(*v.Duration * float64(time.Second))
	}
	if v.ViewCount != nil {
		info.Views = int64(*v.ViewCount)
	}
	return info
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Download runs the tool in extraction mode and blocks until it exits.
func (c *Client) Download(ctx context.Context, opts DownloadOptions) error {
	cmd, err := DownloadCommand(opts)
	if err != nil {
		return err
	}
	path, err := c.bin.Resolve(ctx)
	if err != nil {
		return err
	}
	cmd.SetExecutable(path)

	if opts.OnProgress != nil {
		cmd.ProgressFunc(progressFrequency, func(update goytdlp.ProgressUpdate) {
			if p, ok := progressFrom(update); ok {
				opts.OnProgress(p)
			}
		})
	}

	if _, err := cmd.Run(ctx, "--", opts.URL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("yt-dlp interrupted: %w", ctxErr)
		}
		return fmt.Errorf("yt-dlp failed: %w", err)
	}
	return nil
}

// DownloadCommand builds the yt-dlp invocation for opts, without executable
// or URL. The URL goes after "--" so it can never be read as an option.
func DownloadCommand(opts DownloadOptions) (*goytdlp.Command, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("video URL is required")
	}
	if strings.TrimSpace(opts.OutputTemplate) == "" {
		return nil, errors.New("output template is required")
	}

	// --no-mtime: artifacts must look fresh to the janitor's age sweep.
	cmd := goytdlp.New().
		NoPlaylist().
		NoWarnings().
		ForceOverwrites().
		NoMtime().
		Output(opts.OutputTemplate)

	switch opts.Format {
	case model.FormatMP3:
		bitrate := opts.Quality
		if bitrate <= 0 {
			bitrate = model.DefaultAudioBitrate
		}
		cmd.Format("bestaudio/best").
			ExtractAudio().
			AudioFormat("mp3").
			AudioQuality(fmt.Sprintf("%dK", bitrate))
	case model.FormatMP4:
		height := opts.Quality
		if height <= 0 {
			height = model.DefaultVideoHeight
		}
		cmd.Format(selectVideoFormat(height)).
			MergeOutputFormat("mp4")
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, opts.Format)
	}
	return cmd, nil
}

func selectVideoFormat(height int) string {
	return fmt.Sprintf(
		"bv*[height<=%[1]d][ext=mp4]+ba[ext=m4a]/bv*[height<=%[1]d]+ba/b[height<=%[1]d]/b",
		height,
	)
}

// progressFrom drops updates that carry no usable percentage, so silence
// stays silence for the caller.
func progressFrom(u goytdlp.ProgressUpdate) (Progress, bool) {
	switch u.Status {
	case goytdlp.ProgressStatusFinished, goytdlp.ProgressStatusPostProcessing:
		return Progress{Percent: 100, Finished: true}, true
	case goytdlp.ProgressStatusDownloading:
		if u.TotalBytes <= 0 {
			return Progress{}, false
		}
		pct := u.Percent()
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		return Progress{Percent: pct}, true
	}
	return Progress{}, false
}

// IsTimeout reports whether err came from a deadline on the tool's context.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
