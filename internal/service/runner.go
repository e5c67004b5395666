package service

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/king-of-kingdom/tubegrab/internal/metadata"
	"github.com/king-of-kingdom/tubegrab/internal/model"
	"github.com/king-of-kingdom/tubegrab/internal/store"
	"github.com/king-of-kingdom/tubegrab/internal/ytdlp"
)

// Tool is the extraction half of the external tool.
type Tool interface {
	Download(ctx context.Context, opts ytdlp.DownloadOptions) error
}

type RunnerConfig struct {
	DownloadDir     string
	Timeout         time.Duration
	MetadataTimeout time.Duration
	// SimulateEvery is how often the simulated climb is considered;
	// SimulateAfter is how long the tool must stay silent first.
	SimulateEvery time.Duration
	SimulateAfter time.Duration
}

// Runner executes one conversion job end to end, reporting through the store.
type Runner struct {
	cfg    RunnerConfig
	store  store.Store
	tool   Tool
	titles metadata.Source
	logger *log.Logger
	now    func() time.Time
}

func NewRunner(cfg RunnerConfig, st store.Store, tool Tool, titles metadata.Source, logger *log.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = 30 * time.Second
	}
	if cfg.SimulateEvery <= 0 {
		cfg.SimulateEvery = time.Second
	}
	if cfg.SimulateAfter <= 0 {
		cfg.SimulateAfter = 3 * time.Second
	}
	return &Runner{
		cfg:    cfg,
		store:  st,
		tool:   tool,
		titles: titles,
		logger: logger,
		now:    time.Now,
	}
}

// Run never returns an error: every failure ends as an error record.
func (r *Runner) Run(ctx context.Context, req model.Request) {
	id := req.JobID
	if err := store.SetProgress(r.store, id, model.StatusProcessing, progressStart, "Fetching video info..."); err != nil {
		r.logger.Printf("job %s not started: %v", id, err)
		return
	}

	title := r.fetchTitle(ctx, req.URL)
	_ = store.SetProgress(r.store, id, model.StatusProcessing, progressMetadata, "Starting download...")

	path, info, err := r.execute(ctx, req)
	if err != nil {
		r.fail(req, err)
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		ext = string(req.Format)
	}
	filename := sanitizeFilename(title) + "." + ext

	err = r.store.Update(id, func(j *model.Job) {
		j.Status = model.StatusCompleted
		j.Progress = 100
		j.Message = "Conversion complete!"
		j.FilePath = path
		j.Filename = filename
		j.FileSize = info.Size()
	})
	if err != nil {
		// record evicted while we worked; nobody can download the file
		r.logger.Printf("job %s finished without a record: %v", id, err)
		_ = os.Remove(path)
		return
	}
	r.logger.Printf("job %s completed: %s (%d bytes)", id, filename, info.Size())
}

func (r *Runner) fetchTitle(ctx context.Context, url string) string {
	if r.titles == nil {
		return DefaultTitle
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.MetadataTimeout)
	defer cancel()
	info, err := r.titles.Lookup(ctx, url)
	if err != nil || strings.TrimSpace(info.Title) == "" {
		return DefaultTitle
	}
	return info.Title
}

func (r *Runner) execute(ctx context.Context, req model.Request) (string, os.FileInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	id := req.JobID
	dir := r.cfg.DownloadDir
	expected := filepath.Join(dir, id+"."+string(req.Format))

	tr := newTracker(progressMetadata, "Starting download...", r.now, func(p float64, msg string) {
		_ = store.SetProgress(r.store, id, model.StatusProcessing, p, msg)
	})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.cfg.SimulateEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tr.simulate(r.cfg.SimulateAfter)
			}
		}
	}()

	err := r.tool.Download(ctx, ytdlp.DownloadOptions{
		URL:            req.URL,
		Format:         req.Format,
		Quality:        req.Quality,
		OutputTemplate: filepath.Join(dir, id+".%(ext)s"),
		OnProgress: func(p ytdlp.Progress) {
			tr.report(p, req.Format)
		},
	})
	close(stop)
	wg.Wait()
	if err != nil {
		return "", nil, err
	}

	return locateArtifact(dir, id, expected)
}

func finalizingMessage(f model.Format) string {
	if f == model.FormatMP3 {
		return "Converting to MP3..."
	}
	return "Merging video and audio..."
}

func (r *Runner) fail(req model.Request, err error) {
	r.logger.Printf("job %s failed: %v", req.JobID, err)
	removeJobFiles(r.cfg.DownloadDir, req.JobID)
	_ = store.SetProgress(r.store, req.JobID, model.StatusError, 0, failureMessage(err))
}

// failureMessage keeps tool output and paths out of what clients see.
func failureMessage(err error) string {
	switch {
	case ytdlp.IsTimeout(err):
		return "Conversion timed out"
	case errors.Is(err, context.Canceled):
		return "Server is shutting down"
	case errors.Is(err, ErrArtifactMissing):
		return "Conversion failed: file not created"
	case errors.Is(err, ytdlp.ErrToolUnavailable):
		return "Converter is unavailable, try again later"
	default:
		return "Conversion failed. Check the URL and try again."
	}
}
