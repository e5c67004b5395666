package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	goytdlp "github.com/lrstanley/go-ytdlp"
	"golang.org/x/sync/singleflight"
)

var ErrToolUnavailable = errors.New("yt-dlp is not available")

const installTimeout = 5 * time.Minute

// Binary resolves the yt-dlp executable once and caches the result. A failed
// resolution is retried on the next call. Concurrent callers share a single
// lookup or install, and readers never wait for one.
type Binary struct {
	name        string
	autoInstall bool
	logger      *log.Logger

	mu      sync.RWMutex
	path    string
	version string
	ready   atomic.Bool
	group   singleflight.Group

	lookPath func(string) (string, error)
	install  func(ctx context.Context) (string, string, error)
}

func NewBinary(name string, autoInstall bool, logger *log.Logger) *Binary {
	if name == "" {
		name = "yt-dlp"
	}
	return &Binary{
		name:        name,
		autoInstall: autoInstall,
		logger:      logger,
		lookPath:    exec.LookPath,
		install:     installManaged,
	}
}

func installManaged(ctx context.Context) (string, string, error) {
	resolved, err := goytdlp.Install(ctx, nil)
	if err != nil {
		return "", "", err
	}
	return resolved.Executable, resolved.Version, nil
}

// Resolve returns the executable path, looking it up on PATH first and
// downloading a managed copy when allowed. A caller whose ctx ends stops
// waiting; the shared resolution carries on for the others.
func (b *Binary) Resolve(ctx context.Context) (string, error) {
	if path := b.cached(); path != "" {
		return path, nil
	}

	ch := b.group.DoChan("resolve", func() (any, error) {
		return b.resolve(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("resolve yt-dlp: %w", ctx.Err())
	}
}

func (b *Binary) resolve(ctx context.Context) (string, error) {
	if path := b.cached(); path != "" {
		return path, nil
	}
	if path, err := b.lookPath(b.name); err == nil {
		b.store(path, "")
		return path, nil
	}
	if !b.autoInstall {
		return "", fmt.Errorf("%w: %s not found on PATH", ErrToolUnavailable, b.name)
	}

	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()
	path, version, err := b.install(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: install: %v", ErrToolUnavailable, err)
	}
	b.store(path, version)
	b.logger.Printf("yt-dlp %s installed at %s", version, path)
	return path, nil
}

func (b *Binary) cached() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.path
}

func (b *Binary) store(path, version string) {
	b.mu.Lock()
	b.path = path
	b.version = version
	b.mu.Unlock()
	b.ready.Store(true)
}

// Ready reports whether a previous Resolve succeeded. It never blocks.
func (b *Binary) Ready() bool {
	return b.ready.Load()
}

func (b *Binary) Version() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}
