// Package metadata looks up display information for a video URL and formats
// it for API responses.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

var ErrNoSource = errors.New("no metadata source available")

// Info is what /api/info reports about a video.
type Info struct {
	ID        string
	Title     string
	Author    string
	Thumbnail string
	Duration  time.Duration
	Views     int64
}

// Source resolves a URL into Info.
type Source interface {
	Name() string
	Lookup(ctx context.Context, url string) (Info, error)
}

// Chain tries each source in order and returns the first success.
type Chain struct {
	sources []Source
	logger  *log.Logger
}

func NewChain(logger *log.Logger, sources ...Source) *Chain {
	return &Chain{sources: sources, logger: logger}
}

func (c *Chain) Name() string {
	names := make([]string, 0, len(c.sources))
	for _, s := range c.sources {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

func (c *Chain) Lookup(ctx context.Context, url string) (Info, error) {
	if len(c.sources) == 0 {
		return Info{}, ErrNoSource
	}
	var errs []error
	for _, s := range c.sources {
		info, err := s.Lookup(ctx, url)
		if err == nil {
			return info, nil
		}
		c.logger.Printf("metadata source %s failed for %s: %v", s.Name(), url, err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return Info{}, errors.Join(errs...)
}

// FormatDuration renders d as H:MM:SS, or M:SS under an hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatViews abbreviates large counts: 999, 1.5K, 2.3M, 1.1B.
func FormatViews(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1_000_000_000)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	case n < 0:
		return "0"
	default:
		return fmt.Sprintf("%d", n)
	}
}
