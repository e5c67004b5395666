package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/king-of-kingdom/tubegrab/internal/metadata"
	"github.com/king-of-kingdom/tubegrab/internal/model"
	"github.com/king-of-kingdom/tubegrab/internal/ratelimit"
	"github.com/king-of-kingdom/tubegrab/internal/store"
	"github.com/king-of-kingdom/tubegrab/internal/taskmgr"
)

var errInvalidURL = errors.New("invalid video URL")

// Queue is what the handlers need from the task manager.
type Queue interface {
	Submit(req model.Request) (string, error)
	QueueLength() int
	ActiveCount() int
}

type APIHandler struct {
	Store     store.Store
	Queue     Queue
	Info      metadata.Source
	ToolReady func() bool

	Limiter *ratelimit.Limiter
	Global  *ratelimit.Global

	InfoTimeout      time.Duration
	ProgressInterval time.Duration
	DownloadGrace    time.Duration
	Logger           *log.Logger

	scheduled sync.Map
}

type ConvertRequest struct {
	URL     string  `json:"url" binding:"required"`
	Format  string  `json:"format" binding:"required"`
	Quality Quality `json:"quality"`
}

// Quality accepts both 720 and "720p" on the wire.
type Quality string

func (q *Quality) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*q = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = Quality(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*q = Quality(n.String())
	return nil
}

func RegisterHandlers(r *gin.Engine, h *APIHandler) {
	if h.ProgressInterval <= 0 {
		h.ProgressInterval = 500 * time.Millisecond
	}
	if h.InfoTimeout <= 0 {
		h.InfoTimeout = 30 * time.Second
	}

	g := r.Group("/api")
	g.GET("/health", h.health)
	g.GET("/info", h.rateLimit(), h.info)
	g.POST("/convert", h.rateLimit(), h.convert)
	g.GET("/progress/:id", h.progress)
	g.GET("/download/:id", h.download)
}

func (h *APIHandler) health(c *gin.Context) {
	ready := false
	if h.ToolReady != nil {
		ready = h.ToolReady()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"queueLength": h.Queue.QueueLength(),
		"activeCount": h.Queue.ActiveCount(),
		"toolReady":   ready,
	})
}

func (h *APIHandler) info(c *gin.Context) {
	raw := c.Query("url")
	if strings.TrimSpace(raw) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is required"})
		return
	}
	if err := validateURL(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.InfoTimeout)
	defer cancel()
	info, err := h.Info.Lookup(ctx, strings.TrimSpace(raw))
	if err != nil {
		h.Logger.Printf("info lookup failed for %s: %v", raw, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch video info"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"id":        info.ID,
			"title":     info.Title,
			"author":    info.Author,
			"thumbnail": info.Thumbnail,
			"duration":  metadata.FormatDuration(info.Duration),
			"views":     metadata.FormatViews(info.Views),
		},
	})
}

func (h *APIHandler) convert(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url and format are required"})
		return
	}
	if err := validateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	format, err := model.ParseFormat(req.Format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quality, err := model.ResolveQuality(format, string(req.Quality))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.Queue.Submit(model.Request{
		URL:     strings.TrimSpace(req.URL),
		Format:  format,
		Quality: quality,
	})
	switch {
	case errors.Is(err, taskmgr.ErrQueueFull), errors.Is(err, taskmgr.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server busy, try again later"})
		return
	case err != nil:
		h.Logger.Printf("submit failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not queue conversion"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "downloadId": id})
}

func (h *APIHandler) progress(c *gin.Context) {
	id := c.Param("id")
	w := c.Writer

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(h.ProgressInterval)
	defer ticker.Stop()

	for {
		job, ok := h.Store.Get(id)
		if !ok {
			fmt.Fprint(w, "data: {\"error\":\"Job not found\"}\n\n")
			w.Flush()
			return
		}
		data, _ := json.Marshal(job)
		fmt.Fprintf(w, "data: %s\n\n", data)
		w.Flush()

		if job.Status.IsTerminal() {
			return
		}

		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *APIHandler) download(c *gin.Context) {
	id := c.Param("id")

	job, ok := h.Store.Get(id)
	if !ok || job.Status != model.StatusCompleted || job.FilePath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	if _, err := os.Stat(job.FilePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	c.Header("Content-Type", contentType(job.Filename))
	c.FileAttachment(job.FilePath, job.Filename)

	h.scheduleRemoval(job)
}

// scheduleRemoval deletes the artifact and its record once the grace period
// after the first completed download has passed.
func (h *APIHandler) scheduleRemoval(job model.Job) {
	if _, loaded := h.scheduled.LoadOrStore(job.ID, struct{}{}); loaded {
		return
	}
	time.AfterFunc(h.DownloadGrace, func() {
		if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
			h.Logger.Printf("remove %s: %v", job.FilePath, err)
		}
		h.Store.Delete(job.ID)
		h.scheduled.Delete(job.ID)
	})
}

func contentType(filename string) string {
	if strings.HasSuffix(strings.ToLower(filename), ".mp3") {
		return model.FormatMP3.ContentType()
	}
	return model.FormatMP4.ContentType()
}

// validateURL keeps option-looking values and non-web schemes away from the
// tool. Scheme-less input is passed through and left to the tool to reject.
func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "-") {
		return errInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errInvalidURL
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return errInvalidURL
	}
	return nil
}
