package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/king-of-kingdom/tubegrab/internal/metadata"
	"github.com/king-of-kingdom/tubegrab/internal/model"
	"github.com/king-of-kingdom/tubegrab/internal/ratelimit"
	"github.com/king-of-kingdom/tubegrab/internal/store"
	"github.com/king-of-kingdom/tubegrab/internal/taskmgr"
)

type fakeQueue struct {
	mu   sync.Mutex
	reqs []model.Request
	err  error
}

func (q *fakeQueue) Submit(req model.Request) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.reqs = append(q.reqs, req)
	return "job-" + req.URL[len(req.URL)-1:], nil
}

func (q *fakeQueue) QueueLength() int { return 3 }
func (q *fakeQueue) ActiveCount() int { return 2 }

func (q *fakeQueue) last() model.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reqs[len(q.reqs)-1]
}

type fakeInfo struct {
	info metadata.Info
	err  error
}

func (f fakeInfo) Name() string { return "fake" }

func (f fakeInfo) Lookup(ctx context.Context, url string) (metadata.Info, error) {
	return f.info, f.err
}

func newTestServer(t *testing.T, h *APIHandler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if h.Store == nil {
		h.Store = store.NewMemoryStore()
	}
	if h.Queue == nil {
		h.Queue = &fakeQueue{}
	}
	if h.Info == nil {
		h.Info = fakeInfo{}
	}
	h.Logger = log.New(io.Discard, "", 0)
	h.ProgressInterval = 10 * time.Millisecond
	r := gin.New()
	RegisterHandlers(r, h)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func completedJob(t *testing.T, st store.Store, id, path, filename string) {
	t.Helper()
	require.NoError(t, st.Create(model.Job{ID: id, CreatedAt: time.Now()}))
	require.NoError(t, store.SetProgress(st, id, model.StatusProcessing, 50, "Downloading..."))
	require.NoError(t, st.Update(id, func(j *model.Job) {
		j.Status = model.StatusCompleted
		j.Progress = 100
		j.FilePath = path
		j.Filename = filename
	}))
}

func TestHealth(t *testing.T) {
	r := newTestServer(t, &APIHandler{ToolReady: func() bool { return true }})

	w := do(r, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{
		"status":      "ok",
		"queueLength": float64(3),
		"activeCount": float64(2),
		"toolReady":   true,
	}, decode(t, w))
}

func TestInfo(t *testing.T) {
	src := fakeInfo{info: metadata.Info{
		ID:        "dQw4w9WgXcQ",
		Title:     "Never Gonna Give You Up",
		Author:    "Rick Astley",
		Thumbnail: "https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg",
		Duration:  213 * time.Second,
		Views:     1_500_000_000,
	}}
	r := newTestServer(t, &APIHandler{Info: src})

	w := do(r, http.MethodGet, "/api/info?url=https://youtu.be/dQw4w9WgXcQ", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "Never Gonna Give You Up", data["title"])
	assert.Equal(t, "3:33", data["duration"])
	assert.Equal(t, "1.5B", data["views"])
}

func TestInfo_Errors(t *testing.T) {
	r := newTestServer(t, &APIHandler{Info: fakeInfo{err: errors.New("ERROR: Unsupported URL")}})

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{name: "missing url", target: "/api/info", code: http.StatusBadRequest},
		{name: "option injection", target: "/api/info?url=--exec=rm", code: http.StatusBadRequest},
		{name: "file scheme", target: "/api/info?url=file:///etc/passwd", code: http.StatusBadRequest},
		{name: "lookup failure", target: "/api/info?url=https://example.com/x", code: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.code, w.Code)
			body := decode(t, w)
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], "Unsupported URL")
		})
	}
}

func TestConvert(t *testing.T) {
	q := &fakeQueue{}
	r := newTestServer(t, &APIHandler{Queue: q})

	tests := []struct {
		name    string
		body    string
		format  model.Format
		quality int
	}{
		{name: "mp3 default quality", body: `{"url":"https://youtu.be/a","format":"mp3"}`, format: model.FormatMP3, quality: 192},
		{name: "mp4 default quality", body: `{"url":"https://youtu.be/b","format":"mp4"}`, format: model.FormatMP4, quality: 720},
		{name: "numeric quality", body: `{"url":"https://youtu.be/c","format":"mp3","quality":320}`, format: model.FormatMP3, quality: 320},
		{name: "string quality", body: `{"url":"https://youtu.be/d","format":"MP4","quality":"1080p"}`, format: model.FormatMP4, quality: 1080},
		{name: "null quality", body: `{"url":"https://youtu.be/e","format":"mp4","quality":null}`, format: model.FormatMP4, quality: 720},
		{name: "scheme-less url", body: `{"url":"not-a-video-url","format":"mp3"}`, format: model.FormatMP3, quality: 192},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/convert", tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			body := decode(t, w)
			assert.Equal(t, true, body["success"])
			assert.NotEmpty(t, body["downloadId"])

			got := q.last()
			assert.Equal(t, tt.format, got.Format)
			assert.Equal(t, tt.quality, got.Quality)
		})
	}
}

func TestConvert_BadRequests(t *testing.T) {
	q := &fakeQueue{}
	r := newTestServer(t, &APIHandler{Queue: q})

	bodies := map[string]string{
		"missing url":     `{"format":"mp3"}`,
		"missing format":  `{"url":"https://youtu.be/a"}`,
		"malformed json":  `{"url":`,
		"bad format":      `{"url":"https://youtu.be/a","format":"flac"}`,
		"quality too low": `{"url":"https://youtu.be/a","format":"mp3","quality":8}`,
		"quality garbage": `{"url":"https://youtu.be/a","format":"mp4","quality":"best"}`,
		"leading dash":    `{"url":"-o /etc/cron.d/x","format":"mp3"}`,
		"ftp scheme":      `{"url":"ftp://example.com/a.mp4","format":"mp4"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/convert", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
		})
	}
	assert.Empty(t, q.reqs, "nothing reaches the queue")
}

func TestConvert_QueueFull(t *testing.T) {
	for _, err := range []error{taskmgr.ErrQueueFull, taskmgr.ErrShuttingDown} {
		r := newTestServer(t, &APIHandler{Queue: &fakeQueue{err: err}})
		w := do(r, http.MethodPost, "/api/convert", `{"url":"https://youtu.be/a","format":"mp3"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "Server busy, try again later", decode(t, w)["error"])
	}
}

func TestRateLimit_PerClient(t *testing.T) {
	r := newTestServer(t, &APIHandler{Limiter: ratelimit.New(2, time.Minute)})
	body := `{"url":"https://youtu.be/a","format":"mp3"}`

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/convert", body).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/convert", body).Code)

	w := do(r, http.MethodPost, "/api/convert", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// info shares the same budget
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "/api/info?url=https://youtu.be/a", "").Code)
	// health does not
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/health", "").Code)
}

func TestRateLimit_Global(t *testing.T) {
	r := newTestServer(t, &APIHandler{Global: ratelimit.NewGlobal(0.001, 1)})
	body := `{"url":"https://youtu.be/a","format":"mp3"}`

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/convert", body).Code)
	w := do(r, http.MethodPost, "/api/convert", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func events(body string) []string {
	var out []string
	for _, chunk := range strings.Split(body, "\n\n") {
		if strings.HasPrefix(chunk, "data: ") {
			out = append(out, strings.TrimPrefix(chunk, "data: "))
		}
	}
	return out
}

func TestProgress_UnknownJob(t *testing.T) {
	r := newTestServer(t, &APIHandler{})

	w := do(r, http.MethodGet, "/api/progress/nope", "")
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, []string{`{"error":"Job not found"}`}, events(w.Body.String()))
}

func TestProgress_StreamsUntilTerminal(t *testing.T) {
	st := store.NewMemoryStore()
	r := newTestServer(t, &APIHandler{Store: st})
	require.NoError(t, st.Create(model.Job{ID: "j1", CreatedAt: time.Now()}))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = store.SetProgress(st, "j1", model.StatusProcessing, 40, "Downloading... 40%")
		time.Sleep(30 * time.Millisecond)
		_ = store.SetProgress(st, "j1", model.StatusError, 0, "Conversion failed. Check the URL and try again.")
	}()

	w := do(r, http.MethodGet, "/api/progress/j1", "")
	evs := events(w.Body.String())
	require.GreaterOrEqual(t, len(evs), 2)

	var first, last model.Job
	require.NoError(t, json.Unmarshal([]byte(evs[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(evs[len(evs)-1]), &last))
	assert.Equal(t, model.StatusQueued, first.Status, "first snapshot is sent immediately")
	assert.Equal(t, model.StatusError, last.Status)
	assert.NotContains(t, evs[len(evs)-1], "filePath")
}

func TestProgress_ClientGone(t *testing.T) {
	st := store.NewMemoryStore()
	r := newTestServer(t, &APIHandler{Store: st})
	require.NoError(t, st.Create(model.Job{ID: "j1", CreatedAt: time.Now()}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/progress/j1", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after client disconnect")
	}
}

func TestDownload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "j1.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3audio"), 0o644))

	st := store.NewMemoryStore()
	completedJob(t, st, "j1", path, "My Song.mp3")
	r := newTestServer(t, &APIHandler{Store: st, DownloadGrace: 20 * time.Millisecond})

	w := do(r, http.MethodGet, "/api/download/j1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ID3audio", w.Body.String())
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "8", w.Header().Get("Content-Length"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "My Song.mp3")

	assert.Eventually(t, func() bool {
		_, ok := st.Get("j1")
		_, err := os.Stat(path)
		return !ok && os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}

func TestDownload_NotReady(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemoryStore()
	require.NoError(t, st.Create(model.Job{ID: "queued", CreatedAt: time.Now()}))
	completedJob(t, st, "gone", filepath.Join(dir, "gone.mp4"), "gone.mp4")
	r := newTestServer(t, &APIHandler{Store: st})

	for _, id := range []string{"queued", "gone", "unknown"} {
		w := do(r, http.MethodGet, "/api/download/"+id, "")
		assert.Equal(t, http.StatusNotFound, w.Code, id)
	}
}
