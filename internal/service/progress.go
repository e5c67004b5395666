package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/king-of-kingdom/tubegrab/internal/model"
	"github.com/king-of-kingdom/tubegrab/internal/ytdlp"
)

const (
	progressStart     = 5.0
	progressMetadata  = 10.0
	progressBandLow   = 10.0
	progressBandHigh  = 95.0
	simulatedCeiling  = 90.0
	simulatedFraction = 0.05
)

// mapToBand maps a raw 0-100 tool percentage onto the job's download band.
func mapToBand(raw float64) float64 {
	return progressBandLow + raw*(progressBandHigh-progressBandLow)/100
}

// report feeds one structured tool report into the tracker. A finished
// stream pins progress at the top of the band until post-processing ends.
func (t *tracker) report(p ytdlp.Progress, format model.Format) {
	if p.Finished {
		t.observe(progressBandHigh, finalizingMessage(format))
		return
	}
	t.observe(mapToBand(p.Percent), fmt.Sprintf("Downloading... %d%%", int(p.Percent)))
}

// tracker keeps a job's progress monotonic and falls back to a simulated
// climb while the tool reports nothing.
type tracker struct {
	mu         sync.Mutex
	progress   float64
	message    string
	lastSignal time.Time
	now        func() time.Time
	publish    func(progress float64, message string)
}

func newTracker(start float64, message string, now func() time.Time, publish func(float64, string)) *tracker {
	return &tracker{
		progress:   start,
		message:    message,
		lastSignal: now(),
		now:        now,
		publish:    publish,
	}
}

// observe records a real signal. Lower values than the current progress are
// ignored; a merged mp4 download reports 0-100 once per stream.
func (t *tracker) observe(progress float64, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSignal = t.now()
	if progress < t.progress {
		progress = t.progress
	}
	if progress == t.progress && message == t.message {
		return
	}
	t.progress = progress
	t.message = message
	t.publish(progress, message)
}

// simulate nudges progress towards simulatedCeiling when no real signal has
// arrived for quiet.
func (t *tracker) simulate(quiet time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.now().Sub(t.lastSignal) < quiet || t.progress >= simulatedCeiling {
		return
	}
	next := t.progress + (simulatedCeiling-t.progress)*simulatedFraction
	if next-t.progress < 0.1 {
		return
	}
	t.progress = next
	t.publish(next, t.message)
}

func (t *tracker) current() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}
