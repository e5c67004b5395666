package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     JobStatus
		to       JobStatus
		expected bool
	}{
		{name: "queued to processing", from: StatusQueued, to: StatusProcessing, expected: true},
		{name: "queued to error", from: StatusQueued, to: StatusError, expected: true},
		{name: "processing update", from: StatusProcessing, to: StatusProcessing, expected: true},
		{name: "processing to completed", from: StatusProcessing, to: StatusCompleted, expected: true},
		{name: "processing to error", from: StatusProcessing, to: StatusError, expected: true},
		{name: "queued to completed", from: StatusQueued, to: StatusCompleted, expected: false},
		{name: "completed to processing", from: StatusCompleted, to: StatusProcessing, expected: false},
		{name: "completed to error", from: StatusCompleted, to: StatusError, expected: false},
		{name: "error to queued", from: StatusError, to: StatusQueued, expected: false},
		{name: "error to error", from: StatusError, to: StatusError, expected: false},
		{name: "unknown source", from: JobStatus("paused"), to: StatusQueued, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanTransition(tt.from, tt.to))
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" MP3 ")
	require.NoError(t, err)
	assert.Equal(t, FormatMP3, f)
	assert.Equal(t, "audio/mpeg", f.ContentType())

	f, err = ParseFormat("mp4")
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", f.ContentType())

	_, err = ParseFormat("flac")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestResolveQuality(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		raw     string
		want    int
		wantErr bool
	}{
		{name: "mp3 default", format: FormatMP3, raw: "", want: 192},
		{name: "mp4 default", format: FormatMP4, raw: "", want: 720},
		{name: "mp3 plain number", format: FormatMP3, raw: "320", want: 320},
		{name: "mp3 k suffix", format: FormatMP3, raw: "128k", want: 128},
		{name: "mp3 kbps suffix", format: FormatMP3, raw: "256kbps", want: 256},
		{name: "mp4 p suffix", format: FormatMP4, raw: "1080p", want: 1080},
		{name: "mp4 4k", format: FormatMP4, raw: "4K", want: 2160},
		{name: "mp3 too high", format: FormatMP3, raw: "1080", wantErr: true},
		{name: "mp4 too low", format: FormatMP4, raw: "64", wantErr: true},
		{name: "garbage", format: FormatMP4, raw: "best", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveQuality(tt.format, tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedQuality)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
