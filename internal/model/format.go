package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Format string

const (
	FormatMP3 Format = "mp3"
	FormatMP4 Format = "mp4"
)

const (
	DefaultAudioBitrate = 192
	DefaultVideoHeight  = 720

	minAudioBitrate = 32
	maxAudioBitrate = 320
	minVideoHeight  = 144
	maxVideoHeight  = 4320
)

var (
	ErrUnsupportedFormat  = errors.New("format must be mp3 or mp4")
	ErrUnsupportedQuality = errors.New("unsupported quality")
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatMP3:
		return FormatMP3, nil
	case FormatMP4:
		return FormatMP4, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// ContentType is the MIME type served for artifacts of this format.
func (f Format) ContentType() string {
	if f == FormatMP3 {
		return "audio/mpeg"
	}
	return "video/mp4"
}

// ResolveQuality turns the raw quality value ("", "720p", "192k", "4k", 320)
// into kbps for mp3 or a vertical resolution for mp4.
func ResolveQuality(f Format, raw string) (int, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		if f == FormatMP3 {
			return DefaultAudioBitrate, nil
		}
		return DefaultVideoHeight, nil
	}
	if raw == "4k" && f == FormatMP4 {
		return 2160, nil
	}

	digits := strings.TrimRight(strings.TrimSuffix(raw, "kbps"), "pk")
	val, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedQuality, raw)
	}

	lo, hi := minVideoHeight, maxVideoHeight
	if f == FormatMP3 {
		lo, hi = minAudioBitrate, maxAudioBitrate
	}
	if val < lo || val > hi {
		return 0, fmt.Errorf("%w: %d outside %d-%d", ErrUnsupportedQuality, val, lo, hi)
	}
	return val, nil
}
