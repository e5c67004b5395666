package service

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	DefaultTitle     = "download"
	maxFilenameRunes = 120
)

var ErrArtifactMissing = errors.New("file not created")

// Extensions yt-dlp leaves behind for unfinished work.
var skippedExtensions = []string{".part", ".ytdl", ".temp", ".tmp"}

// sanitizeFilename turns a video title into something safe for a
// Content-Disposition header and any common filesystem.
func sanitizeFilename(title string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`\/:*?"<>|`, r):
			return -1
		case unicode.IsControl(r):
			return -1
		case unicode.IsSpace(r):
			return ' '
		}
		return r
	}, title)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	cleaned = strings.Trim(cleaned, ". ")

	if runes := []rune(cleaned); len(runes) > maxFilenameRunes {
		cleaned = strings.TrimSpace(string(runes[:maxFilenameRunes]))
	}
	if cleaned == "" {
		return DefaultTitle
	}
	return cleaned
}

func isSkipped(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, s := range skippedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// locateArtifact finds the file produced for jobID: the expected path when it
// exists, otherwise the first finished file in dir whose name carries jobID.
func locateArtifact(dir, jobID, expected string) (string, os.FileInfo, error) {
	if info, err := os.Stat(expected); err == nil && info.Mode().IsRegular() {
		return expected, info, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.Contains(name, jobID) || isSkipped(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return filepath.Join(dir, name), info, nil
	}
	return "", nil, ErrArtifactMissing
}

// removeJobFiles deletes every file in dir whose name carries jobID.
func removeJobFiles(dir, jobID string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), jobID) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed
}
