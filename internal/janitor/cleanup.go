package janitor

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/king-of-kingdom/tubegrab/internal/store"
)

// CleanOldFiles removes every regular file in dir last modified before
// now-retention, whether or not a job still points at it.
func CleanOldFiles(dir string, retention time.Duration, now time.Time, logger *log.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		logger.Printf("file cleanup error: %v", err)
		return 0, err
	}

	cutoff := now.Add(-retention)
	cleaned := 0

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				cleaned++
			}
		}
	}

	if cleaned > 0 {
		logger.Printf("cleaned up %d old files", cleaned)
	}
	return cleaned, nil
}

// CleanOldJobs deletes job records created before now-retention together
// with any artifact they still reference.
func CleanOldJobs(st store.Store, retention time.Duration, now time.Time, logger *log.Logger) int {
	cutoff := now.Add(-retention)
	cleaned := 0

	for _, job := range st.Snapshot() {
		if !job.CreatedAt.Before(cutoff) {
			continue
		}
		st.Delete(job.ID)
		if job.FilePath != "" {
			_ = os.Remove(job.FilePath)
		}
		cleaned++
	}

	if cleaned > 0 {
		logger.Printf("cleaned up %d stale jobs", cleaned)
	}
	return cleaned
}
