package model

import "time"

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

// IsTerminal reports whether no further transitions may leave s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	StatusQueued: {
		StatusQueued:     true,
		StatusProcessing: true,
		StatusError:      true, // dropped at shutdown before dispatch
	},
	StatusProcessing: {
		StatusProcessing: true,
		StatusCompleted:  true,
		StatusError:      true,
	},
	StatusCompleted: {},
	StatusError:     {},
}

func CanTransition(from, to JobStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Job is the externally visible record of one convert request. FilePath is
// internal and never serialized.
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	FilePath  string    `json:"-"`
	Filename  string    `json:"filename,omitempty"`
	FileSize  int64     `json:"fileSize,omitempty"`
}

// Request holds the immutable parameters captured at submission.
type Request struct {
	JobID   string
	URL     string
	Format  Format
	Quality int
}
