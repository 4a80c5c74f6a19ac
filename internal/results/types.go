package results

import (
	"errors"
	"time"
)

var (
	// ErrInvalidCommitID is returned for ids that cannot name a file inside
	// the results directory.
	ErrInvalidCommitID = errors.New("invalid commit id")
	// ErrNotFound is returned when no result has been recorded for a commit.
	ErrNotFound = errors.New("result not found")
)

// Record is the index entry written for every stored payload.
type Record struct {
	ID         string    `json:"id"`
	CommitID   string    `json:"commit_id"`
	Runner     string    `json:"runner,omitempty"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	Path       string    `json:"path"`
	ReceivedAt time.Time `json:"received_at"`
}
