package state

import (
	"errors"
	"net"
	"strconv"
)

// Runner is a test runner endpoint. Two runners are the same runner when
// their addresses match.
type Runner struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the dialable host:port form.
func (r Runner) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Runner) String() string { return r.Addr() }

// Snapshot is a point-in-time copy of the registry and queue, safe to iterate
// without holding the store lock.
type Snapshot struct {
	Runners    []Runner          `json:"runners"`
	Pending    []string          `json:"pending"`
	Dispatched map[string]Runner `json:"dispatched"`
}

var (
	ErrRunnerNotRegistered = errors.New("runner not registered")
	ErrNotPending          = errors.New("commit not pending")
	ErrEmptyCommitID       = errors.New("commit id is empty")
)
