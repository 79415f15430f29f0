package server

import (
	"time"

	"github.com/teranos/croplink/pulse/async"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client message queues
	MaxClientMessageQueueSize = 256
	// ShutdownTimeout bounds the graceful shutdown of HTTP and stream goroutines
	ShutdownTimeout = 30 * time.Second
	// DefaultMaxEventBytes caps one notification batch
	DefaultMaxEventBytes = 1 << 20

	defaultPageSize = 50
	maxPageSize     = 200

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// ServerState is the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// JobUpdateMessage is pushed to stream clients on every job state change.
type JobUpdateMessage struct {
	Type      string     `json:"type"` // "job_update"
	Job       *async.Job `json:"job"`
	Timestamp int64      `json:"timestamp"`
}

// JobListResponse is a page of jobs.
type JobListResponse struct {
	Jobs          []*async.Job `json:"jobs"`
	Total         int          `json:"total"`
	NextPageToken string       `json:"next_page_token,omitempty"`
}

// DeadLetterListResponse is a page of dead-letter entries.
type DeadLetterListResponse struct {
	DeadLetters   []*async.DeadLetterEntry `json:"dead_letters"`
	Total         int                      `json:"total"`
	NextPageToken string                   `json:"next_page_token,omitempty"`
}
