// Package ingest turns storage notifications and scheduled-pull ticks into
// ingestion jobs, and runs each admitted job through fetch, extraction,
// linkage and storage.
package ingest

import (
	"time"
)

// Candidate is one normalized delivery, before admission.
type Candidate struct {
	Container           string
	Path                string
	ContentVersionToken string
	Size                int64
	ObservedAt          time.Time
	Metadata            map[string]string
}

// BatchResult summarizes one notification batch.
type BatchResult struct {
	// ValidationCode is set when the batch was a subscription handshake.
	ValidationCode string `json:"-"`
	Accepted       int    `json:"accepted"`
	Duplicates     int    `json:"duplicates"`
	Unmatched      int    `json:"unmatched"`
	Ignored        int    `json:"ignored"`
}

// IsHandshake reports whether the batch only confirmed a subscription.
func (r BatchResult) IsHandshake() bool { return r.ValidationCode != "" }
