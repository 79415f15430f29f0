package ingest

import (
	"strings"
	"time"

	"github.com/teranos/croplink/errors"
)

// Storage event types.
const (
	EventBlobCreated            = "Microsoft.Storage.BlobCreated"
	EventSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
)

const (
	subjectPrefix = "/blobServices/default/containers/"
	subjectBlobs  = "/blobs/"
)

// StorageEvent is one element of a storage notification batch.
type StorageEvent struct {
	ID        string    `json:"id"`
	EventType string    `json:"eventType"`
	Subject   string    `json:"subject"`
	EventTime time.Time `json:"eventTime"`
	Data      EventData `json:"data"`
}

// EventData is the payload of a storage event. Blob events carry the
// version token and size; handshakes carry the validation code.
type EventData struct {
	API            string `json:"api,omitempty"`
	ETag           string `json:"eTag,omitempty"`
	ContentLength  int64  `json:"contentLength,omitempty"`
	URL            string `json:"url,omitempty"`
	ValidationCode string `json:"validationCode,omitempty"`
}

// ParseSubject splits a blob subject of the form
// /blobServices/default/containers/{container}/blobs/{path}.
func ParseSubject(subject string) (container, path string, err error) {
	rest, ok := strings.CutPrefix(subject, subjectPrefix)
	if !ok {
		return "", "", errors.Newf("subject %q is not a blob subject", subject)
	}
	container, path, ok = strings.Cut(rest, subjectBlobs)
	if !ok || container == "" || path == "" || strings.Contains(container, "/") {
		return "", "", errors.Newf("subject %q has no container and blob path", subject)
	}
	return container, path, nil
}
