package notify

import (
	"time"

	"github.com/google/uuid"
)

// Kind names the vault action an Event reports.
type Kind string

const (
	KindUploaded   Kind = "FILE_UPLOADED"
	KindDownloaded Kind = "FILE_DOWNLOADED"
)

// Event is one completed vault action. Events are built only after the
// action's success point and are not modified afterwards.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"event"`
	ObjectKey  string    `json:"objectName"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Uploaded builds the event for a committed upload.
func Uploaded(key, filename string, size int64, digest string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       KindUploaded,
		ObjectKey:  key,
		Filename:   filename,
		Size:       size,
		Digest:     digest,
		OccurredAt: time.Now().UTC(),
	}
}

// Downloaded builds the event for a fully transmitted download. size is
// the number of bytes sent, which is less than the object size for a
// range request.
func Downloaded(key, filename string, size int64) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       KindDownloaded,
		ObjectKey:  key,
		Filename:   filename,
		Size:       size,
		OccurredAt: time.Now().UTC(),
	}
}
