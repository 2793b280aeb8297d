package filestore

import (
	"strings"
	"time"
)

// MetaFilename is the user-metadata key carrying the client's original
// filename.
const MetaFilename = "filename"

// DefaultContentType is stored when nothing better is known.
const DefaultContentType = "application/octet-stream"

// ObjectInfo describes a single stored object.
type ObjectInfo struct {
	// Key is the object key within the bucket.
	Key string

	// Size is the byte size of the object.
	Size int64

	// ContentType is the MIME type recorded at write time.
	ContentType string

	// ETag is the object's entity tag, as returned by the backend.
	ETag string

	// LastModified is when the object was last written.
	LastModified time.Time

	// Metadata holds user metadata with lower-cased keys.
	Metadata map[string]string
}

// Filename returns the original filename recorded at upload, or "" when
// the object carries none.
func (o *ObjectInfo) Filename() string {
	if o == nil {
		return ""
	}
	return o.Metadata[MetaFilename]
}

// PutOptions controls how Put stores an object.
type PutOptions struct {
	// ContentType defaults to DefaultContentType when empty.
	ContentType string

	// Metadata is stored alongside the object as user metadata.
	Metadata map[string]string
}

// ContentTypeOrDefault returns the effective content type for a write.
func (o PutOptions) ContentTypeOrDefault() string {
	if o.ContentType == "" {
		return DefaultContentType
	}
	return o.ContentType
}

// NormalizeMetadata lower-cases metadata keys so lookups do not depend on
// how a backend canonicalises header names.
func NormalizeMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
