// Package keyname derives object keys from client filenames.
//
// A key has the form "<unix-millis>-<sanitized filename>". The millisecond
// prefix never decreases for a given Namer, even if the wall clock steps
// backwards.
package keyname

import (
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Fallback replaces a filename that sanitizes to nothing.
const Fallback = "file"

// Key is an object key produced by a Namer.
type Key string

func (k Key) String() string { return string(k) }

// Namer issues keys. The zero value is not usable; call New.
type Namer struct {
	now func() time.Time

	mu   sync.Mutex
	last int64
}

// New returns a Namer using the wall clock.
func New() *Namer {
	return NewWithClock(time.Now)
}

// NewWithClock returns a Namer reading time from now.
func NewWithClock(now func() time.Time) *Namer {
	return &Namer{now: now}
}

// Name returns the key for filename.
func (n *Namer) Name(filename string) Key {
	ms := n.now().UnixMilli()

	n.mu.Lock()
	if ms < n.last {
		ms = n.last
	}
	n.last = ms
	n.mu.Unlock()

	return Key(strconv.FormatInt(ms, 10) + "-" + Sanitize(filename))
}

// Sanitize reduces filename to a single safe path segment: directory
// components are dropped, runs of whitespace become one underscore, and
// control characters and slashes are removed.
func Sanitize(filename string) string {
	name := strings.ReplaceAll(filename, `\`, "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return Fallback
	}

	var b strings.Builder
	b.Grow(len(name))
	inSpace := false
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		case unicode.IsControl(r), r == '/', r == '\\', r == unicode.ReplacementChar:
		default:
			b.WriteRune(r)
		}
		inSpace = false
	}

	out := b.String()
	if out == "" || out == "_" {
		return Fallback
	}
	return out
}

// BaseName returns the last "/"-separated segment of a key or filename.
// It is used for Content-Disposition.
func BaseName(s string) string {
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}
