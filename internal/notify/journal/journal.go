// Package journal records vault events in a SQL table.
//
// The journal is both a notify.Publisher (every published event is
// appended) and the read side behind GET /api/events.
package journal

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/koustreak/mediavault/internal/database"
	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/notify"
)

// Table is the journal table name.
const Table = "vault_events"

// MaxRecent caps Recent's limit.
const MaxRecent = 500

type column struct {
	name     string
	postgres string
	mysql    string
}

var schema = []column{
	{"id", "TEXT PRIMARY KEY", "VARCHAR(36) PRIMARY KEY"},
	{"kind", "TEXT NOT NULL", "VARCHAR(32) NOT NULL"},
	{"channel", "TEXT NOT NULL", "VARCHAR(255) NOT NULL"},
	{"object_key", "TEXT NOT NULL", "VARCHAR(1024) NOT NULL"},
	{"filename", "TEXT NOT NULL", "VARCHAR(1024) NOT NULL"},
	{"size", "BIGINT NOT NULL", "BIGINT NOT NULL"},
	{"digest", "TEXT NOT NULL", "VARCHAR(64) NOT NULL"},
	{"occurred_at", "TIMESTAMPTZ NOT NULL", "DATETIME(3) NOT NULL"},
}

func columnNames() []string {
	names := make([]string, len(schema))
	for i, c := range schema {
		names[i] = c.name
	}
	return names
}

// createTable renders the journal DDL for d.
func createTable(d database.Dialect) string {
	defs := make([]string, len(schema))
	for i, c := range schema {
		typ := c.postgres
		if d == database.DialectMySQL {
			typ = c.mysql
		}
		defs[i] = d.Quote(c.name) + " " + typ
	}
	return "CREATE TABLE IF NOT EXISTS " + d.Quote(Table) + " (" + strings.Join(defs, ", ") + ")"
}

// Entry is one journal row.
type Entry struct {
	Channel string `json:"channel"`
	notify.Event
}

// Journal appends and lists events.
type Journal struct {
	db      database.DB
	timeout time.Duration
}

// New wraps db. timeout bounds each statement; 0 means no extra deadline.
func New(db database.DB, timeout time.Duration) *Journal {
	return &Journal{db: db, timeout: timeout}
}

// EnsureSchema creates the journal table if needed.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	ctx, cancel := j.withTimeout(ctx)
	defer cancel()
	if _, err := j.db.Exec(ctx, createTable(j.db.Dialect())); err != nil {
		return err
	}
	return nil
}

// Publish decodes payload as a notify.Event and appends it.
func (j *Journal) Publish(ctx context.Context, channel string, payload []byte) error {
	var ev notify.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return errs.Wrap(errs.ErrKindNotificationFailure, "decode event for journal", err)
	}
	if err := j.Append(ctx, channel, ev); err != nil {
		return errs.Wrap(errs.ErrKindNotificationFailure, "append event to journal", err)
	}
	return nil
}

// Append inserts ev. Appending the same event ID twice fails with
// errs.ErrKindConflict.
func (j *Journal) Append(ctx context.Context, channel string, ev notify.Event) error {
	if ev.ID == "" {
		return errs.New(errs.ErrKindInvalidInput, "event id is required")
	}
	sql, args, err := database.Insert(Table, j.db.Dialect()).
		Set("id", ev.ID).
		Set("kind", string(ev.Kind)).
		Set("channel", channel).
		Set("object_key", ev.ObjectKey).
		Set("filename", ev.Filename).
		Set("size", ev.Size).
		Set("digest", ev.Digest).
		Set("occurred_at", ev.OccurredAt.UTC()).
		Build()
	if err != nil {
		return err
	}

	ctx, cancel := j.withTimeout(ctx)
	defer cancel()
	_, err = j.db.Exec(ctx, sql, args...)
	return err
}

// Recent returns up to limit entries, newest first, after skipping offset
// of them, optionally filtered by kind (empty means all kinds).
func (j *Journal) Recent(ctx context.Context, kind notify.Kind, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxRecent {
		limit = MaxRecent
	}

	q := database.Select(Table, j.db.Dialect()).Columns(columnNames()...)
	if kind != "" {
		q = q.Where("kind", "=", string(kind))
	}
	q = q.OrderBy("occurred_at", database.Desc).Limit(limit)
	if offset != 0 {
		q = q.Offset(offset)
	}
	sql, args, err := q.Build()
	if err != nil {
		return nil, err
	}

	ctx, cancel := j.withTimeout(ctx)
	defer cancel()
	rows, err := j.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var k string
		if err := rows.Scan(&e.ID, &k, &e.Channel, &e.ObjectKey, &e.Filename, &e.Size, &e.Digest, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Kind = notify.Kind(k)
		e.OccurredAt = e.OccurredAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	j.db.Close()
	return nil
}

func (j *Journal) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if j.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, j.timeout)
}

var _ notify.Publisher = (*Journal)(nil)
