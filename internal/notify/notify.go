// Package notify delivers vault events to an asynchronous channel.
//
// Delivery is at-most-once and fully decoupled from the request that
// produced the event: Notify only enqueues, worker goroutines publish with
// their own deadline, and publish failures are logged and dropped. A failed
// or slow broker never changes the outcome of an upload or download.
//
// Usage:
//
//	n := notify.New(notify.DefaultConfig(), publisher, log)
//	defer n.Close(ctx)
//
//	n.Notify(notify.Uploaded(key, filename, size, digest))
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/logger"
)

// Publisher sends one encoded event on a named channel (a routing key, a
// pub/sub channel, a table). Implementations must be safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

// Config tunes the delivery queue.
type Config struct {
	// QueueSize bounds pending events; when full new events are dropped.
	QueueSize int `yaml:"queue_size"`

	// Workers is the number of concurrent publishers.
	Workers int `yaml:"workers"`

	// PublishTimeout bounds a single Publish call.
	PublishTimeout time.Duration `yaml:"publish_timeout"`

	// UploadedChannel and DownloadedChannel name the channel per event kind.
	UploadedChannel   string `yaml:"uploaded_channel"`
	DownloadedChannel string `yaml:"downloaded_channel"`
}

// DefaultConfig returns the defaults used by the server.
func DefaultConfig() *Config {
	return &Config{
		QueueSize:         1024,
		Workers:           2,
		PublishTimeout:    5 * time.Second,
		UploadedChannel:   "file.uploaded",
		DownloadedChannel: "file.downloaded",
	}
}

// Stats counts what happened to notified events.
type Stats struct {
	Published int64
	Failed    int64
	Dropped   int64
}

// Notifier queues events and publishes them in the background.
type Notifier struct {
	pub      Publisher
	channels map[Kind]string
	timeout  time.Duration
	log      *logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New starts the notifier's workers. A nil pub discards every event.
func New(cfg *Config, pub Publisher, log *logger.Logger) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("notify")
	if pub == nil {
		pub = Discard{Log: log}
	}
	def := DefaultConfig()
	queueSize, workers, timeout := cfg.QueueSize, cfg.Workers, cfg.PublishTimeout
	if queueSize <= 0 {
		queueSize = def.QueueSize
	}
	if workers <= 0 {
		workers = def.Workers
	}
	if timeout <= 0 {
		timeout = def.PublishTimeout
	}
	uploaded, downloaded := cfg.UploadedChannel, cfg.DownloadedChannel
	if uploaded == "" {
		uploaded = def.UploadedChannel
	}
	if downloaded == "" {
		downloaded = def.DownloadedChannel
	}

	n := &Notifier{
		pub:      pub,
		channels: map[Kind]string{KindUploaded: uploaded, KindDownloaded: downloaded},
		timeout:  timeout,
		log:      log,
		queue:    make(chan Event, queueSize),
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.work()
	}
	return n
}

// Notify enqueues ev without blocking. It reports whether the event was
// accepted; a full queue or a closed notifier drops it.
func (n *Notifier) Notify(ev Event) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.dropped.Add(1)
		return false
	}
	select {
	case n.queue <- ev:
		return true
	default:
		n.dropped.Add(1)
		n.log.Warn().
			Str("event", string(ev.Kind)).
			Str("key", ev.ObjectKey).
			Msg("notification queue full, event dropped")
		return false
	}
}

// Channel returns the channel events of kind k are published on.
func (n *Notifier) Channel(k Kind) string {
	return n.channels[k]
}

// Stats returns delivery counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		Published: n.published.Load(),
		Failed:    n.failed.Load(),
		Dropped:   n.dropped.Load(),
	}
}

// Close stops accepting events, drains the queue and closes the publisher.
// If ctx ends first the remaining events are abandoned.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errs.FromContext(ctx.Err(), "draining notifications")
	}

	if err := n.pub.Close(); err != nil {
		return errs.Wrap(errs.ErrKindNotificationFailure, "close publisher", err)
	}
	return nil
}

func (n *Notifier) work() {
	defer n.wg.Done()
	for ev := range n.queue {
		n.publish(ev)
	}
}

func (n *Notifier) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.failed.Add(1)
		n.log.Error().Err(err).Str("event", string(ev.Kind)).Msg("encode event")
		return
	}

	channel := n.channels[ev.Kind]
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.pub.Publish(ctx, channel, payload); err != nil {
		n.failed.Add(1)
		n.log.WarnWith("publish event failed", err, map[string]any{
			"event":   string(ev.Kind),
			"key":     ev.ObjectKey,
			"channel": channel,
		})
		return
	}
	n.published.Add(1)
	n.log.Debug().
		Str("event", string(ev.Kind)).
		Str("key", ev.ObjectKey).
		Str("channel", channel).
		Msg("event published")
}
