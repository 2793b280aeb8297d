package notify

import (
	"context"
	"errors"

	"github.com/koustreak/mediavault/internal/errs"
	"github.com/koustreak/mediavault/internal/logger"
)

// Fanout publishes every event to each of its publishers in order. All
// publishers are attempted; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, channel string, payload []byte) error {
	var all []error
	for _, p := range f {
		if err := p.Publish(ctx, channel, payload); err != nil {
			all = append(all, err)
		}
	}
	if len(all) == 0 {
		return nil
	}
	return errs.Wrap(errs.ErrKindNotificationFailure, "fanout publish", errors.Join(all...))
}

func (f Fanout) Close() error {
	var all []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}

// Discard logs events at debug level and sends them nowhere.
type Discard struct {
	Log *logger.Logger
}

func (d Discard) Publish(_ context.Context, channel string, payload []byte) error {
	if d.Log != nil {
		d.Log.Debug().Str("channel", channel).RawJSON("payload", payload).Msg("event discarded")
	}
	return nil
}

func (Discard) Close() error { return nil }

var (
	_ Publisher = Fanout(nil)
	_ Publisher = Discard{}
)
