package fill

import (
	"context"
	"errors"
	"time"

	"github.com/yanun0323/logs"

	"mmhedge/internal/enum"
	"mmhedge/internal/obs"
	"mmhedge/internal/venue"
	"mmhedge/pkg/backoff"
	"mmhedge/pkg/exception"
)

const (
	DefaultConfirmTimeout = 10 * time.Second
	DefaultMaxFailures    = 3
)

// Source is the part of a venue client the listener needs.
type Source interface {
	venue.FillStream
	venue.Authenticator
}

// ListenerConfig tunes the push listener.
type ListenerConfig struct {
	ConfirmTimeout time.Duration
	MaxFailures    int
	Backoff        backoff.Backoff
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.Backoff.Min <= 0 {
		c.Backoff = backoff.Reconnect()
	}
	return c
}

// Listener keeps a fill subscription alive and reports the detection mode the
// tracker should use.
type Listener struct {
	venue   string
	market  string
	src     Source
	cfg     ListenerConfig
	metrics *obs.Metrics
}

// NewListener creates a listener for one market.
func NewListener(venueName, market string, src Source, cfg ListenerConfig, metrics *obs.Metrics) *Listener {
	return &Listener{
		venue:   venueName,
		market:  market,
		src:     src,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
	}
}

// Run forwards stream messages to onFill until ctx is done. After MaxFailures
// consecutive subscription failures it reports poll mode and keeps retrying;
// the first successful subscription reports push mode again. Auth errors end
// the listener.
func (l *Listener) Run(ctx context.Context, onFill func(venue.FillMessage), onMode func(enum.FillMode)) error {
	var (
		mode     = enum.FillModePush
		failures = 0
	)

	setMode := func(m enum.FillMode) {
		if m == mode {
			return
		}
		mode = m
		if onMode != nil {
			onMode(m)
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		ch, cancel, err := l.subscribe(ctx)
		if err == nil {
			failures = 0
			setMode(enum.FillModePush)
			logs.Infof("fill stream subscribed, venue: %s, market: %s", l.venue, l.market)
			err = l.consume(ctx, ch, onFill)
			cancel()
			if ctx.Err() != nil {
				return nil
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, exception.ErrVenueAuth) {
			logs.Errorf("fill stream auth failed, venue: %s, market: %s, err: %+v", l.venue, l.market, err)
			return err
		}

		failures++
		l.metrics.Inc(obs.CounterStreamReconnects)
		if failures >= l.cfg.MaxFailures {
			setMode(enum.FillModePoll)
		}
		wait := l.cfg.Backoff.Next(failures)
		logs.Warnf("fill stream failed, venue: %s, market: %s, failures: %d, mode: %s, retry in: %s, err: %+v", l.venue, l.market, failures, mode, wait, err)
		if backoff.Sleep(ctx, wait) != nil {
			return nil
		}
	}
}

type subscription struct {
	ch  <-chan venue.FillMessage
	err error
}

func (l *Listener) subscribe(ctx context.Context) (<-chan venue.FillMessage, context.CancelFunc, error) {
	token, err := l.src.BearerToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan subscription, 1)
	go func() {
		ch, err := l.src.SubscribeFills(streamCtx, l.market, token)
		done <- subscription{ch: ch, err: err}
	}()

	timer := time.NewTimer(l.cfg.ConfirmTimeout)
	defer timer.Stop()

	select {
	case sub := <-done:
		if sub.err != nil {
			cancel()
			return nil, nil, sub.err
		}
		return sub.ch, cancel, nil
	case <-timer.C:
		cancel()
		return nil, nil, exception.ErrFillStreamTimeout
	case <-ctx.Done():
		cancel()
		return nil, nil, ctx.Err()
	}
}

func (l *Listener) consume(ctx context.Context, ch <-chan venue.FillMessage, onFill func(venue.FillMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return exception.ErrFillStream
			}
			onFill(msg)
		}
	}
}
