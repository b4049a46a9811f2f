package venue

import (
	"context"
	"errors"

	"mmhedge/pkg/backoff"
	"mmhedge/pkg/exception"
)

const DefaultReadAttempts = 3

// WithReadRetry wraps c so idempotent reads retry with backoff. Writes and the
// fill stream pass through untouched.
func WithReadRetry(c Client, attempts int, b backoff.Backoff) Client {
	if attempts <= 0 {
		attempts = DefaultReadAttempts
	}
	if b.Min <= 0 {
		b = backoff.Read()
	}
	return &retryClient{Client: c, attempts: attempts, backoff: b}
}

type retryClient struct {
	Client
	attempts int
	backoff  backoff.Backoff
}

func (c *retryClient) retry(ctx context.Context, fn func(context.Context) error) error {
	var permanent error
	err := backoff.Retry(ctx, c.attempts, c.backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && !retryable(err) {
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		return permanent
	}
	return err
}

func retryable(err error) bool {
	return !errors.Is(err, exception.ErrVenueAuth) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (c *retryClient) FetchOrderBook(ctx context.Context, market string, depth int) (snap BookSnapshot, err error) {
	err = c.retry(ctx, func(ctx context.Context) (e error) {
		snap, e = c.Client.FetchOrderBook(ctx, market, depth)
		return e
	})
	return snap, err
}

func (c *retryClient) FetchPositions(ctx context.Context) (out []Position, err error) {
	err = c.retry(ctx, func(ctx context.Context) (e error) {
		out, e = c.Client.FetchPositions(ctx)
		return e
	})
	return out, err
}

func (c *retryClient) FetchBalance(ctx context.Context) (out Balance, err error) {
	err = c.retry(ctx, func(ctx context.Context) (e error) {
		out, e = c.Client.FetchBalance(ctx)
		return e
	})
	return out, err
}

func (c *retryClient) FetchOpenOrders(ctx context.Context, market string) (out []LiveOrder, err error) {
	err = c.retry(ctx, func(ctx context.Context) (e error) {
		out, e = c.Client.FetchOpenOrders(ctx, market)
		return e
	})
	return out, err
}

func (c *retryClient) FetchMarket(ctx context.Context, market string) (out MarketInfo, err error) {
	err = c.retry(ctx, func(ctx context.Context) (e error) {
		out, e = c.Client.FetchMarket(ctx, market)
		return e
	})
	return out, err
}
