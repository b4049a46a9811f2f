package errors

import (
	"fmt"
	"testing"

	"mmhedge/pkg/exception"
)

var errWrapped = New("wrapped error")

func TestWrap(t *testing.T) {
	err := Wrap(errWrapped, "Hello, Wrapped!")
	if err.Error() != "Hello, Wrapped!, err: wrapped error" {
		t.Fatalf("error mismatch: %+v", err)
	}
	if !Is(err, errWrapped) {
		t.Fatalf("wrapped error should unwrap to its cause: %+v", err)
	}
	if Wrap(nil, "nothing") != nil {
		t.Fatal("wrapping nil should stay nil")
	}
	if Wrap(errWrapped, "") != errWrapped {
		t.Fatal("empty text should return the cause untouched")
	}
}

func TestWrapf(t *testing.T) {
	err := Wrapf(exception.ErrReconciliation, "cancel order %s", "o-1")
	if err.Error() != "cancel order o-1, err: "+exception.ErrReconciliation.Error() {
		t.Fatalf("error mismatch: %+v", err)
	}
}

func TestTag(t *testing.T) {
	cause := Wrap(exception.ErrVenueAuth, "401")
	err := Tag(exception.ErrReconciliation, cause, "place order %s", "o-1")
	want := "place order o-1, err: " + exception.ErrReconciliation.Error() + ": 401, err: " + exception.ErrVenueAuth.Error()
	if err.Error() != want {
		t.Fatalf("error mismatch: got %s want %s", err, want)
	}
	if !Is(err, exception.ErrReconciliation) || !Is(err, exception.ErrVenueAuth) {
		t.Fatalf("tagged error should match kind and cause: %+v", err)
	}
	if !Fatal(err) {
		t.Fatalf("auth cause should stay fatal through the tag: %+v", err)
	}
	if Tag(exception.ErrReconciliation, nil, "nothing") != nil {
		t.Fatal("tagging nil should stay nil")
	}
}

func TestKindAndFatal(t *testing.T) {
	cases := []struct {
		err   error
		kind  string
		fatal bool
	}{
		{Wrap(exception.ErrInvalidBook, "bids empty"), "invalid_book", false},
		{Wrap(exception.ErrInvalidStrategyParams, "orderValue"), "invalid_strategy_params", true},
		{Wrap(exception.ErrReconciliation, "place"), "reconciliation", false},
		{fmt.Errorf("stream: %w", exception.ErrFillStream), "fill_stream", false},
		{Wrap(exception.ErrHedgeSubmission, "timeout"), "hedge_submission", false},
		{Wrap(exception.ErrVenueAuth, "401"), "venue_auth", true},
		{Wrap(exception.ErrSetup, "market info"), "setup", true},
		{errWrapped, "unknown", false},
	}
	for _, c := range cases {
		if got := Kind(c.err); got != c.kind {
			t.Fatalf("kind mismatch for %v: got %s want %s", c.err, got, c.kind)
		}
		if got := Fatal(c.err); got != c.fatal {
			t.Fatalf("fatal mismatch for %v: got %v want %v", c.err, got, c.fatal)
		}
	}
}
