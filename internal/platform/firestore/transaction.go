package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc runs inside a Firestore transaction. Reads must precede writes.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption adjusts how RunTransaction executes.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

func defaultTxSettings() txSettings {
	return txSettings{attempts: 5, timeout: 15 * time.Second}
}

// WithTxAttempts caps contention retries for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the transaction's context deadline.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// RunTransaction executes fn in a Firestore transaction with bounded
// retries and a deadline. Errors come back wrapped as repository errors.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: nil client"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: nil transaction func"))
	}

	settings := defaultTxSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	txCtx, cancel := boundContext(ctx, settings.timeout)
	defer cancel()

	err := client.RunTransaction(txCtx, fn, firestore.MaxAttempts(settings.attempts))
	return WrapError("transaction", err)
}

// boundContext tightens ctx to timeout unless an earlier deadline already
// applies.
func boundContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
