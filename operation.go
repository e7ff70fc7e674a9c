package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultOperationTimeout bounds every service call.
const DefaultOperationTimeout = 10 * time.Second

// begin checks ctx for cancellation and derives the bounded context used
// for the operation.
func begin(ctx context.Context, op string) (context.Context, context.CancelFunc, error) {
	select {
	case <-ctx.Done():
		return ctx, func() {}, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during "+op,
		)
	default:
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultOperationTimeout)
	return ctx, cancel, nil
}

// settle passes rich errors through untouched and wraps everything else.
func settle(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
