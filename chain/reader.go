package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/w3types"
	"go.uber.org/zap"
)

// Caller is the subset of *w3.Client used for reads.
type Caller interface {
	CallCtx(ctx context.Context, calls ...w3types.RPCCaller) error
}

// Reader issues batched contract reads. Each batch is a single JSON-RPC
// round trip; individual call failures do not fail the batch.
type Reader struct {
	client Caller
	logger *zap.Logger
}

// NewReader wraps an RPC caller.
func NewReader(client Caller, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{client: client, logger: logger}
}

// Dial connects to rpcURL and returns a Reader with the underlying client.
func Dial(rpcURL string, logger *zap.Logger) (*Reader, *w3.Client, error) {
	client, err := w3.Dial(rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewReader(client, logger), client, nil
}

// Batch executes calls in one request and returns one error slot per call.
// A non-nil returned error means the whole batch failed (transport, context).
func (r *Reader) Batch(ctx context.Context, calls ...w3types.RPCCaller) ([]error, error) {
	errs := make([]error, len(calls))
	if len(calls) == 0 {
		return errs, nil
	}

	err := r.client.CallCtx(ctx, calls...)
	if err == nil {
		return errs, nil
	}

	var callErrs w3.CallErrors
	if errors.As(err, &callErrs) {
		copy(errs, callErrs)
		r.logger.Debug("batch completed with call errors",
			zap.Int("calls", len(calls)),
			zap.Int("failed", countErrors(errs)))
		return errs, nil
	}

	// single calls surface their own error rather than CallErrors
	if len(calls) == 1 && !isTransportError(ctx, err) {
		errs[0] = err
		return errs, nil
	}

	return nil, fmt.Errorf("rpc batch: %w", err)
}

func isTransportError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) || errors.As(err, &netErr)
}

// Call executes calls and fails if any of them fails.
func (r *Reader) Call(ctx context.Context, calls ...w3types.RPCCaller) error {
	errs, err := r.Batch(ctx, calls...)
	if err != nil {
		return err
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func countErrors(errs []error) int {
	n := 0
	for _, e := range errs {
		if e != nil {
			n++
		}
	}
	return n
}
