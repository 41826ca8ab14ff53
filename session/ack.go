package session

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/udpxfer/transport"
)

// ReceiveFunc waits up to timeout for one datagram. It returns
// transport.ErrTimeout when nothing arrived.
type ReceiveFunc func(ctx context.Context, timeout time.Duration) (transport.Datagram, error)

// DecodeFunc turns a datagram into the awaited response. Returning an error
// marks the datagram as not a response; it is skipped and the wait continues.
type DecodeFunc[T any] func(dg transport.Datagram) (T, error)

// RetryFunc re-provokes a response after a timeout. attempt counts the
// timeouts seen so far, starting at 1.
type RetryFunc func(attempt int) error

// AwaitWithRetry waits for a datagram that decode accepts. Each attempt waits
// at most timeout; datagrams decode rejects do not extend that deadline. After
// a timeout retry is called, if non-nil, and the wait starts over. The call
// fails with *AckTimeoutError once maxRetries consecutive attempts have timed
// out. seq identifies the outstanding sequence number in logs and errors.
func AwaitWithRetry[T any](ctx context.Context, receive ReceiveFunc, retry RetryFunc, decode DecodeFunc[T], timeout time.Duration, maxRetries int, seq uint32) (T, error) {
	var zero T
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 1; ; attempt++ {
		resp, ok, err := awaitOnce(ctx, receive, decode, timeout)
		if err != nil {
			return zero, err
		}
		if ok {
			return resp, nil
		}

		if attempt >= maxRetries {
			logrus.WithFields(logrus.Fields{
				"function": "AwaitWithRetry",
				"seq_num":  seq,
				"attempts": attempt,
				"timeout":  timeout,
			}).Warn("Retry budget exhausted")
			return zero, &AckTimeoutError{Seq: seq, Attempts: attempt, Timeout: timeout}
		}

		logrus.WithFields(logrus.Fields{
			"function": "AwaitWithRetry",
			"seq_num":  seq,
			"attempt":  attempt,
			"max":      maxRetries,
		}).Debug("Timed out waiting for response, retrying")

		if retry != nil {
			if err := retry(attempt); err != nil {
				return zero, err
			}
		}
	}
}

// awaitOnce runs a single attempt. ok is false when the deadline passed
// without an accepted datagram.
func awaitOnce[T any](ctx context.Context, receive ReceiveFunc, decode DecodeFunc[T], timeout time.Duration) (resp T, ok bool, err error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return resp, false, nil
		}

		dg, err := receive(ctx, remaining)
		if errors.Is(err, transport.ErrTimeout) {
			return resp, false, nil
		}
		if err != nil {
			return resp, false, err
		}

		resp, err = decode(dg)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "AwaitWithRetry",
				"size":     len(dg.Data),
				"error":    err.Error(),
			}).Debug("Skipping datagram")
			continue
		}
		return resp, true, nil
	}
}
