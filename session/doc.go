// Package session implements the two endpoints of a chunked file transfer
// over an unreliable datagram transport.
//
// A Sender announces a file with a metadata packet, streams every chunk once
// and then waits for acknowledgments. A Receiver stores chunks as they arrive
// and, each time the frontier chunk shows up, answers with the sequence
// numbers it is still missing. The sender resends exactly those chunks; the
// highest of them becomes the next frontier. An empty acknowledgment ends the
// transfer.
//
// # Timeouts
//
// The sender waits Options.AckTimeout for each acknowledgment. After a
// timeout it resends the frontier chunk, which provokes a fresh
// acknowledgment from the receiver. Options.MaxRetries consecutive timeouts
// fail the transfer with an *AckTimeoutError.
//
// The receiver gives up when no chunk has arrived for Options.ReceiveTimeout
// and returns a *PartialTimeoutError listing the chunks that never arrived.
// By default whatever did arrive is written anyway; set
// Options.RequireComplete to discard it instead.
//
// # Example
//
//	opts := session.NewOptions()
//	sender, err := session.NewSender(udp, peer, opts)
//	if err != nil {
//		return err
//	}
//	report, err := sender.SendFile(ctx, "archive.tar")
//
// AwaitWithRetry is the bounded wait both roles share and can be reused for
// any request/response exchange over a Transport.
package session
