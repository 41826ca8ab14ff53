// Package main provides the udpxfer command.
//
// # Usage
//
// Receive files on port 9000 into ./incoming:
//
//	udpxfer serve -bind 0.0.0.0:9000 -dir ./incoming
//
// Send a file:
//
//	udpxfer send -peer 10.0.0.2:9000 report.pdf
//
// # Configuration Options
//
// serve:
//   - -bind: Listen address (default: 0.0.0.0:9000)
//   - -dir: Target directory (default: .)
//   - -receive-timeout: Session idle timeout (default: 10s)
//   - -linger: Time to answer late resends after completion (default: 1s)
//   - -require-complete: Discard incomplete transfers
//
// send:
//   - -peer: Receiver address, required
//   - -chunk-size: Payload bytes per chunk (default: 4096)
//   - -pacing: Delay between chunk sends (default: 1ms)
//   - -ack-timeout: Wait per acknowledgment (default: 500ms)
//   - -max-retries: Consecutive ack timeouts before failing (default: 5)
//   - -timeout: Overall transfer deadline (default: none)
//   - -drop-rate, -drop-seed: Randomly drop outgoing datagrams to study loss
//
// Both modes accept -read-buffer, -log-level, -log-file and -log-json.
//
// # Exit Codes
//
//   - 0: Success
//   - 1: Transfer or server failure, or invalid configuration
//   - 2: Unparseable command line
package main
