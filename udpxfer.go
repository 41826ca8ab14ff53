package udpxfer

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/udpxfer/session"
	"github.com/opd-ai/udpxfer/transport"
)

// Options configures both ends of a transfer.
type Options = session.Options

// NewOptions returns the default configuration.
func NewOptions() *Options {
	return session.NewOptions()
}

// openTransport binds a UDP socket configured from opts.
func openTransport(listenAddr string, opts *Options) (*transport.UDPTransport, error) {
	udp, err := transport.NewUDPTransport(listenAddr, opts.ReadBufferSize)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", listenAddr, err)
	}
	udp.SetDrainWait(opts.DrainWait)
	return udp, nil
}

// StartServer binds bindAddress and receives files into targetDir, one
// session at a time, until ctx is cancelled. A nil opts uses NewOptions.
func StartServer(ctx context.Context, bindAddress, targetDir string, opts *Options) error {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	udp, err := openTransport(bindAddress, opts)
	if err != nil {
		return err
	}
	defer udp.Close()

	server, err := session.NewServer(udp, targetDir, opts)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// SendFile transfers the file at path to the receiver at peerAddress
// ("host:port") from an ephemeral local port. A nil opts uses NewOptions.
func SendFile(ctx context.Context, path, peerAddress string, opts *Options) (*session.SendReport, error) {
	return SendFileVia(ctx, path, peerAddress, opts, nil)
}

// SendFileVia is SendFile with the socket passed through wrap first, for
// example to inject loss with transport.NewLossyTransport. A nil wrap sends
// on the socket directly.
func SendFileVia(ctx context.Context, path, peerAddress string, opts *Options, wrap func(transport.Transport) transport.Transport) (*session.SendReport, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	peer, err := net.ResolveUDPAddr("udp", peerAddress)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SendFile",
			"peer":     peerAddress,
			"error":    err.Error(),
		}).Error("Cannot resolve peer address")
		return nil, fmt.Errorf("resolve %s: %w", peerAddress, err)
	}

	udp, err := openTransport(localBindFor(peer), opts)
	if err != nil {
		return nil, err
	}
	defer udp.Close()

	var t transport.Transport = udp
	if wrap != nil {
		t = wrap(udp)
	}

	sender, err := session.NewSender(t, peer, opts)
	if err != nil {
		return nil, err
	}
	return sender.SendFile(ctx, path)
}

// localBindFor picks an ephemeral bind address in the peer's address family.
func localBindFor(peer *net.UDPAddr) string {
	if peer.IP != nil && peer.IP.To4() == nil {
		return "[::]:0"
	}
	return "0.0.0.0:0"
}
