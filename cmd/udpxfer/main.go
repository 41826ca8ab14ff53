package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/udpxfer"
	"github.com/opd-ai/udpxfer/session"
	"github.com/opd-ai/udpxfer/transport"
)

const (
	modeServe = "serve"
	modeSend  = "send"
)

// CLI configuration
type CLIConfig struct {
	mode string

	// serve
	bindAddress     string
	targetDir       string
	receiveTimeout  time.Duration
	linger          time.Duration
	requireComplete bool

	// send
	peerAddress    string
	filePath       string
	chunkSize      int
	pacing         time.Duration
	ackTimeout     time.Duration
	maxRetries     int
	overallTimeout time.Duration
	dropRate       float64
	dropSeed       int64

	readBuffer int
	logLevel   string
	logFile    string
	logJSON    bool
	help       bool
}

// parseCLIFlags parses the mode and its flags from args (without the program name).
func parseCLIFlags(args []string, output io.Writer) (*CLIConfig, error) {
	config := &CLIConfig{}
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		config.help = true
		return config, nil
	}
	config.mode = args[0]

	defaults := session.NewOptions()
	fs := flag.NewFlagSet(config.mode, flag.ContinueOnError)
	fs.SetOutput(output)

	switch config.mode {
	case modeServe:
		fs.StringVar(&config.bindAddress, "bind", "0.0.0.0:9000", "Address to listen on")
		fs.StringVar(&config.targetDir, "dir", ".", "Directory received files are written to")
		fs.DurationVar(&config.receiveTimeout, "receive-timeout", defaults.ReceiveTimeout, "Give up on a session after this long without chunks")
		fs.DurationVar(&config.linger, "linger", defaults.CompletionLinger, "Keep answering late resends this long after completion")
		fs.BoolVar(&config.requireComplete, "require-complete", false, "Discard incomplete transfers instead of writing them with gaps")
	case modeSend:
		fs.StringVar(&config.peerAddress, "peer", "", "Receiver address (host:port)")
		fs.IntVar(&config.chunkSize, "chunk-size", defaults.ChunkSize, "Payload bytes per chunk")
		fs.DurationVar(&config.pacing, "pacing", defaults.PacingInterval, "Delay between chunk sends")
		fs.DurationVar(&config.ackTimeout, "ack-timeout", defaults.AckTimeout, "Wait per acknowledgment")
		fs.IntVar(&config.maxRetries, "max-retries", defaults.MaxRetries, "Consecutive ack timeouts before giving up")
		fs.DurationVar(&config.overallTimeout, "timeout", 0, "Abort the transfer after this long (0 disables)")
		fs.Float64Var(&config.dropRate, "drop-rate", 0, "Drop this fraction of outgoing datagrams (loss experiments)")
		fs.Int64Var(&config.dropSeed, "drop-seed", 1, "Random seed for -drop-rate")
	case "help", "-h", "--help":
		config.help = true
		return config, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", config.mode)
	}

	// Shared configuration
	fs.IntVar(&config.readBuffer, "read-buffer", defaults.ReadBufferSize, "Socket receive buffer in bytes")
	fs.StringVar(&config.logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.StringVar(&config.logFile, "log-file", "", "Log file path (default: stderr)")
	fs.BoolVar(&config.logJSON, "log-json", false, "Emit logs as JSON")
	fs.BoolVar(&config.help, "help", false, "Show help message")

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	if config.mode == modeSend && fs.NArg() > 0 {
		config.filePath = fs.Arg(0)
	}
	return config, nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "udpxfer - reliable file transfer over UDP")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s serve [options]\n", os.Args[0])
	fmt.Fprintf(w, "  %s send -peer host:port [options] FILE\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  # Receive into ./incoming on port 9000\n")
	fmt.Fprintf(w, "  %s serve -bind 0.0.0.0:9000 -dir ./incoming\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  # Send with larger chunks and debug logging\n")
	fmt.Fprintf(w, "  %s send -peer 10.0.0.2:9000 -chunk-size 8192 -log-level DEBUG report.pdf\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run '%s <mode> -help' for the options of a mode.\n", os.Args[0])
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	if _, err := logrus.ParseLevel(config.logLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	switch config.mode {
	case modeServe:
		if config.bindAddress == "" {
			return fmt.Errorf("bind address cannot be empty")
		}
		if config.targetDir == "" {
			return fmt.Errorf("target directory cannot be empty")
		}
	case modeSend:
		if config.peerAddress == "" {
			return fmt.Errorf("peer address is required")
		}
		if config.filePath == "" {
			return fmt.Errorf("a file to send is required")
		}
		if config.overallTimeout < 0 {
			return fmt.Errorf("timeout cannot be negative")
		}
		if config.dropRate < 0 || config.dropRate >= 1 {
			return fmt.Errorf("drop rate must be in [0, 1)")
		}
	}

	return createOptions(config).Validate()
}

// createOptions converts CLI configuration to session options.
func createOptions(config *CLIConfig) *session.Options {
	opts := session.NewOptions()
	opts.ReadBufferSize = config.readBuffer

	switch config.mode {
	case modeServe:
		opts.ReceiveTimeout = config.receiveTimeout
		opts.CompletionLinger = config.linger
		opts.RequireComplete = config.requireComplete
	case modeSend:
		opts.ChunkSize = config.chunkSize
		opts.PacingInterval = config.pacing
		opts.AckTimeout = config.ackTimeout
		opts.MaxRetries = config.maxRetries
	}
	return opts
}

// setupLogging configures the global logrus logger. The returned closer
// releases the log file, if any.
func setupLogging(config *CLIConfig) (func(), error) {
	level, err := logrus.ParseLevel(config.logLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	if config.logJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}

	if config.logFile == "" {
		logrus.SetOutput(os.Stderr)
		return func() {}, nil
	}

	logFile, err := os.OpenFile(config.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logrus.SetOutput(logFile)
	return func() { logFile.Close() }, nil
}

// setupSignalHandling sets up graceful shutdown on interrupt signals.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nReceived signal %v, shutting down...\n", sig)
		cancel()
	}()
}

func runServe(ctx context.Context, config *CLIConfig, opts *session.Options) int {
	opts.OnSession = func(report *session.ReceiveReport, err error) {
		if report.Assembly == nil {
			fmt.Printf("session %s (%s): %s, nothing written\n", report.SessionID, report.Metadata.FileName, report.State)
			return
		}
		fmt.Printf("session %s: %s -> %s (%d bytes, %.0f B/s, %s)\n",
			report.SessionID, report.Metadata.FileName, report.Assembly.Path,
			report.Assembly.BytesWritten, report.Assembly.TransferRate, report.State)
	}

	fmt.Printf("Listening on %s, writing to %s\n", config.bindAddress, config.targetDir)
	if err := udpxfer.StartServer(ctx, config.bindAddress, config.targetDir, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}

func runSend(ctx context.Context, config *CLIConfig, opts *session.Options) int {
	if config.overallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.overallTimeout)
		defer cancel()
	}

	var wrap func(transport.Transport) transport.Transport
	var lossy *transport.LossyTransport
	if config.dropRate > 0 {
		wrap = func(inner transport.Transport) transport.Transport {
			lossy = transport.NewLossyTransport(inner, transport.RandomDrop(config.dropRate, config.dropSeed))
			return lossy
		}
	}

	report, err := udpxfer.SendFileVia(ctx, config.filePath, config.peerAddress, opts, wrap)
	if lossy != nil {
		stats := lossy.Stats()
		fmt.Printf("Injected loss: dropped %d of %d datagrams\n", stats.Dropped, stats.Sent)
	}
	if err != nil {
		var timeoutErr *session.AckTimeoutError
		if errors.As(err, &timeoutErr) {
			fmt.Fprintf(os.Stderr, "Transfer failed: no acknowledgment after %d attempts (chunk %d outstanding)\n",
				timeoutErr.Attempts, timeoutErr.Seq)
		} else {
			fmt.Fprintf(os.Stderr, "Transfer failed: %v\n", err)
		}
		if report != nil {
			printLosses(os.Stderr, report.Losses)
		}
		return 1
	}

	fmt.Printf("Sent %s: %d bytes in %d chunks, %d rounds, %d retransmitted, %v\n",
		report.FileName, report.FileSize, report.TotalChunks, report.Rounds, report.Retransmitted, report.Elapsed)
	printLosses(os.Stdout, report.Losses)
	return 0
}

// printLosses writes one line per acknowledgment round.
func printLosses(w io.Writer, losses [][]int32) {
	for i, missing := range losses {
		switch {
		case len(missing) == 1 && missing[0] < 0:
			fmt.Fprintf(w, "  round %d: no acknowledgment\n", i+1)
		case len(missing) == 0:
			fmt.Fprintf(w, "  round %d: complete\n", i+1)
		default:
			fmt.Fprintf(w, "  round %d: %d missing %v\n", i+1, len(missing), missing)
		}
	}
}

func run(args []string) int {
	cliConfig, err := parseCLIFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		printUsage(os.Stderr)
		return 2
	}

	if cliConfig.help {
		printUsage(os.Stdout)
		return 0
	}

	if err := validateCLIConfig(cliConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		return 1
	}

	closeLog, err := setupLogging(cliConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging setup failed: %v\n", err)
		return 1
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	opts := createOptions(cliConfig)
	if cliConfig.mode == modeServe {
		return runServe(ctx, cliConfig, opts)
	}
	return runSend(ctx, cliConfig, opts)
}

// main is the entry point for the udpxfer command.
func main() {
	os.Exit(run(os.Args[1:]))
}
