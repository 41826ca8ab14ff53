// Package udpxfer moves files between hosts over plain UDP.
//
// A transfer is one-way and single-file: the sender announces the file name
// and chunk geometry, streams every chunk once, and then resends only what
// the receiver reports missing until the receiver confirms it has it all.
// Nothing is encrypted or authenticated.
//
// # Receiving
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := udpxfer.StartServer(ctx, "0.0.0.0:9000", "./incoming", nil); err != nil {
//	    log.Fatal(err)
//	}
//
// Files are written under their announced name; an existing file is never
// overwritten, a numbered variant such as "report_1.pdf" is chosen instead.
//
// # Sending
//
//	opts := udpxfer.NewOptions()
//	opts.ChunkSize = 8192
//
//	report, err := udpxfer.SendFile(ctx, "report.pdf", "10.0.0.2:9000", opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("sent in %v with %d retransmissions\n", report.Elapsed, report.Retransmitted)
//
// # Packages
//
// The facade is a thin layer over:
//   - limits: datagram and chunk geometry constants
//   - transport: the wire codec and the UDP socket wrapper
//   - file: chunk storage, collision-free naming and file assembly
//   - session: the sender and receiver state machines
//
// # Logging
//
// All packages log through logrus with structured fields. Configure the
// global logger (level, formatter, output) before starting a transfer.
package udpxfer
