package session

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/udpxfer/transport"
)

// Server runs receiving sessions back to back on one transport.
type Server struct {
	receiver *Receiver
	opts     *Options
}

// NewServer creates a server writing received files into targetDir.
func NewServer(t transport.Transport, targetDir string, opts *Options) (*Server, error) {
	opts = orDefault(opts)
	r, err := NewReceiver(t, targetDir, opts)
	if err != nil {
		return nil, err
	}
	return &Server{receiver: r, opts: opts}, nil
}

// Serve accepts sessions until ctx is cancelled or the transport fails.
// Session failures are logged and reported through Options.OnSession; they
// do not stop the server. Cancellation returns nil.
func (s *Server) Serve(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function":   "Serve",
		"local_addr": s.receiver.transport.LocalAddr().String(),
		"target_dir": s.receiver.targetDir,
	}).Info("Waiting for transfers")

	for {
		report, err := s.receiver.ReceiveOne(ctx)

		if ctx.Err() != nil {
			if report != nil {
				s.notify(report, err)
			}
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
			}).Info("Server stopped")
			return nil
		}

		if report == nil {
			// No session was opened, so the transport itself failed.
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"error":    err.Error(),
			}).Error("Receive loop failed")
			return err
		}

		s.notify(report, err)

		if errors.Is(err, transport.ErrClosed) {
			return err
		}
	}
}

func (s *Server) notify(report *ReceiveReport, err error) {
	fields := logrus.Fields{
		"function":   "Serve",
		"session_id": report.SessionID.String(),
		"file_name":  report.Metadata.FileName,
		"state":      report.State.String(),
		"received":   report.Received,
		"duplicates": report.Duplicates,
		"acks_sent":  report.AcksSent,
	}
	if report.Assembly != nil {
		fields["path"] = report.Assembly.Path
		fields["bytes_written"] = report.Assembly.BytesWritten
	}
	if err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Session ended")
	} else {
		logrus.WithFields(fields).Info("Session ended")
	}

	if s.opts.OnSession != nil {
		s.opts.OnSession(report, err)
	}
}
