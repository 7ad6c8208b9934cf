package relay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/teslashibe/go-tradeschool/internal/log"
)

// EmbeddedURL selects an in-process NATS server instead of a remote one.
const EmbeddedURL = "embedded"

// Server wraps an in-process NATS server for single-host deployments and
// tests.
type Server struct {
	ns *server.Server
}

// StartServer starts an in-process NATS server on port. Port -1 picks a
// random free port.
func StartServer(port int) (*Server, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "tradeschool_embedded",
		Host:       "127.0.0.1",
		Port:       port,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}
	ns.SetLogger(&natsLogger{log: log.Component("nats-server")}, false, false)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server failed to start within 5s timeout")
	}
	return &Server{ns: ns}, nil
}

// ClientURL returns the URL clients should dial.
func (s *Server) ClientURL() string {
	return s.ns.ClientURL()
}

// Stop shuts the server down and waits for it to exit.
func (s *Server) Stop() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}

// natsLogger implements server.Logger on slog.
type natsLogger struct {
	log *slog.Logger
}

func (n *natsLogger) Noticef(format string, v ...any) { n.log.Debug(fmt.Sprintf(format, v...)) }
func (n *natsLogger) Warnf(format string, v ...any)   { n.log.Warn(fmt.Sprintf(format, v...)) }
func (n *natsLogger) Fatalf(format string, v ...any)  { n.log.Error(fmt.Sprintf(format, v...)) }
func (n *natsLogger) Errorf(format string, v ...any)  { n.log.Error(fmt.Sprintf(format, v...)) }
func (n *natsLogger) Debugf(format string, v ...any)  { n.log.Debug(fmt.Sprintf(format, v...)) }
func (n *natsLogger) Tracef(format string, v ...any)  { n.log.Debug(fmt.Sprintf(format, v...)) }
