package jetstream

import (
	"fmt"
	"time"

	server "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
)

type Server struct{ ns *server.Server }

// NewServer starts an embedded NATS server with JetStream enabled. With
// port <= 0 it only accepts in-process connections.
func NewServer(storeDir string, port int) (*Server, error) {
	opts := &server.Options{
		JetStream: true,
		StoreDir:  storeDir,
	}
	if port > 0 {
		opts.Host = "127.0.0.1"
		opts.Port = port
	} else {
		opts.DontListen = true
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, err
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready")
	}
	return &Server{ns: ns}, nil
}

func (s *Server) Connect() (*nats.Conn, error) {
	return nats.Connect(s.ns.ClientURL(), nats.InProcessServer(s.ns), nats.Name("zenreply"))
}

// ClientURL is the address external UI processes use, when listening.
func (s *Server) ClientURL() string {
	return s.ns.ClientURL()
}

func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
