// Package sshtest runs an in-process SSH server that answers exec requests
// from a handler function. It backs the transport and remote client tests.
package sshtest

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/remotescope/internal/config"
	"github.com/gluk-w/remotescope/internal/sshkeys"
)

// Reply is what the server sends back for one exec request.
type Reply struct {
	Stdout string
	Stderr string
	Status int
	// NoStatus closes the channel without sending exit-status.
	NoStatus bool
	// Delay is waited before replying.
	Delay time.Duration
}

// Handler answers one command line.
type Handler func(cmd string) Reply

// Server is a running test server.
type Server struct {
	Addr      string
	HostKey   ssh.PublicKey
	ClientKey ssh.Signer
	ClientPEM []byte
	User      string

	listener net.Listener
	handler  Handler

	mu       sync.Mutex
	conns    []net.Conn
	commands []string
	done     chan struct{}
}

// Start launches a server that accepts the returned ClientKey for user
// "scope" and answers every exec with h. It is shut down via t.Cleanup.
func Start(t *testing.T, h Handler) *Server {
	t.Helper()

	_, hostPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := sshkeys.ParsePrivateKey(hostPEM, "")
	if err != nil {
		t.Fatalf("parse host key: %v", err)
	}
	_, clientPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	clientSigner, err := sshkeys.ParsePrivateKey(clientPEM, "")
	if err != nil {
		t.Fatalf("parse client key: %v", err)
	}

	authorized := ssh.FingerprintSHA256(clientSigner.PublicKey())
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if conn.User() == "scope" && ssh.FingerprintSHA256(key) == authorized {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key for %s", conn.User())
		},
	}
	cfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Addr:      listener.Addr().String(),
		HostKey:   hostSigner.PublicKey(),
		ClientKey: clientSigner,
		ClientPEM: clientPEM,
		User:      "scope",
		listener:  listener,
		handler:   h,
		done:      make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, netConn)
			s.mu.Unlock()
			go s.handleConn(netConn, cfg)
		}
	}()

	t.Cleanup(s.Close)
	return s
}

// Endpoint returns an endpoint pointing at the server with the given path.
func (s *Server) Endpoint(path string) config.Endpoint {
	host, portStr, _ := net.SplitHostPort(s.Addr)
	port, _ := strconv.Atoi(portStr)
	return config.Endpoint{Host: host, Port: port, User: s.User, Path: path}
}

// Commands returns every command line received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Server) handleConn(netConn net.Conn, cfg *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, cfg)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		if req.WantReply {
			req.Reply(true, nil)
		}

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		r := s.handler(payload.Command)
		if r.Delay > 0 {
			time.Sleep(r.Delay)
		}
		if r.Stdout != "" {
			ch.Write([]byte(r.Stdout))
		}
		if r.Stderr != "" {
			ch.Stderr().Write([]byte(r.Stderr))
		}
		if !r.NoStatus {
			status := struct{ Status uint32 }{uint32(r.Status)}
			ch.SendRequest("exit-status", false, ssh.Marshal(&status))
		}
		return
	}
}
