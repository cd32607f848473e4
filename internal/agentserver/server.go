// Package agentserver accepts collector pushes over TCP. Agents send one
// JSON push envelope per line; each line is parsed and buffered inline so
// backpressure reaches the agent's connection.
package agentserver

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync"
)

// DefaultMaxLineSize is the default maximum size (in bytes) of a single
// push payload line.
const DefaultMaxLineSize = 1024 * 1024 // 1MB

// LineHandler processes one complete push payload line.
type LineHandler interface {
	ProcessLine(line []byte) error
}

// ServerConfig holds tunable parameters for the agent listener.
type ServerConfig struct {
	MaxLineSize int
}

// Server listens for newline-delimited push payloads over TCP.
type Server struct {
	listener    net.Listener
	addr        string
	handler     LineHandler
	maxLineSize int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewServer creates a new agent listener. Default addr is "127.0.0.1:4000".
func NewServer(addr string, handler LineHandler, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = "127.0.0.1:4000"
	}
	maxLineSize := DefaultMaxLineSize
	if len(conf) > 0 && conf[0].MaxLineSize > 0 {
		maxLineSize = conf[0].MaxLineSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        addr,
		handler:     handler,
		maxLineSize: maxLineSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins accepting TCP connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					continue
				}
			}
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()

	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	buf := make([]byte, s.maxLineSize)
	scanner.Buffer(buf, s.maxLineSize)

	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := s.handler.ProcessLine(line); err != nil {
			log.Printf("agentserver: bad push from %s: %v", conn.RemoteAddr(), err)
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			log.Printf("agentserver: dropped connection %s due to line exceeding max size (%d bytes)", conn.RemoteAddr(), s.maxLineSize)
			return
		}
		log.Printf("agentserver: scanner error from %s: %v", conn.RemoteAddr(), err)
	}
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
