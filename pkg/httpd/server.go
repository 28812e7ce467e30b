// Package httpd implements a minimal HTTP/1.1 server that answers GET
// requests for files and directory listings under a web root, one
// connection at a time.
package httpd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"
)

const (
	// DefaultAddr is the address ListenAndServe binds when Addr is empty.
	DefaultAddr = "127.0.0.1:10000"
	// DefaultMaxHeaderBytes caps the request header when MaxHeaderBytes is zero.
	DefaultMaxHeaderBytes = 8192
)

// Server accepts connections and serves them strictly in sequence: a
// connection is fully answered and closed before the next one is accepted.
type Server struct {
	Addr     string
	Resolver *Resolver
	Logger   *log.Logger

	// ReadTimeout bounds the time spent reading a request header.
	// Zero means no deadline.
	ReadTimeout time.Duration
	// MaxHeaderBytes caps the request header size.
	MaxHeaderBytes int
}

// ListenAndServe binds s.Addr and serves it until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	s.logf("making a server on %s", addr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln and
// returns nil. A connection being served when ctx is cancelled is finished
// first. Any other accept failure is returned.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.Resolver == nil {
		ln.Close()
		return errors.New("httpd: server has no resolver")
	}
	defer ln.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()

	for {
		s.logf("waiting for a connection")
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logf("shutting down")
				return nil
			}
			s.logf("error :: accept: %v", err)
			return fmt.Errorf("accepting connection: %w", err)
		}
		s.ServeConn(ctx, conn)
	}
}

func (s *Server) maxHeaderBytes() int {
	if s.MaxHeaderBytes > 0 {
		return s.MaxHeaderBytes
	}
	return DefaultMaxHeaderBytes
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}
