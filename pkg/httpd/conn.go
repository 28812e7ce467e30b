package httpd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"time"
	"unicode/utf8"
)

const (
	readChunkSize = 1024

	// After the response, unread request bytes are drained for at most
	// this long and this much before the final close, so the peer gets a
	// FIN and not a reset.
	drainTimeout  = 500 * time.Millisecond
	maxDrainBytes = 256 << 10
)

var headerTerminator = []byte("\r\n\r\n")

// ServeConn reads one request from conn, writes one response and closes conn.
// Failures without a defined response, panics included, are logged and the
// connection is closed without writing anything.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if v := recover(); v != nil {
			s.logf("error :: panic serving %s: %v\n%s", conn.RemoteAddr(), v, debug.Stack())
		}
	}()

	s.logf("connection - %s", conn.RemoteAddr())
	response, err := s.respond(ctx, conn)
	if err != nil {
		s.logf("error :: serving %s: %v", conn.RemoteAddr(), err)
		return
	}
	if _, err := conn.Write(response); err != nil {
		s.logf("error :: writing response to %s: %v", conn.RemoteAddr(), err)
		return
	}
	closeWriteAndDrain(conn)
}

// closeWriteAndDrain half-closes conn when it supports it and discards
// whatever the peer still sends, bounded by drainTimeout and maxDrainBytes.
func closeWriteAndDrain(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return
		}
	}
	if err := conn.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
		return
	}
	io.CopyN(io.Discard, conn, maxDrainBytes)
}

func (s *Server) respond(ctx context.Context, conn net.Conn) ([]byte, error) {
	content, mimeType, err := s.handle(ctx, conn)
	if err != nil {
		return errorResponse(err)
	}
	return ResponseOK(content, mimeType), nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) ([]byte, string, error) {
	raw, err := s.readRequest(conn)
	if err != nil {
		return nil, "", err
	}
	s.logf("Request received:\n%s\n", raw)

	path, err := ParseRequest(raw)
	if err != nil {
		return nil, "", err
	}
	return s.Resolver.Resolve(ctx, path)
}

// errorResponse returns the canned response for err, or err itself when
// there is none.
func errorResponse(err error) ([]byte, error) {
	kind, ok := KindOf(err)
	if !ok {
		return nil, err
	}
	switch kind {
	case MethodNotImplemented:
		return ResponseMethodNotAllowed(), nil
	case NotFound, UnknownType:
		return ResponseNotFound(), nil
	case RequestTooLarge:
		return ResponseTooLarge(), nil
	case Timeout:
		return ResponseTimeout(), nil
	}
	return nil, err
}

// readRequest accumulates bytes from conn until the header terminator shows up.
func (s *Server) readRequest(conn net.Conn) (string, error) {
	if s.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
			return "", fmt.Errorf("setting read deadline: %w", err)
		}
	}

	limit := s.maxHeaderBytes()
	peer := conn.RemoteAddr().String()
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			// The terminator may straddle two reads.
			from := len(buf) - (len(headerTerminator) - 1)
			if from < 0 {
				from = 0
			}
			buf = append(buf, chunk[:n]...)
			if i := bytes.Index(buf[from:], headerTerminator); i >= 0 {
				if from+i+len(headerTerminator) > limit {
					return "", newError(RequestTooLarge, peer, nil)
				}
				break
			}
			if len(buf) >= limit {
				return "", newError(RequestTooLarge, peer, nil)
			}
		}
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				return "", newError(Timeout, peer, err)
			case errors.Is(err, io.EOF):
				return "", ErrIncompleteRequest
			}
			return "", fmt.Errorf("reading request: %w", err)
		}
	}

	if !utf8.Valid(buf) {
		return "", errors.New("httpd: request is not valid UTF-8")
	}
	return string(buf), nil
}
