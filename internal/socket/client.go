// Package socket implements a single request/response cycle against
// HAProxy's admin unix socket as an explicit state machine, and a
// single-worker FIFO Serializer that enforces one-at-a-time access to it:
// model as a sum type of state plus a dispatcher, and avoid
// callback-closure state capture.
package socket

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/muppet-sub000/internal/constants"
)

// Errors surfaced by the Socket Client.
var (
	ErrConnectTimeout = errors.New("socket: connect timeout")
	ErrConnectError   = errors.New("socket: connect error")
	ErrCommandTimeout = errors.New("socket: command timeout")
	ErrIOError        = errors.New("socket: io error")
)

// state is the Socket Client's explicit state machine value: connecting
// -> writing -> reading -> finished, with an orthogonal terminal error
// state.
type state int

const (
	stateConnecting state = iota
	stateWriting
	stateReading
	stateFinished
	stateError
)

// Client performs single command round-trips against a HAProxy admin
// socket path.
type Client struct {
	path           string
	connectTimeout time.Duration
	commandTimeout time.Duration
}

// NewClient builds a Client for the admin socket at path, using the
// package's default connect and command timeouts.
func NewClient(path string) *Client {
	return &Client{
		path:           path,
		connectTimeout: constants.ConnectTimeout,
		commandTimeout: constants.CommandTimeout,
	}
}

// Execute runs one command round-trip: connect, write the command plus a
// trailing newline, half-close the write side, then read until the peer
// closes its side or the command timeout elapses.
func (c *Client) Execute(logger zerolog.Logger, command string) ([]byte, error) {
	st := stateConnecting
	var conn net.Conn
	var buf bytes.Buffer
	var lastErr error

	for {
		switch st {
		case stateConnecting:
			logger.Debug().Str("command", command).Msg("socket: connecting")
			var err error
			conn, err = net.DialTimeout("unix", c.path, c.connectTimeout)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					lastErr = fmt.Errorf("%w: %s", ErrConnectTimeout, c.path)
				} else {
					lastErr = fmt.Errorf("%w: %s: %v", ErrConnectError, c.path, err)
				}
				st = stateError
				continue
			}
			st = stateWriting

		case stateWriting:
			logger.Trace().Msg("socket: writing command")
			if _, err := io.WriteString(conn, command+"\n"); err != nil {
				lastErr = fmt.Errorf("%w: write: %v", ErrIOError, err)
				st = stateError
				continue
			}
			if halfCloser, ok := conn.(interface{ CloseWrite() error }); ok {
				_ = halfCloser.CloseWrite()
			}
			st = stateReading

		case stateReading:
			logger.Trace().Msg("socket: reading reply")
			if err := conn.SetReadDeadline(time.Now().Add(c.commandTimeout)); err != nil {
				lastErr = fmt.Errorf("%w: set deadline: %v", ErrIOError, err)
				st = stateError
				continue
			}
			_, err := io.Copy(&buf, conn)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					lastErr = fmt.Errorf("%w: %s", ErrCommandTimeout, command)
				} else {
					lastErr = fmt.Errorf("%w: read: %v", ErrIOError, err)
				}
				st = stateError
				continue
			}
			st = stateFinished

		case stateFinished:
			_ = conn.Close()
			return buf.Bytes(), nil

		case stateError:
			if conn != nil {
				_ = conn.Close()
			}
			return nil, lastErr
		}
	}
}
