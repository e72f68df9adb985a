package socket

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Serializer enforces one-at-a-time access to the admin socket: every
// externally-callable socket operation is routed through a FIFO queue of
// concurrency 1, backed by a single consumer goroutine.
type Serializer struct {
	executor func(zerolog.Logger, string) ([]byte, error)
	logger   zerolog.Logger
	jobs     chan job
}

type job struct {
	command  string
	resultCh chan result
}

type result struct {
	data []byte
	err  error
}

// NewSerializer starts the single worker goroutine that drains client's
// command queue in submission order.
func NewSerializer(client *Client, logger zerolog.Logger) *Serializer {
	s := &Serializer{
		executor: client.Execute,
		logger:   logger,
		jobs:     make(chan job),
	}
	go s.run()
	return s
}

func (s *Serializer) run() {
	for j := range s.jobs {
		data, err := s.executor(s.logger, j.command)
		j.resultCh <- result{data: data, err: err}
	}
}

// Execute enqueues command and blocks until it has been executed in turn.
func (s *Serializer) Execute(ctx context.Context, command string) ([]byte, error) {
	resultCh := make(chan result, 1)
	select {
	case s.jobs <- job{command: command, resultCh: resultCh}:
	case <-ctx.Done():
		return nil, fmt.Errorf("socket: enqueue %q: %w", command, ctx.Err())
	}

	select {
	case r := <-resultCh:
		return r.data, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("socket: await %q: %w", command, ctx.Err())
	}
}

// Close stops the worker goroutine. Callers must not invoke Execute after
// Close.
func (s *Serializer) Close() {
	close(s.jobs)
}
