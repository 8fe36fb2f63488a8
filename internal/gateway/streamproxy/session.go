// Package streamproxy copies an upstream media stream to the client under
// a wall-clock deadline, without buffering the payload.
package streamproxy

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Outcome is the terminal state of a stream session.
type Outcome int32

const (
	outcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeAborted
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeTimedOut:
		return "timed_out"
	}
	return "none"
}

// ErrDeadlineExceeded reports that the session hit its wall-clock budget.
var ErrDeadlineExceeded = errors.New("stream deadline exceeded")

// Flusher is implemented by writers that can push buffered bytes to the
// client. fasthttp's stream writer satisfies it via bufio.Writer.
type Flusher interface {
	Flush() error
}

// Session copies one upstream body to one client. A session reaches
// exactly one terminal outcome; Close is safe to call any number of times
// from any goroutine.
type Session struct {
	upstream  io.ReadCloser
	deadline  time.Duration
	chunkSize int
	logger    *zap.Logger

	outcome     atomic.Int32
	bytesCopied atomic.Int64
	closeOnce   sync.Once
	timer       *time.Timer
}

// NewSession wraps an open upstream body. The deadline starts ticking in
// Run, not here.
func NewSession(upstream io.ReadCloser, deadline time.Duration, chunkSize int, logger *zap.Logger) *Session {
	return &Session{
		upstream:  upstream,
		deadline:  deadline,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// BytesTransferred returns how many bytes reached the client writer.
func (s *Session) BytesTransferred() int64 {
	return s.bytesCopied.Load()
}

// Outcome returns the terminal outcome, or outcomeNone while running.
func (s *Session) Outcome() Outcome {
	return Outcome(s.outcome.Load())
}

// Run copies the upstream body to w in bounded chunks, flushing after each
// write so bytes reach the client promptly. It returns nil on completion,
// ErrDeadlineExceeded on timeout, and the write or read error otherwise.
func (s *Session) Run(w io.Writer) error {
	// The deadline fires at most once and force-closes the upstream body.
	// A blocked Read then fails instead of hanging past the budget.
	s.timer = time.AfterFunc(s.deadline, func() {
		if s.terminate(OutcomeTimedOut) {
			s.logger.Warn("Stream deadline exceeded, closing upstream",
				zap.Int64("bytes_transferred", s.BytesTransferred()),
				zap.Duration("deadline", s.deadline))
		}
	})
	defer s.timer.Stop()
	defer s.Close()

	flusher, _ := w.(Flusher)
	buf := make([]byte, s.chunkSize)

	for {
		n, readErr := s.upstream.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Client went away. Stop reading immediately so the
				// upstream worker is released.
				s.terminate(OutcomeAborted)
				return writeErr
			}
			s.bytesCopied.Add(int64(n))
			if flusher != nil {
				if flushErr := flusher.Flush(); flushErr != nil {
					s.terminate(OutcomeAborted)
					return flushErr
				}
			}
		}

		if readErr == io.EOF {
			s.terminate(OutcomeCompleted)
			return nil
		}
		if readErr != nil {
			if s.Outcome() == OutcomeTimedOut {
				return ErrDeadlineExceeded
			}
			s.terminate(OutcomeAborted)
			return readErr
		}
	}
}

// Close terminates the session as aborted if no terminal outcome was
// reached yet, and releases the upstream body.
func (s *Session) Close() {
	s.terminate(OutcomeAborted)
}

// terminate moves the session to a terminal outcome. Only the first caller
// wins; the upstream body is closed exactly once regardless.
func (s *Session) terminate(outcome Outcome) bool {
	won := s.outcome.CompareAndSwap(int32(outcomeNone), int32(outcome))
	s.closeOnce.Do(func() {
		if err := s.upstream.Close(); err != nil {
			s.logger.Debug("Upstream body close failed", zap.Error(err))
		}
	})
	return won
}
