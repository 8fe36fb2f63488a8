package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mediagate/gateway/internal/common/configtypes"
)

const (
	defaultBufferSize = 1024

	rotationMaxSize    = 100 // MB
	rotationMaxAge     = 30  // days
	rotationMaxBackups = 10  // files
)

// FileEmitter appends JSON lines to a rotated file. Events pass through a
// buffered channel so a slow disk stalls the writer goroutine, not the
// request; when the buffer is full the event is dropped and counted.
type FileEmitter struct {
	writer  *lumberjack.Logger
	logger  *zap.Logger
	queue   chan *RequestEvent
	dropped atomic.Int64
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
}

// NewFileEmitter opens the access log and starts the writer goroutine.
func NewFileEmitter(config configtypes.FileEventConfig, logger *zap.Logger) (*FileEmitter, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory %s: %w", dir, err)
	}

	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	f := &FileEmitter{
		writer: &lumberjack.Logger{
			Filename:   config.Path,
			MaxSize:    rotationMaxSize,
			MaxAge:     rotationMaxAge,
			MaxBackups: rotationMaxBackups,
		},
		logger: logger,
		queue:  make(chan *RequestEvent, bufferSize),
		done:   make(chan struct{}),
	}

	go f.run()
	return f, nil
}

// Emit enqueues the event, dropping it when the buffer is full or the
// emitter is closed.
func (f *FileEmitter) Emit(event *RequestEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}

	select {
	case f.queue <- event:
	default:
		if f.dropped.Add(1)%100 == 1 {
			f.logger.Warn("Event log buffer full, dropping events",
				zap.Int64("dropped_total", f.dropped.Load()))
		}
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (f *FileEmitter) Dropped() int64 {
	return f.dropped.Load()
}

// Close drains the buffer and closes the file. Events emitted after Close
// are dropped.
func (f *FileEmitter) Close() error {
	f.mu.Lock()
	alreadyClosed := f.closed
	f.closed = true
	f.mu.Unlock()

	if !alreadyClosed {
		close(f.queue)
		<-f.done
	}
	return f.writer.Close()
}

func (f *FileEmitter) run() {
	defer close(f.done)
	for event := range f.queue {
		line, err := json.Marshal(event)
		if err != nil {
			f.logger.Warn("Failed to marshal request event",
				zap.String("request_id", event.RequestID),
				zap.Error(err))
			continue
		}
		if _, err := f.writer.Write(append(line, '\n')); err != nil {
			f.logger.Warn("Failed to write request event",
				zap.String("request_id", event.RequestID),
				zap.Error(err))
		}
	}
}
