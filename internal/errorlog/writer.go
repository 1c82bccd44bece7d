// Package errorlog implements the append-only error log file.
//
// Any goroutine may Append; a single consumer goroutine writes entries in
// FIFO order. When another holder has the file locked the consumer waits and
// retries the same entry until it succeeds, so lock conflicts never lose
// entries.
package errorlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"transform_nexus/internal/shared/codec"
	"transform_nexus/internal/shared/logger"
)

// TimeLayout prefixes every entry: "2024/3/7 09:05:01,".
const TimeLayout = "2006/1/2 15:04:05,"

const (
	defaultRetryInterval = time.Second
	flushPollInterval    = 10 * time.Millisecond
)

var (
	// ErrLocked is returned by the lock probe when another holder owns the file.
	ErrLocked = errors.New("error log file is locked")
	// ErrNotStarted is returned by Flush when entries are queued but no consumer runs.
	ErrNotStarted = errors.New("error log writer not started")
)

// Option customizes a Writer.
type Option func(*Writer)

// WithRetryInterval sets the wait between attempts on a locked file.
func WithRetryInterval(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.retry = d
		}
	}
}

// WithCodec sets the code page used for the file contents.
func WithCodec(c *codec.Codec) Option {
	return func(w *Writer) {
		if c != nil {
			w.codec = c
		}
	}
}

// WithClock replaces time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// Writer is the serialized, retrying consumer of the error log queue.
type Writer struct {
	path  string
	codec *codec.Codec
	retry time.Duration
	now   func() time.Time
	log   zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	entries *queue.Queue
	busy    bool
	started bool
	closed  bool

	abort     chan struct{}
	abortOnce sync.Once
	done      chan struct{}
}

// New creates a Writer for path. Entries may be appended before Start; they
// are written once the consumer runs.
func New(path string, opts ...Option) *Writer {
	w := &Writer{
		path:    path,
		codec:   codec.ShiftJIS(),
		retry:   defaultRetryInterval,
		now:     time.Now,
		log:     logger.WithComponent("ErrorLog"),
		entries: queue.New(),
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the file the writer appends to.
func (w *Writer) Path() string { return w.path }

// Start creates the file when it does not exist and launches the consumer.
// Calling Start again is a no-op.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("error log writer already shut down")
	}
	if w.started {
		return nil
	}
	if err := ensureFile(w.path); err != nil {
		return fmt.Errorf("failed to create error log %s: %w", w.path, err)
	}
	w.started = true
	go w.run()
	w.log.Info().Str("path", w.path).Str("encoding", w.codec.Name()).Msg("Error log writer started.")
	return nil
}

// Append timestamps text and queues it. It never blocks on I/O and never
// reports failure to the caller.
func (w *Writer) Append(text string) {
	line := w.now().Format(TimeLayout) + text

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.log.Debug().Str("entry", line).Msg("Error log writer is shut down, entry dropped.")
		return
	}
	w.entries.Add(line)
	w.cond.Signal()
}

// Pending reports queued entries including the one being written.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.entries.Length()
	if w.busy {
		n++
	}
	return n
}

// Flush waits until every queued entry has been written.
func (w *Writer) Flush(ctx context.Context) error {
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()
	for {
		w.mu.Lock()
		idle := w.entries.Length() == 0 && !w.busy
		started := w.started
		w.mu.Unlock()
		if idle {
			return nil
		}
		if !started {
			return ErrNotStarted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops accepting entries and waits for the queue to drain. When
// ctx expires first, the pending retry is abandoned and ctx.Err is returned.
func (w *Writer) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	started := w.started
	w.cond.Broadcast()
	w.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.abortOnce.Do(func() { close(w.abort) })
		<-w.done
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		line, ok := w.next()
		if !ok {
			return
		}
		w.writeWithRetry(line)

		w.mu.Lock()
		w.busy = false
		w.mu.Unlock()
	}
}

// next blocks until an entry is available. It returns false once the writer
// is shut down and the queue is empty.
func (w *Writer) next() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		for w.entries.Length() == 0 && !w.closed {
			w.cond.Wait()
		}
		if w.entries.Length() == 0 {
			return "", false
		}
		item := w.entries.Remove()
		line, ok := item.(string)
		if !ok {
			w.log.Error().Str("type", fmt.Sprintf("%T", item)).Msg("Unexpected error log queue item, skipped.")
			continue
		}
		w.busy = true
		return line, true
	}
}

func (w *Writer) writeWithRetry(line string) {
	data := w.codec.EncodeLossy(line + "\n")
	for attempt := 1; ; attempt++ {
		err := appendLocked(w.path, data)
		if err == nil {
			return
		}
		w.log.Debug().Err(err).Int("attempt", attempt).Msg("Error log not writable, retrying.")

		timer := time.NewTimer(w.retry)
		select {
		case <-timer.C:
		case <-w.abort:
			timer.Stop()
			w.log.Warn().Str("entry", line).Msg("Error log writer aborted with an unwritten entry.")
			return
		}
	}
}

func ensureFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}
