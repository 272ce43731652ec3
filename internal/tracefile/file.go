package tracefile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/tracefilter/internal/shared/id"
)

var (
	// ErrUnavailable is returned by Open when the directory cannot hold a new
	// artifact.
	ErrUnavailable = errors.New("trace directory unavailable")
	// ErrWriteFailed wraps encoding and I/O failures of Record.
	ErrWriteFailed = errors.New("trace write failed")
	// ErrClosed is returned by Record once the file has been closed.
	ErrClosed = errors.New("trace file closed")
)

// handle is the subset of *os.File used by File.
type handle interface {
	io.Writer
	Sync() error
	Close() error
}

type options struct {
	ids *id.Generator
	now func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithGenerator sets the ULID generator used to name artifacts.
func WithGenerator(g *id.Generator) Option {
	return func(o *options) { o.ids = g }
}

// WithClock sets the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// File is the append-only artifact of one traced request.
//
// Each event is encoded as a single JSON line and handed to the kernel with one
// write call, so the file can be tailed while it grows and a crash loses at
// most the line being written. File is safe for use by multiple goroutines.
type File struct {
	name    string
	path    string
	created time.Time
	now     func() time.Time

	mu     sync.Mutex
	out    handle
	seq    uint64
	closed bool
}

// Open creates a new uniquely named artifact in dir and records the started
// marker.
func Open(dir string, opts ...Option) (*File, error) {
	o := options{
		ids: id.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnavailable, dir)
	}

	// CreateTemp opens with O_EXCL and retries on collision.
	f, err := os.CreateTemp(dir, o.ids.ArtifactPattern())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	tf := newFile(f, f.Name(), o.now)
	if err := tf.Record(LifecycleMarker(MarkerStarted, nil)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return tf, nil
}

func newFile(out handle, path string, now func() time.Time) *File {
	return &File{
		name:    filepath.Base(path),
		path:    path,
		created: now(),
		now:     now,
		out:     out,
	}
}

// ID returns the base name of the artifact, suitable for showing to clients.
func (f *File) ID() string { return f.name }

// Path returns the full path of the artifact.
func (f *File) Path() string { return f.path }

// CreatedAt returns the time the artifact was opened.
func (f *File) CreatedAt() time.Time { return f.created }

// Closed reports whether Close has been called.
func (f *File) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Record appends ev to the artifact. Events are written in call order.
func (f *File) Record(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	return f.write(ev)
}

func (f *File) write(ev Event) error {
	f.seq++
	ev.Seq = f.seq
	ev.Time = f.now()

	line, err := sonic.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("%w: encode %s event: %w", ErrWriteFailed, ev.Kind, err)
	}
	line = append(line, '\n')

	if _, err := f.out.Write(line); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// Close appends the closed marker, syncs and releases the file. Only the first
// call has an effect; later calls return nil.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	return errors.Join(
		f.write(LifecycleMarker(MarkerClosed, nil)),
		f.out.Sync(),
		f.out.Close(),
	)
}
