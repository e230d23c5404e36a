package redo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rzbill/trustchain/internal/errs"
	logpkg "github.com/rzbill/trustchain/pkg/log"
)

var (
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("redo: log closed")
	// ErrNoArchive is returned when a location names an unknown archive.
	ErrNoArchive = errs.New(errs.NotFound, "redo: no such archive")
	// ErrBadLocation is returned when a location does not address an entry.
	ErrBadLocation = errs.New(errs.Corruption, "redo: location does not address an entry")
)

// Location addresses one entry: the record at Offset in Archive, entry Index
// within it.
type Location struct {
	Archive uint32 `json:"archive"`
	Offset  int64  `json:"offset"`
	Index   uint16 `json:"index"`
}

func (l Location) String() string { return fmt.Sprintf("%d:%d#%d", l.Archive, l.Offset, l.Index) }

// Less orders locations by log position.
func (l Location) Less(o Location) bool {
	if l.Archive != o.Archive {
		return l.Archive < o.Archive
	}
	if l.Offset != o.Offset {
		return l.Offset < o.Offset
	}
	return l.Index < o.Index
}

// Options configures a Log.
type Options struct {
	Dir  string
	Name string
	// Header is written to new archives and required of existing ones.
	Header Header
	// RotateBytes starts a new archive once the active one reaches this size.
	// Zero disables size-based rotation.
	RotateBytes int64
	// Sync fsyncs every append.
	Sync bool
	// Archives, when non-nil, is the exact set to open (from the chain
	// manifest). Otherwise archives are discovered on disk.
	Archives []uint32
	Logger   logpkg.Logger
}

// Log is an append-only sequence of archives.
type Log struct {
	opts   Options
	logger logpkg.Logger

	mu       sync.RWMutex // writers take Lock; archive map readers take RLock
	archives map[uint32]*archive
	order    []uint32
	active   *archive
	closed   bool
}

// Open opens or creates the log described by opts.
func Open(opts Options) (*Log, error) {
	if opts.Dir == "" || opts.Name == "" {
		return nil, errors.New("redo: Options.Dir and Options.Name are required")
	}
	if opts.Header.Version == 0 {
		opts.Header.Version = FormatVersion
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errs.Mark(fmt.Errorf("redo: mkdir %s: %w", opts.Dir, err), errs.IO)
	}

	indices := append([]uint32(nil), opts.Archives...)
	if opts.Archives == nil {
		found, err := ListArchives(opts.Dir, opts.Name)
		if err != nil {
			return nil, errs.Mark(err, errs.IO)
		}
		indices = found
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	l := &Log{
		opts:     opts,
		logger:   logger.With(logpkg.Component("redo"), logpkg.Str("log", opts.Name)),
		archives: make(map[uint32]*archive, len(indices)+1),
	}

	// Header checks are independent; run them concurrently.
	opened := make([]*archive, len(indices))
	var g errgroup.Group
	for i, n := range indices {
		i, n := i, n
		g.Go(func() error {
			a, err := openArchive(opts.Dir, opts.Name, n, opts.Header)
			if err != nil {
				return err
			}
			opened[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, a := range opened {
			if a != nil {
				a.close()
			}
		}
		return nil, err
	}

	for _, a := range opened {
		l.archives[a.index] = a
		l.order = append(l.order, a.index)
	}
	if len(opened) == 0 {
		a, err := createArchive(opts.Dir, opts.Name, 0, opts.Header, opts.Sync)
		if err != nil {
			return nil, errs.Mark(err, errs.IO)
		}
		l.archives[0] = a
		l.order = []uint32{0}
		opened = []*archive{a}
	}
	l.active = opened[len(opened)-1]

	dropped, damaged, err := l.active.recoverTail()
	if err != nil {
		l.Close()
		return nil, errs.Mark(err, errs.IO)
	}
	if damaged > 0 {
		l.logger.Warn("skipped damaged records",
			logpkg.Int64("archive", int64(l.active.index)), logpkg.Int("records", damaged))
	}
	if dropped > 0 {
		l.logger.Warn("truncated torn tail record",
			logpkg.Int64("archive", int64(l.active.index)), logpkg.Int64("bytes", dropped))
	}
	return l, nil
}

// Append writes entries as one record to the active archive and returns
// their locations.
func (l *Log) Append(ctx context.Context, entries []Entry) ([]Location, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) > 1<<16-1 {
		return nil, fmt.Errorf("redo: %d entries exceed one record", len(entries))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := encodeRecord(entries)
	if len(rec)-frameHeaderSize > maxRecordSize {
		return nil, fmt.Errorf("redo: record of %d bytes exceeds limit", len(rec))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if l.opts.RotateBytes > 0 && l.active.size.Load() >= l.opts.RotateBytes {
		if _, err := l.rotateLocked(); err != nil {
			return nil, err
		}
	}
	off, err := l.active.write(rec, l.opts.Sync)
	if err != nil {
		return nil, errs.Mark(fmt.Errorf("redo: append: %w", err), errs.IO)
	}
	locs := make([]Location, len(entries))
	for i := range entries {
		locs[i] = Location{Archive: l.active.index, Offset: off, Index: uint16(i)}
	}
	return locs, nil
}

// Rotate starts a new archive and returns its number.
func (l *Log) Rotate() (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	return l.rotateLocked()
}

func (l *Log) rotateLocked() (uint32, error) {
	next := l.order[len(l.order)-1] + 1
	a, err := createArchive(l.opts.Dir, l.opts.Name, next, l.opts.Header, l.opts.Sync)
	if err != nil {
		return 0, errs.Mark(err, errs.IO)
	}
	l.archives[next] = a
	l.order = append(l.order, next)
	l.active = a
	l.logger.Debug("rotated archive", logpkg.Int64("archive", int64(next)))
	return next, nil
}

// Retire closes and deletes the given archives. The active archive cannot be
// retired.
func (l *Log) Retire(indices ...uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range indices {
		a, ok := l.archives[n]
		if !ok {
			continue
		}
		if a == l.active {
			return fmt.Errorf("redo: cannot retire active archive %d", n)
		}
		delete(l.archives, n)
		for i, x := range l.order {
			if x == n {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
		if err := a.close(); err != nil {
			l.logger.Warn("close retired archive", logpkg.Err(err))
		}
		if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
			return errs.Mark(err, errs.IO)
		}
	}
	return nil
}

// ReadAt returns the entry at loc.
func (l *Log) ReadAt(loc Location) (Entry, error) {
	a, err := l.archive(loc.Archive)
	if err != nil {
		return Entry{}, err
	}
	body, _, err := a.readFrame(loc.Offset)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %v", ErrBadLocation, loc, err)
	}
	raw, err := splitRecord(body)
	if int(loc.Index) >= len(raw) {
		if err == nil {
			err = errShortRecord
		}
		return Entry{}, fmt.Errorf("%w: %s: %v", ErrBadLocation, loc, err)
	}
	e, err := DecodeEntry(raw[loc.Index])
	if err != nil {
		return Entry{}, errs.Mark(fmt.Errorf("redo: %s: %w", loc, err), errs.Corruption)
	}
	return e, nil
}

func (l *Log) archive(n uint32) (*archive, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	a, ok := l.archives[n]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoArchive, n)
	}
	return a, nil
}

// Archives returns the open archive numbers, ascending.
func (l *Log) Archives() []uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]uint32(nil), l.order...)
}

// Active returns the number of the archive receiving appends.
func (l *Log) Active() uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active.index
}

// Size returns the total bytes across archives, headers included.
func (l *Log) Size() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, a := range l.archives {
		total += a.size.Load()
	}
	return total
}

// ArchiveSize returns the size of archive n.
func (l *Log) ArchiveSize(n uint32) (int64, error) {
	a, err := l.archive(n)
	if err != nil {
		return 0, err
	}
	return a.size.Load(), nil
}

// Header returns the header archives are written with.
func (l *Log) Header() Header { return l.opts.Header }

// Close closes every archive.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	var first error
	for _, a := range l.archives {
		if err := a.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
