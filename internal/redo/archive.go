package redo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// maxRecordSize bounds a single commit; larger frames are treated as damage.
const maxRecordSize = 64 << 20

// archive is one numbered file. mu guards only the read or write syscalls on
// f; size is the committed length visible to readers.
type archive struct {
	index uint32
	path  string

	mu   sync.Mutex
	f    *os.File
	size atomic.Int64
}

// ArchivePath returns the path of archive n.
func ArchivePath(dir, name string, n uint32) string {
	return filepath.Join(dir, name+"."+strconv.FormatUint(uint64(n), 10))
}

// ListArchives returns the archive numbers present on disk, ascending.
func ListArchives(dir, name string) ([]uint32, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []uint32
	prefix := name + "."
	for _, e := range ents {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(e.Name(), prefix), 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// RemoveArchive deletes archive n if present.
func RemoveArchive(dir, name string, n uint32) error {
	err := os.Remove(ArchivePath(dir, name, n))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func createArchive(dir, name string, n uint32, h Header, sync bool) (*archive, error) {
	path := ArchivePath(dir, name, n)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("redo: create %s: %w", path, err)
	}
	if _, err := f.WriteAt(h.encode(), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("redo: write header %s: %w", path, err)
	}
	if sync {
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
	}
	a := &archive{index: n, path: path, f: f}
	a.size.Store(HeaderSize)
	return a, nil
}

func openArchive(dir, name string, n uint32, want Header) (*archive, error) {
	path := ArchivePath(dir, name, n)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("redo: open %s: %w", path, err)
	}
	hb := make([]byte, HeaderSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, HeaderSize), hb); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: short header", ErrIncompatibleArchive, path)
	}
	h, err := decodeHeader(hb)
	if err == nil {
		err = h.check(want)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	a := &archive{index: n, path: path, f: f}
	a.size.Store(st.Size())
	return a, nil
}

// errFrameDamaged marks a frame header that fails its checksum. Unlike a
// torn tail, records after it may still be intact.
var errFrameDamaged = errors.New("redo: damaged frame header")

// readFrame reads the record at off. It returns io.ErrUnexpectedEOF when the
// frame runs past the committed size and errFrameDamaged when its header is
// unreadable.
func (a *archive) readFrame(off int64) ([]byte, int64, error) {
	size := a.size.Load()
	if off+frameHeaderSize > size {
		if off == size {
			return nil, 0, io.EOF
		}
		return nil, 0, io.ErrUnexpectedEOF
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var hb [frameHeaderSize]byte
	if _, err := a.f.ReadAt(hb[:], off); err != nil {
		return nil, 0, err
	}
	n, ok := parseFrameHeader(hb[:])
	if !ok {
		return nil, 0, errFrameDamaged
	}
	if off+frameHeaderSize+n > size {
		return nil, 0, io.ErrUnexpectedEOF
	}
	body := make([]byte, n)
	if _, err := a.f.ReadAt(body, off+frameHeaderSize); err != nil {
		return nil, 0, err
	}
	return body, off + frameHeaderSize + n, nil
}

// resync returns the offset of the first intact frame after the damaged one
// at off, or -1 when none follows and the damage is the tail of the file.
// A candidate must carry a valid header, fit in the archive and split into
// entries.
func (a *archive) resync(off int64) (int64, error) {
	size := a.size.Load()
	if off >= size {
		return -1, nil
	}
	buf := make([]byte, size-off)
	a.mu.Lock()
	_, err := a.f.ReadAt(buf, off)
	a.mu.Unlock()
	if err != nil && err != io.EOF {
		return 0, err
	}
	for i := 1; i+frameHeaderSize <= len(buf); i++ {
		n, ok := parseFrameHeader(buf[i:])
		if !ok || int64(i)+frameHeaderSize+n > int64(len(buf)) {
			continue
		}
		body := buf[i+frameHeaderSize : i+frameHeaderSize+int(n)]
		if _, err := splitRecord(body); err != nil {
			continue
		}
		return off + int64(i), nil
	}
	return -1, nil
}

func (a *archive) write(rec []byte, sync bool) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	off := a.size.Load()
	if _, err := a.f.WriteAt(rec, off); err != nil {
		return 0, err
	}
	if sync {
		if err := a.f.Sync(); err != nil {
			return 0, err
		}
	}
	a.size.Store(off + int64(len(rec)))
	return off, nil
}

// recoverTail scans frames and truncates a torn trailing record. A damaged
// frame followed by intact ones is skipped, never truncated. It returns the
// bytes dropped and the damaged frames skipped.
func (a *archive) recoverTail() (int64, int, error) {
	off := int64(HeaderSize)
	damaged := 0
scan:
	for {
		_, next, err := a.readFrame(off)
		switch {
		case err == io.EOF:
			return 0, damaged, nil
		case err == io.ErrUnexpectedEOF:
			break scan
		case err == errFrameDamaged:
			next, err = a.resync(off)
			if err != nil {
				return 0, damaged, err
			}
			if next < 0 {
				break scan
			}
			damaged++
		case err != nil:
			return 0, damaged, err
		}
		off = next
	}
	dropped := a.size.Load() - off
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.f.Truncate(off); err != nil {
		return 0, damaged, err
	}
	a.size.Store(off)
	return dropped, damaged, nil
}

func (a *archive) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}
