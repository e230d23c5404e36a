package redo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
)

var testHeader = Header{Version: FormatVersion, MetaFormat: 1, DataFormat: 1}

func openTestLog(t *testing.T, dir string, opts Options) *Log {
	t.Helper()
	opts.Dir = dir
	if opts.Name == "" {
		opts.Name = "events"
	}
	if opts.Header == (Header{}) {
		opts.Header = testHeader
	}
	l, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func appendN(t *testing.T, l *Log, n int) []Location {
	t.Helper()
	var out []Location
	for i := 0; i < n; i++ {
		locs, err := l.Append(context.Background(), []Entry{{Meta: []byte(fmt.Sprintf("m%d", i)), Data: []byte(fmt.Sprintf("d%d", i))}})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		out = append(out, locs...)
	}
	return out
}

func TestAppendReadAt(t *testing.T) {
	l := openTestLog(t, t.TempDir(), Options{})
	locs := appendN(t, l, 5)
	for i, loc := range locs {
		e, err := l.ReadAt(loc)
		if err != nil {
			t.Fatalf("read %v: %v", loc, err)
		}
		if string(e.Meta) != fmt.Sprintf("m%d", i) {
			t.Fatalf("entry %d: got %q", i, e.Meta)
		}
	}
}

func TestBatchIsOneRecord(t *testing.T) {
	l := openTestLog(t, t.TempDir(), Options{})
	locs, err := l.Append(context.Background(), []Entry{{Meta: []byte("a")}, {Meta: []byte("b")}, {Meta: []byte("c")}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if locs[0].Offset != locs[2].Offset || locs[2].Index != 2 {
		t.Fatalf("expected one record, got %v", locs)
	}
	e, err := l.ReadAt(locs[1])
	if err != nil || string(e.Meta) != "b" {
		t.Fatalf("read middle: %v %q", err, e.Meta)
	}
}

func TestReplayIsRestartable(t *testing.T) {
	l := openTestLog(t, t.TempDir(), Options{})
	appendN(t, l, 3)
	c := l.Replay(0)
	count := 0
	for _, _, ok := c.Next(); ok; _, _, ok = c.Next() {
		count++
	}
	if count != 3 || c.Err() != nil {
		t.Fatalf("first pass: %d %v", count, c.Err())
	}
	c.Reset()
	count = 0
	for _, _, ok := c.Next(); ok; _, _, ok = c.Next() {
		count++
	}
	if count != 3 {
		t.Fatalf("second pass: %d", count)
	}
}

func TestConcurrentReaders(t *testing.T) {
	l := openTestLog(t, t.TempDir(), Options{})
	locs := appendN(t, l, 20)
	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, loc := range locs {
				e, err := l.ReadAt(loc)
				if err != nil || string(e.Data) != fmt.Sprintf("d%d", i) {
					t.Errorf("read %d: %v %q", i, err, e.Data)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestRotationKeepsOldArchivesReadable(t *testing.T) {
	l := openTestLog(t, t.TempDir(), Options{RotateBytes: 64})
	locs := appendN(t, l, 10)
	if len(l.Archives()) < 2 {
		t.Fatalf("expected rotation, archives=%v", l.Archives())
	}
	if locs[0].Archive == locs[9].Archive {
		t.Fatalf("expected entries across archives")
	}
	if _, err := l.ReadAt(locs[0]); err != nil {
		t.Fatalf("read old archive: %v", err)
	}
}

func TestTornTailIsIgnoredAndTruncated(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir, Options{})
	appendN(t, l, 2)
	size := l.Size()
	_ = l.Close()

	// Simulate a crash mid-write: a frame header promising more than exists.
	f, err := os.OpenFile(ArchivePath(dir, "events", 0), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	torn := make([]byte, frameHeaderSize, frameHeaderSize+2)
	putFrameHeader(torn, 256)
	if _, err := f.Write(append(torn, 'x', 'y')); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	f.Close()

	l2 := openTestLog(t, dir, Options{})
	if l2.Size() != size {
		t.Fatalf("expected tail truncated to %d, got %d", size, l2.Size())
	}
	c := l2.Replay(0)
	n := 0
	for _, _, ok := c.Next(); ok; _, _, ok = c.Next() {
		n++
	}
	if n != 2 || c.Err() != nil || c.Corrupt() != 0 {
		t.Fatalf("replay: n=%d err=%v corrupt=%d", n, c.Err(), c.Corrupt())
	}
	appendN(t, l2, 1)
}

func TestCorruptEntryIsSkipped(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir, Options{})
	locs := appendN(t, l, 3)
	_ = l.Close()

	// Flip the last byte of the middle record (its entry CRC).
	third := locs[2].Offset
	f, err := os.OpenFile(ArchivePath(dir, "events", 0), os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	var b [1]byte
	if _, err := f.ReadAt(b[:], third-1); err != nil {
		t.Fatalf("read raw: %v", err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b[:], third-1); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	f.Close()

	l2 := openTestLog(t, dir, Options{})
	c := l2.Replay(0)
	var got []string
	for _, e, ok := c.Next(); ok; _, e, ok = c.Next() {
		got = append(got, string(e.Meta))
	}
	if len(got) != 2 || got[0] != "m0" || got[1] != "m2" || c.Corrupt() != 1 {
		t.Fatalf("got %v corrupt=%d", got, c.Corrupt())
	}
	if _, err := l2.ReadAt(locs[1]); err == nil {
		t.Fatalf("expected corrupt read error")
	}
}

func flipByte(t *testing.T, path string, off int64, mask byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	defer f.Close()
	var b [1]byte
	if _, err := f.ReadAt(b[:], off); err != nil {
		t.Fatalf("read raw: %v", err)
	}
	b[0] ^= mask
	if _, err := f.WriteAt(b[:], off); err != nil {
		t.Fatalf("write raw: %v", err)
	}
}

func TestDamagedLengthDoesNotTruncate(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir, Options{})
	locs := appendN(t, l, 5)
	size := l.Size()
	_ = l.Close()

	// Damage the length prefix of the second record.
	flipByte(t, ArchivePath(dir, "events", 0), locs[1].Offset, 0x7f)

	l2 := openTestLog(t, dir, Options{})
	if l2.Size() != size {
		t.Fatalf("intact records truncated: size %d, want %d", l2.Size(), size)
	}
	c := l2.Replay(0)
	var got []string
	for _, e, ok := c.Next(); ok; _, e, ok = c.Next() {
		got = append(got, string(e.Meta))
	}
	want := []string{"m0", "m2", "m3", "m4"}
	if fmt.Sprint(got) != fmt.Sprint(want) || c.Err() != nil || c.Corrupt() != 1 {
		t.Fatalf("got %v err=%v corrupt=%d", got, c.Err(), c.Corrupt())
	}
	if _, err := l2.ReadAt(locs[3]); err != nil {
		t.Fatalf("read after damage: %v", err)
	}

	// Appends land after the surviving records and replay with them.
	more, err := l2.Append(context.Background(), []Entry{{Meta: []byte("m5")}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if more[0].Offset != size {
		t.Fatalf("append at %d, want %d", more[0].Offset, size)
	}
}

func TestDamagedFinalFrameIsTruncated(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir, Options{})
	locs := appendN(t, l, 3)
	_ = l.Close()

	flipByte(t, ArchivePath(dir, "events", 0), locs[2].Offset+1, 0xff)

	l2 := openTestLog(t, dir, Options{})
	if l2.Size() != locs[2].Offset {
		t.Fatalf("expected truncation to %d, got %d", locs[2].Offset, l2.Size())
	}
	c := l2.Replay(0)
	n := 0
	for _, _, ok := c.Next(); ok; _, _, ok = c.Next() {
		n++
	}
	if n != 2 || c.Corrupt() != 0 {
		t.Fatalf("replay: n=%d corrupt=%d", n, c.Corrupt())
	}
}

func TestIncompatibleHeader(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir, Options{})
	_ = l.Close()
	_, err := Open(Options{Dir: dir, Name: "events", Header: Header{Version: FormatVersion, MetaFormat: 2, DataFormat: 1}})
	if !errors.Is(err, ErrIncompatibleArchive) {
		t.Fatalf("expected ErrIncompatibleArchive, got %v", err)
	}
}

func TestRetire(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir, Options{})
	appendN(t, l, 1)
	n, err := l.Rotate()
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := l.Retire(n); err == nil {
		t.Fatalf("expected error retiring active archive")
	}
	if err := l.Retire(0); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if _, err := os.Stat(ArchivePath(dir, "events", 0)); !os.IsNotExist(err) {
		t.Fatalf("expected archive 0 removed")
	}
	got, _ := ListArchives(dir, "events")
	if len(got) != 1 || got[0] != n {
		t.Fatalf("archives on disk: %v", got)
	}
}
