package redo

import (
	"fmt"
	"io"

	"github.com/rzbill/trustchain/internal/errs"
)

// Cursor reads entries sequentially from a position in one archive. Cursors
// are independent; many may read the same archive concurrently.
type Cursor struct {
	log     *Log
	archive uint32
	start   int64

	off     int64
	pending []pendingEntry
	err     error
	corrupt int
	done    bool
}

type pendingEntry struct {
	loc Location
	raw []byte
}

// Cursor opens a cursor at offset in archive n. The offset must be a record
// boundary.
func (l *Log) Cursor(n uint32, offset int64) *Cursor {
	if offset < HeaderSize {
		offset = HeaderSize
	}
	return &Cursor{log: l, archive: n, start: offset, off: offset}
}

// Replay returns a cursor over all of archive n.
func (l *Log) Replay(n uint32) *Cursor { return l.Cursor(n, HeaderSize) }

// Next returns the next readable entry. It returns false at the end of the
// archive, at a torn tail, or on error (see Err).
func (c *Cursor) Next() (Location, Entry, bool) {
	for {
		for len(c.pending) > 0 {
			p := c.pending[0]
			c.pending = c.pending[1:]
			e, err := DecodeEntry(p.raw)
			if err != nil {
				c.corrupt++
				continue
			}
			return p.loc, e, true
		}
		if c.done || c.err != nil {
			return Location{}, Entry{}, false
		}
		if !c.fill() {
			return Location{}, Entry{}, false
		}
	}
}

func (c *Cursor) fill() bool {
	a, err := c.log.archive(c.archive)
	if err != nil {
		c.err = err
		return false
	}
	body, next, err := a.readFrame(c.off)
	switch {
	case err == io.EOF, err == io.ErrUnexpectedEOF:
		c.done = true
		return false
	case err == errFrameDamaged:
		resume, rerr := a.resync(c.off)
		if rerr != nil {
			c.err = errs.Mark(fmt.Errorf("redo: replay archive %d at %d: %w", c.archive, c.off, rerr), errs.IO)
			return false
		}
		if resume < 0 {
			c.done = true
			return false
		}
		c.corrupt++
		c.off = resume
		return true
	case err != nil:
		c.err = errs.Mark(fmt.Errorf("redo: replay archive %d at %d: %w", c.archive, c.off, err), errs.IO)
		return false
	}
	recOff := c.off
	c.off = next
	raw, err := splitRecord(body)
	if err != nil && len(raw) == 0 {
		c.corrupt++
		return true
	}
	for i, r := range raw {
		c.pending = append(c.pending, pendingEntry{
			loc: Location{Archive: c.archive, Offset: recOff, Index: uint16(i)},
			raw: r,
		})
	}
	if err != nil {
		c.corrupt++
	}
	return true
}

// Err returns the first I/O error hit. A torn tail is not an error.
func (c *Cursor) Err() error { return c.err }

// Corrupt counts entries and records skipped for failing their checksum or
// framing.
func (c *Cursor) Corrupt() int { return c.corrupt }

// Offset is the position of the next unread record.
func (c *Cursor) Offset() int64 { return c.off }

// Reset rewinds the cursor to where it was opened.
func (c *Cursor) Reset() {
	c.off = c.start
	c.pending = nil
	c.err = nil
	c.corrupt = 0
	c.done = false
}
