// Package redo implements the chain's append-only redo log.
//
// # Overview
//
// A log is a run of numbered archive files sharing a prefix:
//
//	dir/name.0, dir/name.1, ...
//
// Each archive starts with a 16-byte header (magic "TCHAIN01", uint16 format
// version, uint8 metadata format, uint8 data format, 4 reserved bytes) that is
// checked before any record is parsed. Records follow back to back:
//
//	u32 BE bodyLen | u32 BE crc32c(bodyLen) | body
//	body  = uvarint n | n x (uvarint entryLen | entry)
//	entry = uvarint metaLen | meta | data | crc32c(meta|data)
//
// One record is one commit, so a batch of entries becomes visible together.
// Entries are addressed by Location{Archive, Offset, Index}.
//
// API surface (internal)
//
//	l, _ := redo.Open(redo.Options{Dir: dir, Name: "events", Header: hdr})
//	locs, _ := l.Append(ctx, []redo.Entry{{Meta: m, Data: d}})
//	e, _ := l.ReadAt(locs[0])
//
//	// Sequential replay, restartable
//	c := l.Replay(0)
//	for loc, e, ok := c.Next(); ok; loc, e, ok = c.Next() { ... }
//	if err := c.Err(); err != nil { ... }
//
// # Failure semantics
//
// A record whose frame runs past the end of the file is not yet durable: replay
// stops there silently, and reopening the newest archive for append truncates
// it. A frame whose header fails its checksum is counted by Cursor.Corrupt
// and replay resumes at the next intact frame; only damage with nothing
// intact after it is treated as a torn tail. An entry whose CRC fails is
// skipped and counted too; the rest of the record and the archive stay
// readable.
package redo
