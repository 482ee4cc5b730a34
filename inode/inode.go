// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inode

import (
	"fmt"
	"time"

	"github.com/jacobsa/diskfs/blockdev"
	"github.com/jacobsa/syncutil"
)

// An Inode is the in-memory representation of an on-disk inode record. It
// keeps an owned copy of the record, written back through the cache on
// mutation, so that cache eviction cannot invalidate it.
//
// Reference counting is managed by the owning Table: Open and Reopen bump
// the count, Close drops it, and the inode is destroyed when it reaches
// zero. An inode marked removed gives all of its sectors back to the
// allocator at destruction.
//
// Methods annotated LOCKS_REQUIRED(in) must be called with the inode's lock
// held; the directory layer holds it across compound operations such as
// lookup-then-add.
type Inode struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	table *Table

	// The sector holding the on-disk record.
	sector blockdev.SectorID

	/////////////////////////
	// Mutable state
	/////////////////////////

	// A lock serializing access to the record, in particular directory-entry
	// mutations and length updates.
	mu syncutil.InvariantMutex

	// The owned copy of the on-disk record.
	//
	// GUARDED_BY(mu)
	rec diskRecord

	// GUARDED_BY(mu)
	mtime time.Time

	// GUARDED_BY(mu)
	atime time.Time

	// The number of outstanding references.
	//
	// INVARIANT: openCount > 0 while tabled
	//
	// GUARDED_BY(table.mu)
	openCount int

	// Whether the inode's sectors should be released when the last reference
	// is closed. Set once, never cleared.
	//
	// GUARDED_BY(table.mu)
	removed bool

	// While positive, WriteAt writes nothing and returns zero.
	//
	// INVARIANT: 0 <= denyWriteCount <= openCount
	//
	// GUARDED_BY(table.mu)
	denyWriteCount int
}

// LOCKS_REQUIRED(in.mu)
func (in *Inode) checkInvariants() {
	in.rec.checkInvariants()
}

// Return the sector the inode's record lives at.
func (in *Inode) Sector() blockdev.SectorID {
	return in.sector
}

// Whether the inode represents a directory. The kind of an inode never
// changes, so no lock is required.
func (in *Inode) IsDir() bool {
	return in.rec.isDir
}

func (in *Inode) Lock() {
	in.mu.Lock()
}

func (in *Inode) Unlock() {
	in.mu.Unlock()
}

// Return the file's current length in bytes.
//
// LOCKS_REQUIRED(in)
func (in *Inode) Length() int64 {
	return in.rec.length
}

// Return the in-memory modification and access times.
//
// LOCKS_REQUIRED(in)
func (in *Inode) Times() (mtime time.Time, atime time.Time) {
	return in.mtime, in.atime
}

// Acquire another reference to the inode.
//
// LOCKS_EXCLUDED(in.table.mu)
func (in *Inode) Reopen() *Inode {
	t := in.table

	t.mu.Lock()
	defer t.mu.Unlock()

	in.openCount++
	return in
}

// Mark the inode for deletion. Its sectors are released when the last
// reference is closed.
//
// LOCKS_EXCLUDED(in.table.mu)
func (in *Inode) Remove() {
	t := in.table

	t.mu.Lock()
	defer t.mu.Unlock()

	in.removed = true
}

// Whether the inode has been marked for deletion.
//
// LOCKS_EXCLUDED(in.table.mu)
func (in *Inode) Removed() bool {
	t := in.table

	t.mu.Lock()
	defer t.mu.Unlock()

	return in.removed
}

// Forbid writes through this inode until a matching AllowWrite. It is a
// programming error to hold more denials than references.
//
// LOCKS_EXCLUDED(in.table.mu)
func (in *Inode) DenyWrite() {
	t := in.table

	t.mu.Lock()
	defer t.mu.Unlock()

	if in.denyWriteCount+1 > in.openCount {
		panic(fmt.Sprintf(
			"deny write count %d would exceed open count %d",
			in.denyWriteCount+1,
			in.openCount))
	}

	in.denyWriteCount++
}

// Undo a previous DenyWrite.
//
// LOCKS_EXCLUDED(in.table.mu)
func (in *Inode) AllowWrite() {
	t := in.table

	t.mu.Lock()
	defer t.mu.Unlock()

	if in.denyWriteCount <= 0 {
		panic("AllowWrite without a matching DenyWrite")
	}

	in.denyWriteCount--
}

// Return the current reference count. For use in tests.
//
// LOCKS_EXCLUDED(in.table.mu)
func (in *Inode) OpenCount() int {
	t := in.table

	t.mu.Lock()
	defer t.mu.Unlock()

	return in.openCount
}

// Drop a reference. When the last one goes, the inode leaves the table, and
// if it was removed its record sector, indirect sectors, and data sectors
// all return to the allocator.
//
// LOCKS_EXCLUDED(in.table.mu)
func (in *Inode) Close() {
	t := in.table

	t.mu.Lock()

	in.openCount--
	if in.openCount > 0 {
		t.mu.Unlock()
		return
	}

	delete(t.inodes, in.sector)
	removed := in.removed
	t.mu.Unlock()

	if removed {
		in.mu.Lock()
		in.releaseAllSectors()
		in.mu.Unlock()
	}
}

// Give every sector owned by the inode back to the allocator: all allocated
// data sectors, the indirect sectors referencing them, and finally the
// record sector itself.
//
// LOCKS_REQUIRED(in.mu)
func (in *Inode) releaseAllSectors() {
	t := in.table

	for i := 0; i < DirectBlocks; i++ {
		if sec := in.rec.sectors[i]; sec != 0 {
			t.allocator.Release(sec, 1)
		}
	}

	if ind := in.rec.sectors[singleIndirectIdx]; ind != 0 {
		in.releaseIndirect(ind)
	}

	if dbl := in.rec.sectors[doubleIndirectIdx]; dbl != 0 {
		for _, inner := range in.readPointers(dbl) {
			in.releaseIndirect(inner)
		}

		t.allocator.Release(dbl, 1)
	}

	t.allocator.Release(in.sector, 1)
}

// Release an indirect sector and every data sector it references.
func (in *Inode) releaseIndirect(ind blockdev.SectorID) {
	t := in.table

	for _, sec := range in.readPointers(ind) {
		t.allocator.Release(sec, 1)
	}

	t.allocator.Release(ind, 1)
}

// Return the non-zero pointers held by an indirect sector.
func (in *Inode) readPointers(ind blockdev.SectorID) (ptrs []blockdev.SectorID) {
	s := in.table.cache.Acquire(ind)
	for i := int64(0); i < BlocksPerSector; i++ {
		if sec := readPointer(s.Data(), i); sec != 0 {
			ptrs = append(ptrs, sec)
		}
	}
	in.table.cache.Release(s, false)

	return
}

// Write the owned record copy back through the cache.
//
// LOCKS_REQUIRED(in.mu)
func (in *Inode) flushRecord() {
	s := in.table.cache.Acquire(in.sector)
	in.rec.marshal(s.Data())
	in.table.cache.Release(s, true)
}

// Read up to len(p) bytes starting at the given file offset, returning the
// number of bytes read. Short counts happen at end of file and at holes;
// reading never allocates sectors. After a sequential read the next sector
// is nominated for read-ahead if a full sector remains within the file.
//
// LOCKS_REQUIRED(in)
func (in *Inode) ReadAt(p []byte, off int64) (n int) {
	if off < 0 {
		panic(fmt.Sprintf("negative offset: %d", off))
	}

	c := in.table.cache

	for n < len(p) && off < in.rec.length {
		sec, outcome := in.sectorFor(off, false)
		if outcome != walkFound {
			break
		}

		sectorOff := off % blockdev.SectorSize
		chunk := min(
			int64(len(p)-n),
			blockdev.SectorSize-sectorOff,
			in.rec.length-off)

		s := c.Acquire(sec)
		copy(p[n:], s.Data()[sectorOff:sectorOff+chunk])
		c.Release(s, false)

		n += int(chunk)
		off += chunk
	}

	if off+blockdev.SectorSize <= in.rec.length {
		if sec, outcome := in.sectorFor(off, false); outcome == walkFound {
			c.NominateReadAhead(sec)
		}
	}

	in.atime = in.table.clock.Now()
	return
}

// Write len(p) bytes starting at the given file offset, returning the
// number of bytes written. Missing sectors are allocated on the way; a
// short count means the allocator ran dry or the offset reached the file
// size ceiling. Writes nothing while writes are denied. Extends the file's
// length to cover the bytes written.
//
// LOCKS_REQUIRED(in)
func (in *Inode) WriteAt(p []byte, off int64) (n int) {
	if off < 0 {
		panic(fmt.Sprintf("negative offset: %d", off))
	}

	t := in.table

	t.mu.Lock()
	denied := in.denyWriteCount > 0
	t.mu.Unlock()

	if denied {
		return 0
	}

	c := t.cache

	for n < len(p) && off < MaxFileSize {
		sec, outcome := in.sectorFor(off, true)
		if outcome != walkFound {
			break
		}

		sectorOff := off % blockdev.SectorSize
		chunk := min(
			int64(len(p)-n),
			blockdev.SectorSize-sectorOff,
			MaxFileSize-off)

		s := c.Acquire(sec)
		copy(s.Data()[sectorOff:sectorOff+chunk], p[n:n+int(chunk)])
		c.Release(s, true)

		n += int(chunk)
		off += chunk
	}

	if n > 0 && off > in.rec.length {
		in.rec.length = off
		in.flushRecord()
	}

	in.mtime = t.clock.Now()
	return
}
