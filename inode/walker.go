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

	"github.com/jacobsa/diskfs/blockdev"
)

// The result of resolving a file offset to a data sector.
type walkOutcome int

const (
	// The offset's data sector exists (or was just allocated).
	walkFound walkOutcome = iota

	// The offset's data sector is unallocated and allocation was not
	// requested.
	walkHole

	// Allocation was requested but the allocator ran dry.
	walkAllocFailed
)

// Translate a byte offset within the file to the data sector holding it.
// With allocate set, missing sectors are created on the way: data sectors,
// the indirect sectors leading to them, and the record's indirect pointers
// are all installed on demand, and every freshly allocated sector is
// zero-filled through the cache before use.
//
// The offset must lie below MaxFileSize.
//
// LOCKS_REQUIRED(in.mu)
func (in *Inode) sectorFor(off int64, allocate bool) (blockdev.SectorID, walkOutcome) {
	idx := off / blockdev.SectorSize

	switch {
	case idx < DirectBlocks:
		sec := in.rec.sectors[idx]
		if sec != 0 {
			return sec, walkFound
		}

		if !allocate {
			return blockdev.NoSector, walkHole
		}

		sec, ok := in.allocZeroed()
		if !ok {
			return blockdev.NoSector, walkAllocFailed
		}

		in.rec.sectors[idx] = sec
		in.flushRecord()
		return sec, walkFound

	case idx < DirectBlocks+BlocksPerSector:
		ind, outcome := in.recordPointer(singleIndirectIdx, allocate)
		if outcome != walkFound {
			return blockdev.NoSector, outcome
		}

		return in.indirectEntry(ind, idx-DirectBlocks, allocate)

	case idx < DirectBlocks+BlocksPerSector+BlocksPerSector*BlocksPerSector:
		dbl, outcome := in.recordPointer(doubleIndirectIdx, allocate)
		if outcome != walkFound {
			return blockdev.NoSector, outcome
		}

		// The outer walk resolves the second-level indirect sector; the inner
		// walk resolves the data sector within it.
		k := idx - DirectBlocks - BlocksPerSector

		inner, outcome := in.indirectEntry(dbl, k/BlocksPerSector, allocate)
		if outcome != walkFound {
			return blockdev.NoSector, outcome
		}

		return in.indirectEntry(inner, k%BlocksPerSector, allocate)

	default:
		panic(fmt.Sprintf("offset beyond the file size ceiling: %d", off))
	}
}

// Read the record's pointer at the given position, allocating and
// installing a zero-filled indirect sector if it is missing and allocation
// was requested.
//
// LOCKS_REQUIRED(in.mu)
func (in *Inode) recordPointer(
	pos int,
	allocate bool) (blockdev.SectorID, walkOutcome) {
	if sec := in.rec.sectors[pos]; sec != 0 {
		return sec, walkFound
	}

	if !allocate {
		return blockdev.NoSector, walkHole
	}

	sec, ok := in.allocZeroed()
	if !ok {
		return blockdev.NoSector, walkAllocFailed
	}

	in.rec.sectors[pos] = sec
	in.flushRecord()
	return sec, walkFound
}

// Read the pointer at the given position of the indirect sector ind,
// allocating and installing a zero-filled sector if it is missing and
// allocation was requested. The indirect sector's slot stays pinned for the
// duration of the pointer access and is released dirty if modified.
//
// LOCKS_REQUIRED(in.mu)
func (in *Inode) indirectEntry(
	ind blockdev.SectorID,
	pos int64,
	allocate bool) (blockdev.SectorID, walkOutcome) {
	c := in.table.cache

	s := c.Acquire(ind)

	if sec := readPointer(s.Data(), pos); sec != 0 {
		c.Release(s, false)
		return sec, walkFound
	}

	if !allocate {
		c.Release(s, false)
		return blockdev.NoSector, walkHole
	}

	sec, ok := in.allocZeroed()
	if !ok {
		c.Release(s, false)
		return blockdev.NoSector, walkAllocFailed
	}

	writePointer(s.Data(), pos, sec)
	c.Release(s, true)
	return sec, walkFound
}

// Allocate one sector and zero-fill it through the cache.
func (in *Inode) allocZeroed() (blockdev.SectorID, bool) {
	sec, ok := in.table.allocator.Allocate(1)
	if !ok {
		return blockdev.NoSector, false
	}

	s := in.table.cache.AcquireZeroed(sec)
	in.table.cache.Release(s, true)

	return sec, true
}
