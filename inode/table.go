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

// Package inode implements indexed-allocation inodes over a buffer cache:
// fixed-size on-disk records with direct, single-indirect, and
// double-indirect sector pointers, grown lazily on write. A process-wide
// table guarantees a single in-memory inode per on-disk sector.
package inode

import (
	"fmt"

	"github.com/jacobsa/diskfs/blockdev"
	"github.com/jacobsa/diskfs/cache"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

// An Allocator hands out free sectors. Implementations must be safe for
// concurrent access. Only single-sector allocations are made by this
// package.
type Allocator interface {
	// Allocate n contiguous sectors, returning the first. Returns false if
	// no such run is free.
	Allocate(n int) (blockdev.SectorID, bool)

	// Return n contiguous sectors starting at the given one to the free set.
	Release(sector blockdev.SectorID, n int)
}

// A Table tracks every open inode, keyed by its on-disk sector. Opening a
// sector that is already open returns the existing inode with its
// reference count bumped, never a second copy.
type Table struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	cache     *cache.Cache
	allocator Allocator
	clock     timeutil.Clock

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// INVARIANT: For all sectors s, inodes[s].sector == s
	// INVARIANT: For all sectors s, inodes[s].openCount > 0
	//
	// GUARDED_BY(mu)
	inodes map[blockdev.SectorID]*Inode
}

func NewTable(
	c *cache.Cache,
	allocator Allocator,
	clock timeutil.Clock) (t *Table) {
	t = &Table{
		cache:     c,
		allocator: allocator,
		clock:     clock,
		inodes:    make(map[blockdev.SectorID]*Inode),
	}

	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return
}

// LOCKS_REQUIRED(t.mu)
func (t *Table) checkInvariants() {
	for sector, in := range t.inodes {
		if in.sector != sector {
			panic(fmt.Sprintf("inode for sector %d filed under %d", in.sector, sector))
		}

		if in.openCount <= 0 {
			panic(fmt.Sprintf("tabled inode with open count %d", in.openCount))
		}

		if in.denyWriteCount > in.openCount {
			panic(fmt.Sprintf(
				"deny write count %d exceeds open count %d",
				in.denyWriteCount,
				in.openCount))
		}
	}
}

// Initialize the on-disk record for a fresh inode at the given sector. The
// record's data sector pointers are all zero; data sectors are allocated
// lazily by later writes, so a non-zero length yields a sparse file.
func (t *Table) Create(sector blockdev.SectorID, length int64, isDir bool) {
	if length < 0 || length > MaxFileSize {
		panic(fmt.Sprintf("invalid length: %d", length))
	}

	rec := diskRecord{
		length: length,
		isDir:  isDir,
	}

	s := t.cache.AcquireZeroed(sector)
	rec.marshal(s.Data())
	t.cache.Release(s, true)
}

// Open the inode whose record lives at the given sector, loading the record
// through the cache unless the inode is already open.
func (t *Table) Open(sector blockdev.SectorID) (in *Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if in = t.inodes[sector]; in != nil {
		in.openCount++
		return
	}

	in = &Inode{
		table:     t,
		sector:    sector,
		openCount: 1,
	}

	s := t.cache.Acquire(sector)
	in.rec = unmarshalRecord(s.Data())
	t.cache.Release(s, false)

	now := t.clock.Now()
	in.mtime = now
	in.atime = now

	in.mu = syncutil.NewInvariantMutex(in.checkInvariants)
	t.inodes[sector] = in

	return
}
