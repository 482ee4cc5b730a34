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

// Package cache implements a fixed-size write-back buffer cache through
// which every sector access to the block device flows. Eviction is an LRU
// approximation driven by per-slot reference bits; a background worker
// flushes dirty slots periodically and another prefetches nominated
// sectors.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jacobsa/diskfs/blockdev"
	"github.com/jacobsa/diskfs/internal/logger"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"golang.org/x/sync/errgroup"
)

const (
	// The number of slots in a cache.
	SlotCount = 64

	// How long the write-back worker sleeps between flush cycles.
	WriteInterval = 100 * time.Millisecond
)

// A Slot pairs a sector with an in-memory copy of its contents. The byte
// buffer returned by Data may be read or written only between the Acquire
// call that returned the slot and the corresponding Release.
type Slot struct {
	/////////////////////////
	// Mutable state
	/////////////////////////

	// The sector currently held, or blockdev.NoSector if the slot has never
	// been used.
	//
	// GUARDED_BY(Cache.mu)
	sector blockdev.SectorID

	// INVARIANT: len(data) == blockdev.SectorSize
	data []byte

	// Reference bit for the eviction scan.
	//
	// GUARDED_BY(Cache.mu)
	accessed bool

	// Number of callers currently holding this slot. A pinned slot is never
	// evicted and its contents are never written back.
	//
	// INVARIANT: pinCount >= 0
	//
	// GUARDED_BY(Cache.mu)
	pinCount int

	// Whether data differs from the on-disk contents of sector.
	//
	// GUARDED_BY(Cache.mu)
	dirty bool

	// The slot's position in Cache.lru.
	//
	// GUARDED_BY(Cache.mu)
	elem *list.Element
}

// Return the sector this slot holds.
func (s *Slot) Sector() blockdev.SectorID {
	return s.sector
}

// Return the slot's contents. Valid only while the slot is pinned.
func (s *Slot) Data() []byte {
	return s.data
}

// Stats describes the traffic a cache has seen so far.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64
	ReadAheads uint64

	// When the write-back worker last completed a cycle.
	LastWriteBack time.Time
}

// Config governs the construction of a cache.
type Config struct {
	// The device mediated by the cache.
	Device blockdev.Device

	// Used to stamp write-back cycles.
	Clock timeutil.Clock

	// The number of slots. Defaults to SlotCount if zero.
	Slots int

	// How long the write-back worker sleeps between cycles. Defaults to
	// WriteInterval if zero.
	WriteBackInterval time.Duration
}

// A Cache mediates all sector I/O against a block device using a fixed pool
// of slots. Safe for concurrent access. Must be created with New; call Stop
// before discarding to flush dirty slots and join the background workers.
type Cache struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	dev   blockdev.Device
	clock timeutil.Clock

	/////////////////////////
	// Constant data
	/////////////////////////

	writeBackInterval time.Duration

	/////////////////////////
	// Background workers
	/////////////////////////

	group  *errgroup.Group
	cancel context.CancelFunc

	/////////////////////////
	// Mutable state
	/////////////////////////

	// A monitor lock protecting all slot metadata, the read-ahead
	// nomination, and the stats.
	mu syncutil.InvariantMutex

	// All slots, ordered from coldest to hottest. The eviction scan starts
	// at the front; Release moves slots to the back.
	//
	// INVARIANT: lru.Len() is constant after construction
	// INVARIANT: At most one slot holds a given sector
	//
	// GUARDED_BY(mu)
	lru *list.List

	// The sector the read-ahead worker should fetch next, or
	// blockdev.NoSector if none. A new nomination overwrites a pending one.
	//
	// GUARDED_BY(mu)
	nextSector blockdev.SectorID

	// Set by Stop to shut down the read-ahead worker.
	//
	// GUARDED_BY(mu)
	stopping bool

	// GUARDED_BY(mu)
	stats Stats

	// Signalled when a slot is released and when a sector is nominated for
	// read-ahead.
	cond *sync.Cond
}

// Create a cache and start its background workers.
func New(cfg Config) (c *Cache) {
	if cfg.Slots == 0 {
		cfg.Slots = SlotCount
	}

	if cfg.WriteBackInterval == 0 {
		cfg.WriteBackInterval = WriteInterval
	}

	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock()
	}

	c = &Cache{
		dev:               cfg.Device,
		clock:             cfg.Clock,
		writeBackInterval: cfg.WriteBackInterval,
		lru:               list.New(),
		nextSector:        blockdev.NoSector,
	}

	for i := 0; i < cfg.Slots; i++ {
		s := &Slot{
			sector: blockdev.NoSector,
			data:   make([]byte, blockdev.SectorSize),
		}

		s.elem = c.lru.PushBack(s)
	}

	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	c.cond = sync.NewCond(&c.mu)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.group, ctx = errgroup.WithContext(ctx)

	c.group.Go(func() error {
		c.readAheadLoop()
		return nil
	})

	c.group.Go(func() error {
		c.writeBackLoop(ctx)
		return nil
	})

	return
}

// LOCKS_REQUIRED(c.mu)
func (c *Cache) checkInvariants() {
	seen := make(map[blockdev.SectorID]struct{})
	for e := c.lru.Front(); e != nil; e = e.Next() {
		s := e.Value.(*Slot)

		// INVARIANT: len(data) == blockdev.SectorSize
		if len(s.data) != blockdev.SectorSize {
			panic(fmt.Sprintf("slot buffer of length %d", len(s.data)))
		}

		// INVARIANT: pinCount >= 0
		if s.pinCount < 0 {
			panic(fmt.Sprintf("negative pin count: %d", s.pinCount))
		}

		// INVARIANT: At most one slot holds a given sector
		if s.sector != blockdev.NoSector {
			if _, ok := seen[s.sector]; ok {
				panic(fmt.Sprintf("sector %d held by two slots", s.sector))
			}

			seen[s.sector] = struct{}{}
		}
	}
}

// Return a pinned slot holding the given sector, reading it from the device
// if it is not already present. Blocks while every slot is pinned. The
// caller must eventually call Release.
func (c *Cache) Acquire(sector blockdev.SectorID) *Slot {
	return c.acquire(sector, false)
}

// Like Acquire, but the slot's contents are zeroed rather than read from
// the device. For sectors that have just been allocated, whose on-disk
// contents are garbage.
func (c *Cache) AcquireZeroed(sector blockdev.SectorID) *Slot {
	return c.acquire(sector, true)
}

func (c *Cache) acquire(sector blockdev.SectorID, zero bool) *Slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		// Scan the pool in order. A slot already holding the sector wins
		// immediately. Otherwise clear reference bits on unpinned slots until
		// an unreferenced one turns up, remembering the first such victim.
		var victim *Slot
		sawUnpinned := false

		for e := c.lru.Front(); e != nil; e = e.Next() {
			s := e.Value.(*Slot)

			if s.sector == sector {
				s.pinCount++
				s.accessed = true
				c.stats.Hits++

				if zero {
					clear(s.data)
				}

				return s
			}

			if s.pinCount > 0 {
				continue
			}

			sawUnpinned = true

			if victim != nil {
				continue
			}

			if s.accessed {
				s.accessed = false
				continue
			}

			victim = s
		}

		if victim == nil {
			// If there were unpinned slots we merely cleared their reference
			// bits; rescan. Otherwise wait for a Release.
			if !sawUnpinned {
				c.cond.Wait()
			}

			continue
		}

		// Evict the victim. The monitor lock is held across the device I/O,
		// so every other cache call waits until it completes.
		victim.pinCount++

		if victim.dirty {
			c.dev.WriteSector(victim.sector, victim.data)
			victim.dirty = false
			c.stats.WriteBacks++
		}

		if victim.sector != blockdev.NoSector {
			c.stats.Evictions++
		}

		victim.sector = sector
		victim.accessed = true
		c.stats.Misses++

		if zero {
			clear(victim.data)
		} else {
			c.dev.ReadSector(sector, victim.data)
		}

		return victim
	}
}

// Unpin a slot previously returned by Acquire. dirty indicates whether the
// caller wrote into the slot's data. The slot moves to the hot end of the
// eviction order and any waiter is woken.
func (c *Cache) Release(s *Slot, dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.pinCount <= 0 {
		panic("Release of an unpinned slot")
	}

	s.pinCount--

	if dirty {
		s.dirty = true
	}

	s.accessed = true
	c.lru.MoveToBack(s.elem)

	c.cond.Broadcast()
}

// Nominate a sector for the read-ahead worker to prefetch. At most one
// nomination is outstanding; a newer one replaces it.
func (c *Cache) NominateReadAhead(sector blockdev.SectorID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSector = sector
	c.cond.Broadcast()
}

// Write every dirty slot back to the device. If a dirty slot is pinned, the
// walk waits for it to be released and restarts, so that on return no slot
// is dirty.
func (c *Cache) FlushAllDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flushAllLocked()
}

// LOCKS_REQUIRED(c.mu)
func (c *Cache) flushAllLocked() {
	for {
		clean := true

		for e := c.lru.Front(); e != nil; e = e.Next() {
			s := e.Value.(*Slot)

			if !s.dirty {
				continue
			}

			if s.pinCount > 0 {
				c.cond.Wait()
				clean = false
				break
			}

			c.dev.WriteSector(s.sector, s.data)
			s.dirty = false
			c.stats.WriteBacks++
		}

		if clean {
			return
		}
	}
}

// Return a snapshot of the cache's traffic counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// Flush all dirty slots, then stop the background workers and wait for them
// to exit. The caller must guarantee that no further Acquire calls are in
// flight.
func (c *Cache) Stop() {
	c.FlushAllDirty()

	c.mu.Lock()
	c.stopping = true
	c.cond.Broadcast()
	c.mu.Unlock()

	c.cancel()
	c.group.Wait()
}

////////////////////////////////////////////////////////////////////////
// Background workers
////////////////////////////////////////////////////////////////////////

func (c *Cache) readAheadLoop() {
	for {
		c.mu.Lock()
		for c.nextSector == blockdev.NoSector && !c.stopping {
			c.cond.Wait()
		}

		if c.stopping {
			c.mu.Unlock()
			return
		}

		sector := c.nextSector
		c.nextSector = blockdev.NoSector
		c.mu.Unlock()

		// Acquiring and immediately releasing populates the cache.
		s := c.Acquire(sector)
		c.Release(s, false)

		c.mu.Lock()
		c.stats.ReadAheads++
		c.mu.Unlock()
	}
}

func (c *Cache) writeBackLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-time.After(c.writeBackInterval):
		}

		c.mu.Lock()
		before := c.stats.WriteBacks
		c.flushAllLocked()
		flushed := c.stats.WriteBacks - before
		c.stats.LastWriteBack = c.clock.Now()
		c.mu.Unlock()

		if flushed > 0 {
			logger.Debugf("cache: wrote back %d slots", flushed)
		}
	}
}
