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

package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jacobsa/diskfs/blockdev"
	"github.com/jacobsa/diskfs/cache"
	. "github.com/jacobsa/ogletest"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

func TestCache(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

const deviceSectors = 256

type CacheTest struct {
	dev   *blockdev.CountingDevice
	cache *cache.Cache
}

var _ SetUpInterface = &CacheTest{}
var _ TearDownInterface = &CacheTest{}

func init() { RegisterTestSuite(&CacheTest{}) }

func (t *CacheTest) SetUp(ti *TestInfo) {
	syncutil.EnableInvariantChecking()

	t.dev = blockdev.NewCountingDevice(blockdev.NewMemDevice(deviceSectors))
	t.cache = cache.New(cache.Config{
		Device: t.dev,
		Clock:  timeutil.RealClock(),
		Slots:  4,

		// Keep the periodic worker out of the way unless a test wants it.
		WriteBackInterval: time.Hour,
	})
}

func (t *CacheTest) TearDown() {
	if t.cache != nil {
		t.cache.Stop()
	}
}

// Write the given byte to every byte of the sector, bypassing the cache.
func (t *CacheTest) fillSector(sector blockdev.SectorID, b byte) {
	var buf [blockdev.SectorSize]byte
	for i := range buf {
		buf[i] = b
	}

	t.dev.Wrapped.WriteSector(sector, buf[:])
}

// Dirty the given sector through the cache, setting its first byte.
func (t *CacheTest) dirtySector(sector blockdev.SectorID, b byte) {
	s := t.cache.Acquire(sector)
	s.Data()[0] = b
	t.cache.Release(s, true)
}

// Poll until the condition holds or a deadline passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}

		time.Sleep(time.Millisecond)
	}

	return false
}

////////////////////////////////////////////////////////////////////////
// Test functions
////////////////////////////////////////////////////////////////////////

func (t *CacheTest) AcquireReadsThroughDevice() {
	t.fillSector(7, 0xab)

	s := t.cache.Acquire(7)
	ExpectEq(blockdev.SectorID(7), s.Sector())
	ExpectEq(byte(0xab), s.Data()[0])
	ExpectEq(byte(0xab), s.Data()[blockdev.SectorSize-1])
	t.cache.Release(s, false)

	ExpectEq(1, t.dev.Reads(7))
}

func (t *CacheTest) SecondAcquireIsAHit() {
	s := t.cache.Acquire(7)
	t.cache.Release(s, false)

	s = t.cache.Acquire(7)
	t.cache.Release(s, false)

	ExpectEq(1, t.dev.Reads(7))

	stats := t.cache.Stats()
	ExpectEq(1, stats.Hits)
	ExpectEq(1, stats.Misses)
}

func (t *CacheTest) AcquireZeroedSkipsDeviceRead() {
	t.fillSector(7, 0xab)

	s := t.cache.AcquireZeroed(7)
	ExpectEq(byte(0), s.Data()[0])
	ExpectEq(byte(0), s.Data()[blockdev.SectorSize-1])
	t.cache.Release(s, true)

	ExpectEq(0, t.dev.Reads(7))
}

func (t *CacheTest) AcquireZeroedClearsCachedContents() {
	t.dirtySector(7, 0xab)

	s := t.cache.AcquireZeroed(7)
	ExpectEq(byte(0), s.Data()[0])
	t.cache.Release(s, true)
}

func (t *CacheTest) FlushWritesDirtySlots() {
	t.dirtySector(7, 0xab)
	ExpectEq(0, t.dev.Writes(7))

	t.cache.FlushAllDirty()
	ExpectEq(1, t.dev.Writes(7))

	var buf [blockdev.SectorSize]byte
	t.dev.Wrapped.ReadSector(7, buf[:])
	ExpectEq(byte(0xab), buf[0])
}

func (t *CacheTest) FlushIsIdempotent() {
	t.dirtySector(7, 0xab)

	t.cache.FlushAllDirty()
	t.cache.FlushAllDirty()

	ExpectEq(1, t.dev.Writes(7))
}

func (t *CacheTest) CleanEvictionDoesNotWrite() {
	// Touch more sectors than there are slots.
	for sector := blockdev.SectorID(0); sector < 10; sector++ {
		s := t.cache.Acquire(sector)
		t.cache.Release(s, false)
	}

	ExpectEq(0, t.dev.TotalWrites())
}

func (t *CacheTest) DirtyEvictionWritesBackExactlyOnce() {
	// Dirty more sectors than there are slots; each eviction must write its
	// victim exactly once, and the flush at Stop covers the rest.
	const n = 10
	for sector := blockdev.SectorID(0); sector < n; sector++ {
		t.dirtySector(sector, byte(sector))
	}

	t.cache.Stop()

	for sector := blockdev.SectorID(0); sector < n; sector++ {
		ExpectEq(1, t.dev.Writes(sector), "sector %d", sector)

		var buf [blockdev.SectorSize]byte
		t.dev.Wrapped.ReadSector(sector, buf[:])
		ExpectEq(byte(sector), buf[0], "sector %d", sector)
	}

	t.cache = nil
}

func (t *CacheTest) LeastRecentlyUsedIsEvicted() {
	// Populate the four slots.
	for sector := blockdev.SectorID(0); sector < 4; sector++ {
		s := t.cache.Acquire(sector)
		t.cache.Release(s, false)
	}

	// Touch sector 0 so that sector 1 is the coldest.
	s := t.cache.Acquire(0)
	t.cache.Release(s, false)

	// Force one eviction.
	s = t.cache.Acquire(100)
	t.cache.Release(s, false)

	// Sector 1 should be gone; the rest should still be hits.
	for _, sector := range []blockdev.SectorID{0, 2, 3, 100} {
		s = t.cache.Acquire(sector)
		t.cache.Release(s, false)
	}
	ExpectEq(1, t.dev.Reads(1))

	s = t.cache.Acquire(1)
	t.cache.Release(s, false)
	ExpectEq(2, t.dev.Reads(1))
}

func (t *CacheTest) PoolSizeStaysBounded() {
	// With the default pool size, touching 100 distinct sectors leaves
	// exactly 64 populated.
	t.cache.Stop()
	t.cache = cache.New(cache.Config{
		Device:            t.dev,
		WriteBackInterval: time.Hour,
	})

	for sector := blockdev.SectorID(0); sector < 100; sector++ {
		s := t.cache.Acquire(sector)
		t.cache.Release(s, false)
	}

	stats := t.cache.Stats()
	AssertEq(100, stats.Misses)
	ExpectEq(100-cache.SlotCount, stats.Evictions)

	// The most recently touched sectors are still resident...
	for sector := blockdev.SectorID(100 - cache.SlotCount); sector < 100; sector++ {
		s := t.cache.Acquire(sector)
		t.cache.Release(s, false)
		ExpectEq(1, t.dev.Reads(sector), "sector %d", sector)
	}

	// ...and the least recently touched were evicted.
	s := t.cache.Acquire(0)
	t.cache.Release(s, false)
	ExpectEq(2, t.dev.Reads(0))
}

func (t *CacheTest) AcquireBlocksWhileAllSlotsPinned() {
	var slots []*cache.Slot
	for sector := blockdev.SectorID(0); sector < 4; sector++ {
		slots = append(slots, t.cache.Acquire(sector))
	}

	acquired := make(chan *cache.Slot)
	go func() {
		acquired <- t.cache.Acquire(100)
	}()

	select {
	case <-acquired:
		AddFailure("Acquire returned with every slot pinned")

	case <-time.After(50 * time.Millisecond):
	}

	// Releasing one slot should unblock it.
	t.cache.Release(slots[0], false)

	select {
	case s := <-acquired:
		t.cache.Release(s, false)

	case <-time.After(5 * time.Second):
		AddFailure("Acquire did not return after a release")
	}

	for _, s := range slots[1:] {
		t.cache.Release(s, false)
	}
}

func (t *CacheTest) ReadAheadPopulatesCache() {
	t.fillSector(9, 0xcd)

	t.cache.NominateReadAhead(9)
	AssertTrue(eventually(func() bool { return t.dev.Reads(9) == 1 }))

	// The subsequent acquire must be served from memory.
	s := t.cache.Acquire(9)
	ExpectEq(byte(0xcd), s.Data()[0])
	t.cache.Release(s, false)

	ExpectEq(1, t.dev.Reads(9))
}

func (t *CacheTest) PeriodicWriteBackFlushes() {
	t.cache.Stop()
	t.cache = cache.New(cache.Config{
		Device:            t.dev,
		Slots:             4,
		WriteBackInterval: 5 * time.Millisecond,
	})

	t.dirtySector(7, 0xab)

	AssertTrue(eventually(func() bool { return t.dev.Writes(7) == 1 }))
}

func (t *CacheTest) StopFlushesEverything() {
	for sector := blockdev.SectorID(0); sector < 4; sector++ {
		t.dirtySector(sector, byte(0x10+sector))
	}

	t.cache.Stop()
	t.cache = nil

	for sector := blockdev.SectorID(0); sector < 4; sector++ {
		var buf [blockdev.SectorSize]byte
		t.dev.Wrapped.ReadSector(sector, buf[:])
		ExpectEq(byte(0x10+sector), buf[0], "sector %d", sector)
	}
}

func (t *CacheTest) ConcurrentAcquires() {
	// Hammer a handful of sectors from several goroutines, each writing a
	// byte it owns. Nothing should be lost.
	const workers = 8
	const rounds = 64

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				sector := blockdev.SectorID(i % 10)
				s := t.cache.Acquire(sector)
				s.Data()[w] = byte(w + 1)
				t.cache.Release(s, true)
			}
		}()
	}

	wg.Wait()
	t.cache.Stop()
	t.cache = nil

	for sector := blockdev.SectorID(0); sector < 10; sector++ {
		var buf [blockdev.SectorSize]byte
		t.dev.Wrapped.ReadSector(sector, buf[:])

		for w := 0; w < workers; w++ {
			ExpectEq(byte(w+1), buf[w], "sector %d, worker %d", sector, w)
		}
	}
}
