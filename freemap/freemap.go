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

// Package freemap tracks which sectors of the device are free, as a bitmap
// held in memory and persisted through a backing file at mount and
// shutdown. Internally synchronized; safe for concurrent use.
package freemap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jacobsa/diskfs/blockdev"
)

// A Backing persists the bitmap. Reads and writes return short counts on
// failure, in the manner of the file layer.
type Backing interface {
	ReadAt(p []byte, off int64) (n int)
	WriteAt(p []byte, off int64) (n int)
}

// A Map is a free-sector bitmap. Bit i set means sector i is in use.
type Map struct {
	mu sync.Mutex

	// INVARIANT: len(bits) == (sectorCount + 7) / 8
	//
	// GUARDED_BY(mu)
	bits []byte

	sectorCount blockdev.SectorID
}

// Create a map for a device of the given size with every sector free,
// except those listed as reserved.
func New(sectorCount blockdev.SectorID, reserved ...blockdev.SectorID) *Map {
	m := &Map{
		bits:        make([]byte, (int(sectorCount)+7)/8),
		sectorCount: sectorCount,
	}

	for _, s := range reserved {
		m.set(s)
	}

	return m
}

// LOCKS_REQUIRED(m.mu) once the map is shared
func (m *Map) set(s blockdev.SectorID) {
	m.bits[s/8] |= 1 << (s % 8)
}

func (m *Map) unset(s blockdev.SectorID) {
	m.bits[s/8] &^= 1 << (s % 8)
}

func (m *Map) used(s blockdev.SectorID) bool {
	return m.bits[s/8]&(1<<(s%8)) != 0
}

// Allocate n contiguous free sectors, returning the first of the run.
// Returns false if no such run exists.
func (m *Map) Allocate(n int) (blockdev.SectorID, bool) {
	if n <= 0 {
		panic(fmt.Sprintf("invalid allocation count: %d", n))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	run := 0
	for s := blockdev.SectorID(0); s < m.sectorCount; s++ {
		if m.used(s) {
			run = 0
			continue
		}

		run++
		if run == n {
			first := s - blockdev.SectorID(n-1)
			for i := first; i <= s; i++ {
				m.set(i)
			}

			return first, true
		}
	}

	return blockdev.NoSector, false
}

// Return n contiguous sectors starting at the given one to the free set.
// Releasing a free sector is a programming error.
func (m *Map) Release(sector blockdev.SectorID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < n; i++ {
		s := sector + blockdev.SectorID(i)
		if !m.used(s) {
			panic(fmt.Sprintf("releasing free sector %d", s))
		}

		m.unset(s)
	}
}

// Return the number of free sectors.
func (m *Map) CountFree() (n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for s := blockdev.SectorID(0); s < m.sectorCount; s++ {
		if !m.used(s) {
			n++
		}
	}

	return
}

// The size of the persisted bitmap, in bytes.
func (m *Map) ByteLen() int64 {
	return int64(len(m.bits))
}

// Load the bitmap from its backing file.
func (m *Map) ReadFrom(b Backing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := b.ReadAt(m.bits, 0); n != len(m.bits) {
		return fmt.Errorf("short bitmap read: %d of %d bytes", n, len(m.bits))
	}

	return nil
}

// Write the bitmap to its backing file.
//
// Writing may itself allocate sectors for the backing file's data the first
// time around, mutating the bitmap; callers creating the file system write
// twice so that the second pass persists a stable image.
func (m *Map) WriteTo(b Backing) error {
	m.mu.Lock()
	snapshot := make([]byte, len(m.bits))
	copy(snapshot, m.bits)
	m.mu.Unlock()

	if n := b.WriteAt(snapshot, 0); n != len(snapshot) {
		return errors.New("short bitmap write")
	}

	return nil
}
