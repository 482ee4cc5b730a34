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

package blockdev

import "sync"

// CountingDevice wraps another Device, counting reads and writes per
// sector. For use in tests that make assertions about I/O traffic.
type CountingDevice struct {
	Wrapped Device

	mu sync.Mutex

	// GUARDED_BY(mu)
	reads map[SectorID]int

	// GUARDED_BY(mu)
	writes map[SectorID]int
}

func NewCountingDevice(wrapped Device) *CountingDevice {
	return &CountingDevice{
		Wrapped: wrapped,
		reads:   make(map[SectorID]int),
		writes:  make(map[SectorID]int),
	}
}

func (d *CountingDevice) ReadSector(sector SectorID, p []byte) {
	d.mu.Lock()
	d.reads[sector]++
	d.mu.Unlock()

	d.Wrapped.ReadSector(sector, p)
}

func (d *CountingDevice) WriteSector(sector SectorID, p []byte) {
	d.mu.Lock()
	d.writes[sector]++
	d.mu.Unlock()

	d.Wrapped.WriteSector(sector, p)
}

func (d *CountingDevice) SectorCount() SectorID {
	return d.Wrapped.SectorCount()
}

// Return the number of times the given sector has been read.
func (d *CountingDevice) Reads(sector SectorID) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.reads[sector]
}

// Return the number of times the given sector has been written.
func (d *CountingDevice) Writes(sector SectorID) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writes[sector]
}

// Return the total number of sector reads so far.
func (d *CountingDevice) TotalReads() (n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range d.reads {
		n += c
	}

	return
}

// Return the total number of sector writes so far.
func (d *CountingDevice) TotalWrites() (n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range d.writes {
		n += c
	}

	return
}
