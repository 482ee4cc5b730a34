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

import (
	"fmt"
	"sync"
)

// MemDevice is an in-memory Device, useful in tests and experiments. The
// zero value is not usable; create one with NewMemDevice.
type MemDevice struct {
	mu sync.Mutex

	// len(data) == sectorCount * SectorSize
	//
	// GUARDED_BY(mu)
	data []byte

	sectorCount SectorID
}

// Create a device with the given number of sectors, all initially zeroed.
func NewMemDevice(sectorCount SectorID) *MemDevice {
	return &MemDevice{
		data:        make([]byte, int(sectorCount)*SectorSize),
		sectorCount: sectorCount,
	}
}

func (d *MemDevice) checkRange(sector SectorID, p []byte) {
	if sector >= d.sectorCount {
		panic(fmt.Sprintf("sector %d out of range [0, %d)", sector, d.sectorCount))
	}

	if len(p) != SectorSize {
		panic(fmt.Sprintf("buffer of length %d; want %d", len(p), SectorSize))
	}
}

func (d *MemDevice) ReadSector(sector SectorID, p []byte) {
	d.checkRange(sector, p)

	d.mu.Lock()
	defer d.mu.Unlock()

	off := int(sector) * SectorSize
	copy(p, d.data[off:off+SectorSize])
}

func (d *MemDevice) WriteSector(sector SectorID, p []byte) {
	d.checkRange(sector, p)

	d.mu.Lock()
	defer d.mu.Unlock()

	off := int(sector) * SectorSize
	copy(d.data[off:off+SectorSize], p)
}

func (d *MemDevice) SectorCount() SectorID {
	return d.sectorCount
}
