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

// Package blockdev defines the sector-addressed block device that the file
// system is layered on top of, along with file-backed and in-memory
// implementations.
package blockdev

import "math"

// The fixed size of every sector, in bytes.
const SectorSize = 512

// SectorID identifies a sector on a block device. Sector zero is reserved
// for the free map and is never used for file data.
type SectorID uint32

// NoSector is an in-memory sentinel meaning "no such sector". It is never
// stored on disk; on-disk pointer arrays use zero for "unallocated".
const NoSector SectorID = math.MaxUint32

// A Device is a fixed-size array of sectors. Implementations must be safe
// for concurrent access.
//
// Device I/O failures are not recoverable conditions for the layers above;
// implementations panic rather than returning errors.
type Device interface {
	// Read the contents of the given sector into p, which must be exactly
	// SectorSize bytes long.
	ReadSector(sector SectorID, p []byte)

	// Write the contents of p, which must be exactly SectorSize bytes long,
	// to the given sector.
	WriteSector(sector SectorID, p []byte)

	// Return the total number of sectors on the device.
	SectorCount() SectorID
}
