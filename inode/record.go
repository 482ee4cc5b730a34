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
	"encoding/binary"
	"fmt"

	"github.com/jacobsa/diskfs/blockdev"
)

const (
	// The number of data sector pointers stored directly in the inode record.
	DirectBlocks = 124

	// The number of sector pointers held by one indirect sector.
	BlocksPerSector = 125

	// The hard ceiling on file size, in bytes: everything addressable through
	// the direct, single-indirect, and double-indirect pointers.
	MaxFileSize = (DirectBlocks +
		BlocksPerSector +
		BlocksPerSector*BlocksPerSector) * blockdev.SectorSize
)

const (
	// Positions of the two indirect pointers in the record's sector array.
	singleIndirectIdx = DirectBlocks
	doubleIndirectIdx = DirectBlocks + 1

	numPointers = DirectBlocks + 2
)

// The on-disk inode record, occupying exactly one sector:
//
//	bytes [0, 4):    length, little-endian int32
//	bytes [4, 8):    1 if the inode is a directory, else 0
//	bytes [8, 512):  numPointers sector pointers, little-endian uint32
//
// A pointer value of zero means "unallocated"; sector zero holds the free
// map and is never file data. The blockdev.NoSector sentinel is never
// stored on disk.
type diskRecord struct {
	// INVARIANT: 0 <= length <= MaxFileSize
	length int64

	isDir bool

	// INVARIANT: For each i, sectors[i] != blockdev.NoSector
	sectors [numPointers]blockdev.SectorID
}

func (r *diskRecord) checkInvariants() {
	if r.length < 0 || r.length > MaxFileSize {
		panic(fmt.Sprintf("length out of range: %d", r.length))
	}

	for i, s := range r.sectors {
		if s == blockdev.NoSector {
			panic(fmt.Sprintf("sentinel sector stored at pointer %d", i))
		}
	}
}

// Serialize the record into p, which must be exactly one sector long.
func (r *diskRecord) marshal(p []byte) {
	if len(p) != blockdev.SectorSize {
		panic(fmt.Sprintf("buffer of length %d", len(p)))
	}

	binary.LittleEndian.PutUint32(p[0:], uint32(int32(r.length)))

	var isDir uint32
	if r.isDir {
		isDir = 1
	}
	binary.LittleEndian.PutUint32(p[4:], isDir)

	for i, s := range r.sectors {
		binary.LittleEndian.PutUint32(p[8+4*i:], uint32(s))
	}
}

// Parse a record out of p, which must be exactly one sector long.
func unmarshalRecord(p []byte) (r diskRecord) {
	if len(p) != blockdev.SectorSize {
		panic(fmt.Sprintf("buffer of length %d", len(p)))
	}

	r.length = int64(int32(binary.LittleEndian.Uint32(p[0:])))
	r.isDir = binary.LittleEndian.Uint32(p[4:]) != 0

	for i := range r.sectors {
		r.sectors[i] = blockdev.SectorID(binary.LittleEndian.Uint32(p[8+4*i:]))
	}

	return
}

// Read the pointer at the given position of an indirect sector's contents.
func readPointer(data []byte, pos int64) blockdev.SectorID {
	if pos < 0 || pos >= BlocksPerSector {
		panic(fmt.Sprintf("indirect position out of range: %d", pos))
	}

	return blockdev.SectorID(binary.LittleEndian.Uint32(data[4*pos:]))
}

// Write the pointer at the given position of an indirect sector's contents.
func writePointer(data []byte, pos int64, sector blockdev.SectorID) {
	if pos < 0 || pos >= BlocksPerSector {
		panic(fmt.Sprintf("indirect position out of range: %d", pos))
	}

	binary.LittleEndian.PutUint32(data[4*pos:], uint32(sector))
}
