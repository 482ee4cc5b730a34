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
	"os"

	fallocate "github.com/detailyang/go-fallocate"
)

// FileDevice is a Device backed by a disk image file. The file's size must
// be a multiple of SectorSize.
type FileDevice struct {
	f           *os.File
	sectorCount SectorID
}

// Open the disk image at the given path.
func OpenImage(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("OpenFile: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("Stat: %w", err)
	}

	if fi.Size()%SectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf(
			"image size %d is not a multiple of the sector size", fi.Size())
	}

	d := &FileDevice{
		f:           f,
		sectorCount: SectorID(fi.Size() / SectorSize),
	}

	return d, nil
}

// Create a disk image of the given number of sectors at the given path,
// preallocating its space, then open it.
func CreateImage(path string, sectorCount SectorID) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("OpenFile: %w", err)
	}

	size := int64(sectorCount) * SectorSize
	if err := fallocate.Fallocate(f, 0, size); err != nil {
		// Fall back to a plain truncate on file systems without
		// preallocation support.
		if err := f.Truncate(size); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("Truncate: %w", err)
		}
	}

	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("Truncate: %w", err)
	}

	d := &FileDevice{
		f:           f,
		sectorCount: sectorCount,
	}

	return d, nil
}

func (d *FileDevice) ReadSector(sector SectorID, p []byte) {
	if sector >= d.sectorCount {
		panic(fmt.Sprintf("sector %d out of range [0, %d)", sector, d.sectorCount))
	}

	if len(p) != SectorSize {
		panic(fmt.Sprintf("buffer of length %d; want %d", len(p), SectorSize))
	}

	if _, err := d.f.ReadAt(p, int64(sector)*SectorSize); err != nil {
		panic(fmt.Sprintf("reading sector %d: %v", sector, err))
	}
}

func (d *FileDevice) WriteSector(sector SectorID, p []byte) {
	if sector >= d.sectorCount {
		panic(fmt.Sprintf("sector %d out of range [0, %d)", sector, d.sectorCount))
	}

	if len(p) != SectorSize {
		panic(fmt.Sprintf("buffer of length %d; want %d", len(p), SectorSize))
	}

	if _, err := d.f.WriteAt(p, int64(sector)*SectorSize); err != nil {
		panic(fmt.Sprintf("writing sector %d: %v", sector, err))
	}
}

func (d *FileDevice) SectorCount() SectorID {
	return d.sectorCount
}

// Force written sectors to stable storage.
func (d *FileDevice) Sync() error {
	return datasync(d.f)
}

// Close the underlying image file, syncing it first.
func (d *FileDevice) Close() error {
	if err := d.Sync(); err != nil {
		d.f.Close()
		return err
	}

	return d.f.Close()
}
