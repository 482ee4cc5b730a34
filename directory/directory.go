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

// Package directory layers a flat namespace over a directory inode, whose
// file data is a packed array of fixed-size entries. The first two slots of
// every directory are the reserved "." and ".." entries.
package directory

import (
	"errors"

	"github.com/jacobsa/diskfs/blockdev"
	"github.com/jacobsa/diskfs/inode"
)

// The maximum length of an entry name, in bytes, not counting the
// terminator.
const NameMax = 14

const (
	// Names of the two reserved entries.
	SelfName   = "."
	ParentName = ".."
)

var (
	ErrExists      = errors.New("name already exists")
	ErrNotFound    = errors.New("no such name")
	ErrNameTooLong = errors.New("name too long")
	ErrInvalidName = errors.New("invalid name")
	ErrNotEmpty    = errors.New("directory not empty")
	ErrNoSpace     = errors.New("out of sectors")
)

// A Directory wraps a directory inode. The zero value is not usable; create
// one with New. Methods serialize on the inode's lock, so concurrent
// mutations of a single directory are safe.
type Directory struct {
	table *inode.Table
	in    *inode.Inode
}

// Create a directory view over the given inode, which must represent a
// directory.
func New(t *inode.Table, in *inode.Inode) *Directory {
	if !in.IsDir() {
		panic("directory over a non-directory inode")
	}

	return &Directory{
		table: t,
		in:    in,
	}
}

// Return the underlying inode.
func (d *Directory) Inode() *inode.Inode {
	return d.in
}

// Find the entry with the given name, returning the sector of its inode.
func (d *Directory) Lookup(name string) (blockdev.SectorID, bool) {
	d.in.Lock()
	defer d.in.Unlock()

	e, _, found := d.scan(name)
	if !found {
		return blockdev.NoSector, false
	}

	return e.sector, true
}

// Add an entry mapping the given name to the given inode sector. The first
// unused slot is reused; otherwise the entry is appended at end of file.
func (d *Directory) Add(name string, sector blockdev.SectorID) error {
	if name == "" {
		return ErrInvalidName
	}

	if len(name) > NameMax {
		return ErrNameTooLong
	}

	d.in.Lock()
	defer d.in.Unlock()

	return d.addLocked(name, sector)
}

// LOCKS_REQUIRED(d.in)
func (d *Directory) addLocked(name string, sector blockdev.SectorID) error {
	// One pass finds duplicates, the first free slot, and end of file.
	freeOff := int64(-1)
	off := int64(0)

	for {
		e, ok := d.readEntry(off)
		if !ok {
			break
		}

		if e.inUse {
			if e.name == name {
				return ErrExists
			}
		} else if freeOff < 0 {
			freeOff = off
		}

		off += entrySize
	}

	if freeOff < 0 {
		freeOff = off
	}

	e := dirEntry{
		sector: sector,
		name:   name,
		inUse:  true,
	}

	// A single write of one record keeps the entry's installation atomic with
	// respect to other lookups of this directory.
	if !d.writeEntry(freeOff, e) {
		return ErrNoSpace
	}

	return nil
}

// Remove the entry with the given name. Directories may be removed only
// while empty. The target inode is marked for deletion, releasing its
// sectors once the last reference to it is closed.
func (d *Directory) Remove(name string) error {
	if name == SelfName || name == ParentName {
		return ErrInvalidName
	}

	d.in.Lock()
	defer d.in.Unlock()

	e, off, found := d.scan(name)
	if !found {
		return ErrNotFound
	}

	target := d.table.Open(e.sector)

	// Lock ordering here is parent then child; nothing in the system locks a
	// child directory before its parent.
	if target.IsDir() {
		child := New(d.table, target)

		child.in.Lock()
		empty := child.emptyLocked()
		child.in.Unlock()

		if !empty {
			target.Close()
			return ErrNotEmpty
		}
	}

	e.inUse = false
	if !d.writeEntry(off, e) {
		target.Close()
		return ErrNoSpace
	}

	target.Remove()
	target.Close()
	return nil
}

// Install the reserved "." and ".." entries, pointing at this directory and
// at the given parent sector respectively. Entries already present are left
// alone, so calling this on an initialized directory is harmless.
func (d *Directory) InstallDots(parent blockdev.SectorID) error {
	d.in.Lock()
	defer d.in.Unlock()

	err := d.addLocked(SelfName, d.in.Sector())
	if err != nil && !errors.Is(err, ErrExists) {
		return err
	}

	err = d.addLocked(ParentName, parent)
	if err != nil && !errors.Is(err, ErrExists) {
		return err
	}

	return nil
}

// Whether the directory holds no entries beyond the reserved two.
func (d *Directory) IsEmpty() bool {
	d.in.Lock()
	defer d.in.Unlock()

	return d.emptyLocked()
}

// LOCKS_REQUIRED(d.in)
func (d *Directory) emptyLocked() bool {
	for off := int64(2 * entrySize); ; off += entrySize {
		e, ok := d.readEntry(off)
		if !ok {
			return true
		}

		if e.inUse {
			return false
		}
	}
}

// Yield the name of the next in-use entry at or after *pos, advancing *pos
// past it. The reserved "." and ".." entries are skipped. Returns false
// once the directory is exhausted.
func (d *Directory) ReadDir(pos *int64) (string, bool) {
	d.in.Lock()
	defer d.in.Unlock()

	if *pos == 0 {
		*pos = 2 * entrySize
	}

	for {
		e, ok := d.readEntry(*pos)
		if !ok {
			return "", false
		}

		*pos += entrySize

		if e.inUse {
			return e.name, true
		}
	}
}

// Find the in-use entry with the given name, returning it and its byte
// offset within the directory.
//
// LOCKS_REQUIRED(d.in)
func (d *Directory) scan(name string) (e dirEntry, off int64, found bool) {
	for off = 0; ; off += entrySize {
		var ok bool
		e, ok = d.readEntry(off)
		if !ok {
			return dirEntry{}, 0, false
		}

		if e.inUse && e.name == name {
			return e, off, true
		}
	}
}

// Read the entry record at the given byte offset. Returns false at end of
// file.
//
// LOCKS_REQUIRED(d.in)
func (d *Directory) readEntry(off int64) (dirEntry, bool) {
	var buf [entrySize]byte

	if n := d.in.ReadAt(buf[:], off); n != entrySize {
		return dirEntry{}, false
	}

	return unmarshalEntry(buf[:]), true
}

// Write the entry record at the given byte offset. Returns false on a short
// write.
//
// LOCKS_REQUIRED(d.in)
func (d *Directory) writeEntry(off int64, e dirEntry) bool {
	var buf [entrySize]byte
	e.marshal(buf[:])

	return d.in.WriteAt(buf[:], off) == entrySize
}
