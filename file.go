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

package diskfs

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jacobsa/diskfs/blockdev"
	"github.com/jacobsa/diskfs/directory"
	"github.com/jacobsa/diskfs/inode"
)

// A File is an open handle on an inode, carrying a position cursor for
// Read, Write, and ReadDir. Multiple handles may be open on one inode;
// each has its own cursor. Safe for concurrent use.
//
// Reads and writes return short counts rather than errors: end of file,
// holes, a full device, the file size ceiling, and denied writes all
// surface as fewer bytes than requested.
type File struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	fs *FileSystem
	in *inode.Inode

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu sync.Mutex

	// The cursor used by Read, Write, and ReadDir.
	//
	// INVARIANT: pos >= 0
	//
	// GUARDED_BY(mu)
	pos int64

	// Whether this handle holds a write denial on the inode.
	//
	// GUARDED_BY(mu)
	denying bool

	// GUARDED_BY(mu)
	closed bool
}

// FileInfo describes an open file at a point in time.
type FileInfo struct {
	Sector blockdev.SectorID
	Length int64
	IsDir  bool
	Mtime  time.Time
	Atime  time.Time
}

func newFile(fs *FileSystem, in *inode.Inode) *File {
	return &File{
		fs: fs,
		in: in,
	}
}

// Return the underlying inode. Two handles on the same path share one.
func (f *File) Inode() *inode.Inode {
	return f.in
}

// Read up to len(p) bytes at the given offset, without moving the cursor.
func (f *File) ReadAt(p []byte, off int64) (n int) {
	f.in.Lock()
	defer f.in.Unlock()

	return f.in.ReadAt(p, off)
}

// Write len(p) bytes at the given offset, without moving the cursor.
func (f *File) WriteAt(p []byte, off int64) (n int) {
	f.in.Lock()
	defer f.in.Unlock()

	return f.in.WriteAt(p, off)
}

// Read up to len(p) bytes at the cursor, advancing it by the amount read.
func (f *File) Read(p []byte) (n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n = f.ReadAt(p, f.pos)
	f.pos += int64(n)
	return
}

// Write len(p) bytes at the cursor, advancing it by the amount written.
func (f *File) Write(p []byte) (n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n = f.WriteAt(p, f.pos)
	f.pos += int64(n)
	return
}

// Move the cursor, interpreting offset per the io.Seek* constants. The new
// cursor must not be negative; seeking past end of file is legal.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = f.Length()
	default:
		return 0, fmt.Errorf("bad whence: %d", whence)
	}

	if base+offset < 0 {
		return 0, fmt.Errorf("negative position: %d", base+offset)
	}

	f.pos = base + offset
	return f.pos, nil
}

// Return the file's current length.
func (f *File) Length() int64 {
	f.in.Lock()
	defer f.in.Unlock()

	return f.in.Length()
}

// Whether the handle is open on a directory.
func (f *File) IsDir() bool {
	return f.in.IsDir()
}

// Describe the file.
func (f *File) Stat() FileInfo {
	f.in.Lock()
	defer f.in.Unlock()

	mtime, atime := f.in.Times()

	return FileInfo{
		Sector: f.in.Sector(),
		Length: f.in.Length(),
		IsDir:  f.in.IsDir(),
		Mtime:  mtime,
		Atime:  atime,
	}
}

// Yield the name of the next directory entry at the cursor, advancing past
// it. The reserved "." and ".." entries are skipped. Returns false when the
// handle is not a directory or the directory is exhausted.
func (f *File) ReadDir() (name string, ok bool) {
	if !f.in.IsDir() {
		return "", false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return directory.New(f.fs.table, f.in).ReadDir(&f.pos)
}

// Forbid writes to the underlying inode, through any handle, until a
// matching AllowWrite or this handle's Close. Idempotent per handle.
func (f *File) DenyWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denying {
		return
	}

	f.in.DenyWrite()
	f.denying = true
}

// Undo this handle's DenyWrite.
func (f *File) AllowWrite() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.denying {
		return
	}

	f.in.AllowWrite()
	f.denying = false
}

// Release the handle's reference to the inode, dropping any write denial
// it holds. Close is idempotent.
func (f *File) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	if f.denying {
		f.in.AllowWrite()
		f.denying = false
	}

	f.in.Close()
	f.closed = true
}
