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
	"strings"
	"time"

	"github.com/jacobsa/diskfs/blockdev"
	"github.com/jacobsa/diskfs/cache"
	"github.com/jacobsa/diskfs/directory"
	"github.com/jacobsa/diskfs/freemap"
	"github.com/jacobsa/diskfs/inode"
	"github.com/jacobsa/diskfs/internal/logger"
	"github.com/jacobsa/timeutil"
)

const (
	// The sector holding the free map's inode.
	FreeMapSector blockdev.SectorID = 0

	// The sector holding the root directory's inode.
	RootDirSector blockdev.SectorID = 1
)

// Config governs Mount.
type Config struct {
	// The device to lay the file system over.
	Device blockdev.Device

	// Whether to format the device first, rebuilding the free map and the
	// root directory. Mounting a device that has never been formatted fails.
	Format bool

	// Defaults to the real clock if nil.
	Clock timeutil.Clock

	// Overrides for the buffer cache's pool size and write-back cadence.
	// Zero values get the cache package's defaults.
	CacheSlots        int
	WriteBackInterval time.Duration
}

// A FileSystem is a mounted file system. Methods taking paths resolve them
// against the root directory; use a Session for relative resolution
// against a working directory. Safe for concurrent access.
//
// Call Shutdown before discarding, or dirty state may not reach the
// device.
type FileSystem struct {
	dev     blockdev.Device
	cache   *cache.Cache
	table   *inode.Table
	freeMap *freemap.Map

	// An open handle on the free map's backing file, held for the life of
	// the mount.
	freeMapFile *File
}

// Mount a file system over the device described by the config.
func Mount(cfg Config) (fs *FileSystem, err error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("config has no device")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock()
	}

	c := cache.New(cache.Config{
		Device:            cfg.Device,
		Clock:             clock,
		Slots:             cfg.CacheSlots,
		WriteBackInterval: cfg.WriteBackInterval,
	})

	fm := freemap.New(cfg.Device.SectorCount(), FreeMapSector, RootDirSector)

	fs = &FileSystem{
		dev:     cfg.Device,
		cache:   c,
		table:   inode.NewTable(c, fm, clock),
		freeMap: fm,
	}

	defer func() {
		if err != nil {
			c.Stop()
		}
	}()

	if cfg.Format {
		if err = fs.format(); err != nil {
			return nil, fmt.Errorf("format: %w", err)
		}
	}

	// Check that the root directory looks like one before trusting the rest
	// of the metadata.
	root := fs.table.Open(RootDirSector)
	isDir := root.IsDir()
	root.Close()

	if !isDir {
		return nil, fmt.Errorf("device does not contain a file system")
	}

	fs.freeMapFile = newFile(fs, fs.table.Open(FreeMapSector))

	if !cfg.Format {
		if err = fs.freeMap.ReadFrom(fs.freeMapFile); err != nil {
			fs.freeMapFile.Close()
			return nil, fmt.Errorf("reading free map: %w", err)
		}
	}

	// Make sure the root carries its reserved entries. A no-op on a
	// well-formed image.
	root = fs.table.Open(RootDirSector)
	err = directory.New(fs.table, root).InstallDots(RootDirSector)
	root.Close()

	if err != nil {
		fs.freeMapFile.Close()
		return nil, fmt.Errorf("initializing root: %w", err)
	}

	logger.Infof(
		"diskfs: mounted device of %d sectors, %d free",
		cfg.Device.SectorCount(),
		fs.freeMap.CountFree())

	return fs, nil
}

// Build a fresh file system: a free map file at FreeMapSector and an empty
// root directory at RootDirSector.
func (fs *FileSystem) format() error {
	fs.table.Create(FreeMapSector, fs.freeMap.ByteLen(), false)
	fs.table.Create(RootDirSector, 0, true)

	root := fs.table.Open(RootDirSector)
	err := directory.New(fs.table, root).InstallDots(RootDirSector)
	root.Close()

	if err != nil {
		return err
	}

	// Persist the bitmap. The first pass allocates the bitmap file's own data
	// sectors, mutating the bitmap, so a second pass is needed to write a
	// stable image.
	f := newFile(fs, fs.table.Open(FreeMapSector))
	defer f.Close()

	for i := 0; i < 2; i++ {
		if err := fs.freeMap.WriteTo(f); err != nil {
			return err
		}
	}

	return nil
}

// Flush all dirty state to the device and stop the background workers. The
// caller must close all files and sessions first; the file system must not
// be used afterwards.
func (fs *FileSystem) Shutdown() error {
	err := fs.freeMap.WriteTo(fs.freeMapFile)
	fs.freeMapFile.Close()

	fs.cache.Stop()

	logger.Infof("diskfs: shut down")
	return err
}

// Return the number of free sectors on the device.
func (fs *FileSystem) FreeSectors() int {
	return fs.freeMap.CountFree()
}

// Return a snapshot of the buffer cache's traffic counters.
func (fs *FileSystem) CacheStats() cache.Stats {
	return fs.cache.Stats()
}

////////////////////////////////////////////////////////////////////////
// Namespace operations
////////////////////////////////////////////////////////////////////////

// Create a file of the given initial length at the given path. The length
// is recorded but no data sectors are allocated until the first write, so
// reads of the fresh file return short counts.
func (fs *FileSystem) Create(path string, length int64) error {
	return fs.createAt(RootDirSector, path, length, false)
}

// Create an empty directory at the given path.
func (fs *FileSystem) MkDir(path string) error {
	return fs.createAt(RootDirSector, path, 0, true)
}

// Open the file or directory at the given path. A path with a trailing
// slash must resolve to a directory.
func (fs *FileSystem) Open(path string) (*File, error) {
	return fs.openAt(RootDirSector, path)
}

// Remove the file or directory at the given path. Directories must be
// empty. The target's sectors are released once the last open handle on it
// is closed.
func (fs *FileSystem) Remove(path string) error {
	return fs.removeAt(RootDirSector, path)
}

func (fs *FileSystem) createAt(
	start blockdev.SectorID,
	path string,
	length int64,
	isDir bool) error {
	parent, leaf, err := fs.resolvePath(start, path, true)
	if err != nil {
		return err
	}
	defer parent.Close()

	sector, ok := fs.freeMap.Allocate(1)
	if !ok {
		return ErrNoSpace
	}

	fs.table.Create(sector, length, isDir)

	if isDir {
		child := fs.table.Open(sector)
		err = directory.New(fs.table, child).InstallDots(parent.Sector())
		child.Close()

		if err != nil {
			fs.abandonInode(sector)
			return err
		}
	}

	if err := directory.New(fs.table, parent).Add(leaf, sector); err != nil {
		fs.abandonInode(sector)
		return err
	}

	return nil
}

// Give a never-linked inode and everything it allocated back to the free
// map.
func (fs *FileSystem) abandonInode(sector blockdev.SectorID) {
	in := fs.table.Open(sector)
	in.Remove()
	in.Close()
}

func (fs *FileSystem) openAt(
	start blockdev.SectorID,
	path string) (*File, error) {
	in, _, err := fs.resolvePath(start, path, false)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(path, "/") && !in.IsDir() {
		in.Close()
		return nil, ErrNotADirectory
	}

	return newFile(fs, in), nil
}

func (fs *FileSystem) removeAt(start blockdev.SectorID, path string) error {
	parent, leaf, err := fs.resolvePath(start, path, true)
	if err != nil {
		return err
	}
	defer parent.Close()

	return directory.New(fs.table, parent).Remove(leaf)
}
