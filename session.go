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
	"sync"

	"github.com/jacobsa/diskfs/blockdev"
	"github.com/jacobsa/diskfs/inode"
)

// A Session carries a working directory against which relative paths
// resolve. The working directory inode is held open for the session's
// lifetime, so it stays resolvable even if removed from its parent;
// operations under a removed working directory fail with ErrNotFound.
//
// Safe for concurrent use, though a typical caller is a single logical
// thread of control.
type Session struct {
	fs *FileSystem

	mu sync.Mutex

	// The working directory, held open.
	//
	// INVARIANT: wd.IsDir()
	//
	// GUARDED_BY(mu)
	wd *inode.Inode
}

// Create a session whose working directory is the root.
func (fs *FileSystem) NewSession() *Session {
	return &Session{
		fs: fs,
		wd: fs.table.Open(RootDirSector),
	}
}

// Drop the session's reference to its working directory. The session must
// not be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wd.Close()
	s.wd = nil
}

func (s *Session) cwd() blockdev.SectorID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wd.Sector()
}

// Change the session's working directory.
func (s *Session) Chdir(path string) error {
	in, _, err := s.fs.resolvePath(s.cwd(), path, false)
	if err != nil {
		return err
	}

	if !in.IsDir() {
		in.Close()
		return ErrNotADirectory
	}

	s.mu.Lock()
	old := s.wd
	s.wd = in
	s.mu.Unlock()

	old.Close()
	return nil
}

// Like FileSystem.Create, with relative paths resolved against the working
// directory.
func (s *Session) Create(path string, length int64) error {
	return s.fs.createAt(s.cwd(), path, length, false)
}

// Like FileSystem.MkDir, with relative paths resolved against the working
// directory.
func (s *Session) MkDir(path string) error {
	return s.fs.createAt(s.cwd(), path, 0, true)
}

// Like FileSystem.Open, with relative paths resolved against the working
// directory.
func (s *Session) Open(path string) (*File, error) {
	return s.fs.openAt(s.cwd(), path)
}

// Like FileSystem.Remove, with relative paths resolved against the working
// directory.
func (s *Session) Remove(path string) error {
	return s.fs.removeAt(s.cwd(), path)
}
