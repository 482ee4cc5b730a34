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
	"strings"

	"github.com/jacobsa/diskfs/blockdev"
	"github.com/jacobsa/diskfs/directory"
	"github.com/jacobsa/diskfs/inode"
)

// Resolve a path to an open inode reference, walking component by
// component. Absolute paths start at the root directory; relative paths
// start at the given sector. Consecutive slashes collapse.
//
// With wantParent set, resolution stops at the penultimate component,
// returning the directory that would contain the final one along with that
// final component as leaf. Otherwise the fully resolved inode is returned
// and leaf is empty.
//
// At most one directory reference is held at a time: each directory's
// reference is dropped before its child's is taken. Resolution fails if a
// traversed directory has been removed.
func (fs *FileSystem) resolvePath(
	start blockdev.SectorID,
	path string,
	wantParent bool) (in *inode.Inode, leaf string, err error) {
	if path == "" {
		return nil, "", ErrInvalidName
	}

	cur := fs.table.Open(start)
	if strings.HasPrefix(path, "/") {
		cur.Close()
		cur = fs.table.Open(RootDirSector)
	}

	rest := path
	for {
		rest = strings.TrimLeft(rest, "/")
		if rest == "" {
			if wantParent {
				// The path named no components, e.g. "/"; there is no leaf for
				// the caller to act on.
				cur.Close()
				return nil, "", ErrInvalidName
			}

			return cur, "", nil
		}

		var comp string
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			comp, rest = rest[:i], rest[i:]
		} else {
			comp, rest = rest, ""
		}

		if len(comp) > directory.NameMax {
			cur.Close()
			return nil, "", ErrNameTooLong
		}

		if cur.Removed() {
			cur.Close()
			return nil, "", ErrNotFound
		}

		if !cur.IsDir() {
			cur.Close()
			return nil, "", ErrNotADirectory
		}

		if wantParent && strings.TrimLeft(rest, "/") == "" {
			return cur, comp, nil
		}

		sector, ok := directory.New(fs.table, cur).Lookup(comp)
		cur.Close()

		if !ok {
			return nil, "", ErrNotFound
		}

		cur = fs.table.Open(sector)
	}
}
