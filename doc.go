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

// Package diskfs implements an educational on-disk file system over a
// sector-addressed block device.
//
// The primary elements of interest are:
//
//   - Mount, which initializes a file system over a blockdev.Device,
//     optionally formatting it first.
//
//   - The FileSystem type, whose Create, MkDir, Open, and Remove methods
//     operate on paths, and whose Shutdown flushes all dirty state.
//
//   - The Session type, which carries a working directory for relative
//     path resolution.
//
//   - The File type, an open handle with a position cursor.
//
// Underneath sit three subsystems: a fixed-size write-back buffer cache
// through which every sector access flows (package cache), indexed
// allocation inodes with direct, single-indirect, and double-indirect
// pointers (package inode), and a hierarchical directory namespace
// (package directory). There is no journaling: durability is best-effort,
// via periodic write-back and the flush at Shutdown.
package diskfs
