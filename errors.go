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
	"errors"

	"github.com/jacobsa/diskfs/directory"
)

var (
	// Errors surfaced by the namespace layer. These may be treated specially
	// by callers; match with errors.Is.
	ErrNotFound    = directory.ErrNotFound
	ErrExists      = directory.ErrExists
	ErrNameTooLong = directory.ErrNameTooLong
	ErrInvalidName = directory.ErrInvalidName
	ErrNotEmpty    = directory.ErrNotEmpty
	ErrNoSpace     = directory.ErrNoSpace

	// Returned when a path with a trailing slash resolves to a file, and
	// when a non-final path component is not a directory.
	ErrNotADirectory = errors.New("not a directory")
)
