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

package directory

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jacobsa/diskfs/blockdev"
)

// The on-disk size of one directory entry record:
//
//	bytes [0, 4):   inode sector, little-endian uint32
//	bytes [4, 19):  name, null-terminated
//	byte  19:       1 if the slot is in use, else 0
const entrySize = 20

type dirEntry struct {
	sector blockdev.SectorID

	// INVARIANT: len(name) <= NameMax
	name string

	inUse bool
}

func (e *dirEntry) marshal(p []byte) {
	if len(e.name) > NameMax {
		panic(fmt.Sprintf("name of length %d", len(e.name)))
	}

	binary.LittleEndian.PutUint32(p[0:], uint32(e.sector))

	nameField := p[4 : 4+NameMax+1]
	clear(nameField)
	copy(nameField, e.name)

	if e.inUse {
		p[19] = 1
	} else {
		p[19] = 0
	}
}

func unmarshalEntry(p []byte) (e dirEntry) {
	e.sector = blockdev.SectorID(binary.LittleEndian.Uint32(p[0:]))

	nameField := p[4 : 4+NameMax+1]
	if i := bytes.IndexByte(nameField, 0); i >= 0 {
		nameField = nameField[:i]
	}
	e.name = string(nameField)

	e.inUse = p[19] != 0
	return
}
