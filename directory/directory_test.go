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

package directory_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jacobsa/diskfs/blockdev"
	"github.com/jacobsa/diskfs/cache"
	"github.com/jacobsa/diskfs/directory"
	"github.com/jacobsa/diskfs/freemap"
	"github.com/jacobsa/diskfs/inode"
	. "github.com/jacobsa/ogletest"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/kylelemons/godebug/pretty"
)

func TestDirectory(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

const deviceSectors = 1 << 12

type DirectoryTest struct {
	cache *cache.Cache
	fm    *freemap.Map
	table *inode.Table

	// A fresh directory with "." and ".." installed, its own sector as
	// parent.
	dir *directory.Directory
}

var _ SetUpInterface = &DirectoryTest{}
var _ TearDownInterface = &DirectoryTest{}

func init() { RegisterTestSuite(&DirectoryTest{}) }

func (t *DirectoryTest) SetUp(ti *TestInfo) {
	syncutil.EnableInvariantChecking()

	t.cache = cache.New(cache.Config{
		Device:            blockdev.NewMemDevice(deviceSectors),
		WriteBackInterval: time.Hour,
	})

	t.fm = freemap.New(deviceSectors, 0, 1)
	t.table = inode.NewTable(t.cache, t.fm, timeutil.RealClock())

	t.dir = t.mkDir()
	AssertEq(nil, t.dir.InstallDots(t.dir.Inode().Sector()))
}

func (t *DirectoryTest) TearDown() {
	t.dir.Inode().Close()
	t.cache.Stop()
}

// Create an empty directory inode and wrap it, without reserved entries.
func (t *DirectoryTest) mkDir() *directory.Directory {
	sector, ok := t.fm.Allocate(1)
	AssertTrue(ok)

	t.table.Create(sector, 0, true)
	return directory.New(t.table, t.table.Open(sector))
}

// Allocate a sector to stand in for a file inode.
func (t *DirectoryTest) mkFileSector() blockdev.SectorID {
	sector, ok := t.fm.Allocate(1)
	AssertTrue(ok)

	t.table.Create(sector, 0, false)
	return sector
}

// Collect all names yielded by iterating from the start.
func listNames(d *directory.Directory) (names []string) {
	var pos int64
	for {
		name, ok := d.ReadDir(&pos)
		if !ok {
			return
		}

		names = append(names, name)
	}
}

////////////////////////////////////////////////////////////////////////
// Test functions
////////////////////////////////////////////////////////////////////////

func (t *DirectoryTest) LookupInEmptyDirectory() {
	_, found := t.dir.Lookup("taco")
	ExpectFalse(found)
}

func (t *DirectoryTest) AddThenLookup() {
	sector := t.mkFileSector()
	AssertEq(nil, t.dir.Add("taco", sector))

	got, found := t.dir.Lookup("taco")
	AssertTrue(found)
	ExpectEq(sector, got)
}

func (t *DirectoryTest) LookupFindsDots() {
	got, found := t.dir.Lookup(directory.SelfName)
	AssertTrue(found)
	ExpectEq(t.dir.Inode().Sector(), got)

	got, found = t.dir.Lookup(directory.ParentName)
	AssertTrue(found)
	ExpectEq(t.dir.Inode().Sector(), got)
}

func (t *DirectoryTest) AddRejectsDuplicates() {
	AssertEq(nil, t.dir.Add("taco", t.mkFileSector()))

	err := t.dir.Add("taco", t.mkFileSector())
	ExpectTrue(errors.Is(err, directory.ErrExists))
}

func (t *DirectoryTest) AddRejectsEmptyName() {
	err := t.dir.Add("", t.mkFileSector())
	ExpectTrue(errors.Is(err, directory.ErrInvalidName))
}

func (t *DirectoryTest) AddRejectsLongName() {
	name := strings.Repeat("a", directory.NameMax+1)

	err := t.dir.Add(name, t.mkFileSector())
	ExpectTrue(errors.Is(err, directory.ErrNameTooLong))
}

func (t *DirectoryTest) NameOfMaximumLengthRoundTrips() {
	name := strings.Repeat("a", directory.NameMax)
	sector := t.mkFileSector()

	AssertEq(nil, t.dir.Add(name, sector))

	got, found := t.dir.Lookup(name)
	AssertTrue(found)
	ExpectEq(sector, got)

	ExpectEq("", pretty.Compare([]string{name}, listNames(t.dir)))
}

func (t *DirectoryTest) RemoveThenLookup() {
	AssertEq(nil, t.dir.Add("taco", t.mkFileSector()))
	AssertEq(nil, t.dir.Remove("taco"))

	_, found := t.dir.Lookup("taco")
	ExpectFalse(found)
}

func (t *DirectoryTest) RemoveMissingName() {
	err := t.dir.Remove("taco")
	ExpectTrue(errors.Is(err, directory.ErrNotFound))
}

func (t *DirectoryTest) RemoveRejectsDots() {
	ExpectTrue(errors.Is(t.dir.Remove(directory.SelfName), directory.ErrInvalidName))
	ExpectTrue(errors.Is(t.dir.Remove(directory.ParentName), directory.ErrInvalidName))
}

func (t *DirectoryTest) RemoveReleasesTargetSectors() {
	free := t.fm.CountFree()

	sector := t.mkFileSector()
	AssertEq(nil, t.dir.Add("taco", sector))
	AssertEq(nil, t.dir.Remove("taco"))

	ExpectEq(free, t.fm.CountFree())
}

func (t *DirectoryTest) RemoveNonEmptyDirectory() {
	child := t.mkDir()
	childSector := child.Inode().Sector()
	AssertEq(nil, child.InstallDots(t.dir.Inode().Sector()))
	AssertEq(nil, t.dir.Add("sub", childSector))

	AssertEq(nil, child.Add("taco", t.mkFileSector()))
	child.Inode().Close()

	err := t.dir.Remove("sub")
	ExpectTrue(errors.Is(err, directory.ErrNotEmpty))

	// Emptied out, it can go.
	in := t.table.Open(childSector)
	child = directory.New(t.table, in)
	AssertEq(nil, child.Remove("taco"))
	in.Close()

	ExpectEq(nil, t.dir.Remove("sub"))
}

func (t *DirectoryTest) DotsDoNotMakeADirectoryNonEmpty() {
	ExpectTrue(t.dir.IsEmpty())

	AssertEq(nil, t.dir.Add("taco", t.mkFileSector()))
	ExpectFalse(t.dir.IsEmpty())

	AssertEq(nil, t.dir.Remove("taco"))
	ExpectTrue(t.dir.IsEmpty())
}

func (t *DirectoryTest) ReadDirSkipsDotsAndFreeSlots() {
	AssertEq(nil, t.dir.Add("taco", t.mkFileSector()))
	AssertEq(nil, t.dir.Add("burrito", t.mkFileSector()))
	AssertEq(nil, t.dir.Add("enchilada", t.mkFileSector()))

	AssertEq(nil, t.dir.Remove("burrito"))

	ExpectEq(
		"",
		pretty.Compare([]string{"taco", "enchilada"}, listNames(t.dir)))
}

func (t *DirectoryTest) AddReusesFreeSlots() {
	AssertEq(nil, t.dir.Add("taco", t.mkFileSector()))
	AssertEq(nil, t.dir.Add("burrito", t.mkFileSector()))

	lengthBefore := func() int64 {
		in := t.dir.Inode()
		in.Lock()
		defer in.Unlock()
		return in.Length()
	}()

	// Removing and adding again must not grow the directory file.
	AssertEq(nil, t.dir.Remove("taco"))
	AssertEq(nil, t.dir.Add("quesadilla", t.mkFileSector()))

	in := t.dir.Inode()
	in.Lock()
	ExpectEq(lengthBefore, in.Length())
	in.Unlock()

	// The recycled slot keeps the original ordering position.
	ExpectEq(
		"",
		pretty.Compare([]string{"quesadilla", "burrito"}, listNames(t.dir)))
}

func (t *DirectoryTest) InstallDotsIsIdempotent() {
	AssertEq(nil, t.dir.InstallDots(t.dir.Inode().Sector()))

	ExpectEq("", pretty.Compare([]string{}, listNames(t.dir)))
	ExpectTrue(t.dir.IsEmpty())
}

func (t *DirectoryTest) ManyEntriesSpanSectors() {
	// Enough entries to spill the directory file across several sectors.
	const n = 100

	var want []string
	for i := 0; i < n; i++ {
		name := "f" + strings.Repeat("x", i%8) + string(rune('a'+i%26))

		sector := t.mkFileSector()
		if err := t.dir.Add(name, sector); errors.Is(err, directory.ErrExists) {
			continue
		} else {
			AssertEq(nil, err)
		}

		want = append(want, name)

		got, found := t.dir.Lookup(name)
		AssertTrue(found, "name %q", name)
		AssertEq(sector, got, "name %q", name)
	}

	ExpectEq("", pretty.Compare(want, listNames(t.dir)))
}
