// Copyright 2019 The zbdba Authors
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

package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbtools/pagetracker/track/bitmapfile"
)

func newIdleTracker(dir string) *Tracker {
	return New(Options{
		Dir:    dir,
		Redo:   fakeRedo{},
		Parser: fakeParser{},
		Spaces: fakeSpaces{},
		Clock:  fakeClock{},
		Sink:   &fakeSink{},
	})
}

func TestPurgeDeletesOnlyFilesFullyBeforeLSN(t *testing.T) {
	dir := t.TempDir()
	writeCleanBatch(t, dir, 1, 0, 1000)
	writeCleanBatch(t, dir, 2, 1000, 2000)
	writeCleanBatch(t, dir, 3, 2000, 3000)
	writeCleanBatch(t, dir, 4, 3000, 4000)

	tr := newIdleTracker(dir)
	require.NoError(t, tr.Purge(1500))

	_, err := os.Stat(filepath.Join(dir, bitmapfile.FileName(1, 0)))
	require.True(t, os.IsNotExist(err), "file starting before 1500 with a successor also before 1500 must be purged")

	for _, seq := range []uint64{2, 3, 4} {
		_, err := os.Stat(filepath.Join(dir, bitmapfile.FileName(seq, startLSNFor(seq))))
		require.NoError(t, err)
	}
}

func startLSNFor(seq uint64) uint64 {
	switch seq {
	case 1:
		return 0
	case 2:
		return 1000
	case 3:
		return 2000
	case 4:
		return 3000
	}
	return 0
}

func TestPurgeNeverDeletesTheOpenFile(t *testing.T) {
	dir := t.TempDir()
	writeCleanBatch(t, dir, 1, 0, 1000)
	writeCleanBatch(t, dir, 2, 1000, 2000)

	tr := newIdleTracker(dir)
	// Reopen (don't recreate) the already-written file as the tracker's
	// current writer, matching what Init would have done on resume.
	reopened, err := bitmapfile.OpenForAppend(dir, 2, 1000, 0, 4096)
	require.NoError(t, err)
	tr.writer = reopened
	defer reopened.Close()

	require.NoError(t, tr.Purge(1999))

	_, err = os.Stat(filepath.Join(dir, bitmapfile.FileName(2, 1000)))
	require.NoError(t, err, "the currently open file must never be purged")
}

func TestPurgeZeroDeletesEverythingAndResetsSequence(t *testing.T) {
	dir := t.TempDir()
	writeCleanBatch(t, dir, 1, 0, 1000)
	writeCleanBatch(t, dir, 2, 1000, 2000)

	tr := newIdleTracker(dir)
	require.NoError(t, tr.Purge(0))

	files, err := bitmapfile.ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.EqualValues(t, 1, files[0].Seq)
}

// TestPurgeZeroNamesNewFileAtLSNZero guards against resetting the new
// file's name to the tracker's in-flight progress LSN instead of 0: a
// tracker that has already advanced well past its first bitmap file must
// still produce a 1_0 file after a full purge, exactly like a tracker
// that never tracked anything.
func TestPurgeZeroNamesNewFileAtLSNZero(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	tr := New(newOpts(dir, 5000, 1<<40, sink))
	require.NoError(t, tr.Init())
	require.EqualValues(t, 5000, tr.TrackedLSN())

	require.NoError(t, tr.Purge(0))

	_, err := os.Stat(filepath.Join(dir, bitmapfile.FileName(1, 0)))
	require.NoError(t, err, "purge must reset the new file's start_lsn to 0, not the tracker's progress LSN")

	files, err := bitmapfile.ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.EqualValues(t, 1, files[0].Seq)
	require.EqualValues(t, 0, files[0].StartLSN)
}
