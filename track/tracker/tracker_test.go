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
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbtools/pagetracker/track/bitmap"
	"github.com/dbtools/pagetracker/track/bitmapfile"
	"github.com/dbtools/pagetracker/track/external"
)

type fakeParser struct{}

func (fakeParser) ParseLogRecord([]byte) (external.ParsedRecord, external.ParseStatus) {
	return external.ParsedRecord{}, external.StatusIncomplete
}

type fakeSpaces struct{}

func (fakeSpaces) SpacePageCount(uint32) (uint32, error) { return 0, nil }

type fakeClock struct {
	checkpoint uint64
	capacity   uint64
}

func (c fakeClock) LastCheckpointLSN() (uint64, error) { return c.checkpoint, nil }
func (c fakeClock) LogGroupCapacity() (uint64, error)  { return c.capacity, nil }

type fakeSink struct{ lsn uint64 }

func (s *fakeSink) SetTrackedLSN(lsn uint64) { s.lsn = lsn }

// fakeRedo reports every block in range as all-zero, so Follow consumes
// no records and simply advances straight to the checkpoint.
type fakeRedo struct{}

func (fakeRedo) ReadLogSegment(ctx context.Context, buf []byte, startLSN, endLSN uint64) (int, error) {
	n := 0
	for lsn := startLSN; lsn+512 <= endLSN; lsn += 512 {
		for i := range buf[n : n+512] {
			buf[n+i] = 0
		}
		n += 512
	}
	return n, nil
}

func newOpts(dir string, checkpoint, capacity uint64, sink *fakeSink) Options {
	return Options{
		Dir:         dir,
		MaxFileSize: 0,
		Redo:        fakeRedo{},
		Parser:      fakeParser{},
		Spaces:      fakeSpaces{},
		Clock:       fakeClock{checkpoint: checkpoint, capacity: capacity},
		Sink:        sink,
	}
}

func TestInitNoFilesStartsFresh(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	tr := New(newOpts(dir, 1000, 1<<40, sink))
	require.NoError(t, tr.Init())
	require.EqualValues(t, 1000, tr.TrackedLSN())
	require.EqualValues(t, 1000, sink.lsn)

	_, err := os.Stat(filepath.Join(dir, bitmapfile.FileName(1, 1000)))
	require.NoError(t, err)
}

func writeCleanBatch(t *testing.T, dir string, seq, startLSN, endLSN uint64) {
	t.Helper()
	w := bitmapfile.NewWriter(dir, seq, 0)
	require.NoError(t, w.Open(startLSN))
	b := &bitmap.Block{StartLSN: startLSN, EndLSN: endLSN, IsLastBlock: true}
	b.SetBit(1)
	require.NoError(t, w.Append(b))
	require.NoError(t, w.Close())
}

func TestInitResumesCleanLatestFile(t *testing.T) {
	dir := t.TempDir()
	writeCleanBatch(t, dir, 1, 0, 500)

	sink := &fakeSink{}
	tr := New(newOpts(dir, 500, 1<<40, sink))
	require.NoError(t, tr.Init())
	require.EqualValues(t, 500, tr.TrackedLSN())
}

func TestInitTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	writeCleanBatch(t, dir, 1, 0, 500)

	path := filepath.Join(dir, bitmapfile.FileName(1, 0))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 100)) // partial next block
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, bitmap.BlockSize+100, info.Size())

	sink := &fakeSink{}
	tr := New(newOpts(dir, 500, 1<<40, sink))
	require.NoError(t, tr.Init())
	require.EqualValues(t, 500, tr.TrackedLSN())

	info, err = os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, bitmap.BlockSize, info.Size())
}

func TestInitGapTooLargeRestartsFresh(t *testing.T) {
	dir := t.TempDir()
	writeCleanBatch(t, dir, 1, 0, 500)

	sink := &fakeSink{}
	tr := New(newOpts(dir, 1000, 10, sink)) // capacity 10, gap 500
	require.NoError(t, tr.Init())
	require.EqualValues(t, 1000, tr.TrackedLSN())

	_, err := os.Stat(filepath.Join(dir, bitmapfile.FileName(2, 1000)))
	require.NoError(t, err)
}

func TestInitGapRecoverableClosesGapBeforeResuming(t *testing.T) {
	dir := t.TempDir()
	writeCleanBatch(t, dir, 1, 0, 500)

	sink := &fakeSink{}
	tr := New(newOpts(dir, 600, 1<<40, sink)) // capacity large, gap 100
	require.NoError(t, tr.Init())
	require.EqualValues(t, 600, tr.TrackedLSN())

	r, err := bitmapfile.Open(filepath.Join(dir, bitmapfile.FileName(2, 500)))
	require.NoError(t, err)
	defer r.Close()
	require.EqualValues(t, 0, r.NumBlocks(), "gap had no real records, nothing flushed")
}

func TestInitUnusableLatestFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, bitmapfile.FileName(1, 0))
	require.NoError(t, os.WriteFile(path, make([]byte, bitmap.BlockSize), 0644)) // all-zero block, no IsLastBlock

	sink := &fakeSink{}
	tr := New(newOpts(dir, 1000, 1<<40, sink))
	require.NoError(t, tr.Init())
	require.EqualValues(t, 1000, tr.TrackedLSN())

	_, err := os.Stat(filepath.Join(dir, bitmapfile.FileName(1, 1000)))
	require.NoError(t, err)
}

// recordParser and recordRedo produce one real page-bearing record so a
// follow cycle actually reaches Writer.Append, to exercise the
// write-error path below.
type recordParser struct{}

func (recordParser) ParseLogRecord(buf []byte) (external.ParsedRecord, external.ParseStatus) {
	if len(buf) < 9 {
		return external.ParsedRecord{}, external.StatusIncomplete
	}
	return external.ParsedRecord{Type: external.MlogRecInsert, SpaceID: 1, PageNo: 1, HasPage: true, LengthConsumed: 9}, external.StatusOK
}

type mutableClock struct {
	checkpoint uint64
	capacity   uint64
}

func (c *mutableClock) LastCheckpointLSN() (uint64, error) { return c.checkpoint, nil }
func (c *mutableClock) LogGroupCapacity() (uint64, error)  { return c.capacity, nil }

type recordRedo struct{}

func (recordRedo) ReadLogSegment(ctx context.Context, buf []byte, startLSN, endLSN uint64) (int, error) {
	n := 0
	for lsn := startLSN; lsn+512 <= endLSN; lsn += 512 {
		block := buf[n : n+512]
		for i := range block {
			block[i] = 0
		}
		copy(block[12:], []byte{external.MlogRecInsert, 0, 0, 0, 1, 0, 0, 0, 1})
		binary.BigEndian.PutUint32(block[508:], logBlockChecksum(block))
		n += 512
	}
	return n, nil
}

// logBlockChecksum is the follower's redo log block checksum (the rolling
// additive-shift sum over the first 508 bytes), so recordRedo's blocks pass
// validation.
func logBlockChecksum(block []byte) uint32 {
	var sum uint32 = 1
	var sh uint32
	for _, b := range block[:508] {
		sum &= 0x7FFFFFFF
		sum += uint32(b)
		sum += uint32(b) << sh
		if sh < 24 {
			sh++
		} else {
			sh = 0
		}
	}
	return sum
}

func TestFollowOnceDisablesTrackingOnWriteError(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{}
	clock := &mutableClock{checkpoint: 0, capacity: 1 << 40}

	tr := New(Options{
		Dir:    dir,
		Redo:   recordRedo{},
		Parser: recordParser{},
		Spaces: fakeSpaces{},
		Clock:  clock,
		Sink:   sink,
	})
	require.NoError(t, tr.Init())
	require.True(t, tr.Enabled())

	require.NoError(t, tr.writer.Close())
	clock.checkpoint = 512

	_, err := tr.FollowOnce(context.Background())
	require.Error(t, err)
	require.False(t, tr.Enabled())
}
