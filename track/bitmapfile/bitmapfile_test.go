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

package bitmapfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbtools/pagetracker/track/bitmap"
)

func writeBatch(t *testing.T, dir string, seq, startLSN uint64, blocks []*bitmap.Block) {
	t.Helper()
	w := NewWriter(dir, seq, 0)
	require.NoError(t, w.Open(startLSN))
	for i, b := range blocks {
		b.StartLSN = startLSN
		b.EndLSN = startLSN + 512
		b.IsLastBlock = i == len(blocks)-1
		require.NoError(t, w.Append(b))
	}
	require.NoError(t, w.Close())
}

func TestWriterRejectsNonEmptyExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName(1, 0)), []byte("junk"), 0644))

	w := NewWriter(dir, 1, 0)
	err := w.Open(0)
	require.Error(t, err)
}

func TestWriterOverwritesZeroLengthExisting(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, FileName(1, 0)))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w := NewWriter(dir, 1, 0)
	require.NoError(t, w.Open(0))
	require.NoError(t, w.Close())
}

func TestWriterRotation(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 1, bitmap.BlockSize) // rotate after one block
	require.NoError(t, w.Open(0))
	require.NoError(t, w.Append(&bitmap.Block{IsLastBlock: true}))
	require.True(t, w.NeedsRotation())
	require.NoError(t, w.Rotate(512))
	require.EqualValues(t, 2, w.Seq())

	_, err := os.Stat(filepath.Join(dir, FileName(1, 0)))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, FileName(2, 512)))
	require.NoError(t, err)
}

func TestReaderReadsValidBlock(t *testing.T) {
	dir := t.TempDir()
	b := &bitmap.Block{StartLSN: 1, EndLSN: 2, IsLastBlock: true}
	b.SetBit(5)
	writeBatch(t, dir, 1, 0, []*bitmap.Block{b})

	r, err := Open(filepath.Join(dir, FileName(1, 0)))
	require.NoError(t, err)
	defer r.Close()

	require.EqualValues(t, 1, r.NumBlocks())
	got, ok, err := r.ReadBlock(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.BitSet(5))
}

func TestResolveRangeSimple(t *testing.T) {
	dir := t.TempDir()
	writeBatch(t, dir, 1, 0, []*bitmap.Block{{IsLastBlock: true}})
	writeBatch(t, dir, 2, 1000, []*bitmap.Block{{IsLastBlock: true}})
	writeBatch(t, dir, 3, 2000, []*bitmap.Block{{IsLastBlock: true}})
	writeBatch(t, dir, 4, 3000, []*bitmap.Block{{IsLastBlock: true}})

	slots, err := ResolveRange(dir, 1500, 2500)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	require.NotNil(t, slots[0])
	require.EqualValues(t, 2, slots[0].Seq)
	require.NotNil(t, slots[1])
	require.EqualValues(t, 3, slots[1].Seq)
}

func TestResolveRangeNoFiles(t *testing.T) {
	dir := t.TempDir()
	slots, err := ResolveRange(dir, 0, 100)
	require.NoError(t, err)
	require.Len(t, slots, 0)
}

func TestIteratorAcrossRotation(t *testing.T) {
	dir := t.TempDir()

	mkBlock := func(space, firstPage uint32, bits []uint32, last bool) *bitmap.Block {
		b := &bitmap.Block{SpaceID: space, FirstPageID: firstPage, IsLastBlock: last}
		for _, bit := range bits {
			b.SetBit(firstPage + bit)
		}
		return b
	}

	writeBatch(t, dir, 1, 0, []*bitmap.Block{mkBlock(1, 0, []uint32{0, 1, 2}, true)})
	writeBatch(t, dir, 2, 100, []*bitmap.Block{mkBlock(1, 0, []uint32{3, 4}, true)})
	writeBatch(t, dir, 3, 200, []*bitmap.Block{mkBlock(1, 0, []uint32{5}, true)})

	it, err := NewIterator(dir, 0, 1<<63)
	require.NoError(t, err)
	defer it.Close()

	seen := map[uint32]bool{}
	for {
		adv, more, err := it.Next()
		require.NoError(t, err)
		if !more {
			break
		}
		require.False(t, seen[adv.PageNo], "duplicate page %d", adv.PageNo)
		seen[adv.PageNo] = true
	}
	require.Len(t, seen, 6)
}
