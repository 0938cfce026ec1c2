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
	"io"
	"path/filepath"

	"github.com/dbtools/pagetracker/track/bitmap"
)

// Advance is one reported change from the iterator.
type Advance struct {
	StartLSN uint64
	EndLSN   uint64
	SpaceID  uint32
	PageNo   uint32
}

// Iterator walks every set bit across the bitmap files covering an LSN
// range, in ascending (file, block, bit) order. It never takes the
// tracker's mutex: it only reads files the writer has already closed, or
// reads the current file through an independent read-only handle, both of
// which are safe because closed files are immutable.
type Iterator struct {
	dir   string
	files []*FileInfo
	hiLSN uint64

	fileIdx  int
	reader   *Reader
	blockIdx int64
	block    *bitmap.Block
	bitPos   uint32

	lastBlockWasFinal bool
	done              bool
}

// NewIterator resolves the file range for [loLSN, hiLSN) and positions the
// iterator before its first bit.
func NewIterator(dir string, loLSN, hiLSN uint64) (*Iterator, error) {
	slots, err := ResolveRange(dir, loLSN, hiLSN)
	if err != nil {
		return nil, err
	}

	files := make([]*FileInfo, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			files = append(files, s)
		}
	}

	it := &Iterator{dir: dir, files: files, hiLSN: hiLSN}
	if len(files) == 0 {
		it.done = true
		return it, nil
	}
	if err := it.openFile(0); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) openFile(idx int) error {
	r, err := Open(filepath.Join(it.dir, it.files[idx].Name))
	if err != nil {
		return err
	}
	it.reader = r
	it.fileIdx = idx
	it.blockIdx = -1
	it.block = nil
	return nil
}

// loadNextBlock advances to the next non-corrupt block, within the
// current file or, once it is exhausted, the next file. Returns false
// when there is nothing left to load.
func (it *Iterator) loadNextBlock() (bool, error) {
	for {
		it.blockIdx++
		if it.blockIdx >= it.reader.NumBlocks() {
			it.reader.Close()
			if it.fileIdx+1 >= len(it.files) {
				return false, nil
			}
			if err := it.openFile(it.fileIdx + 1); err != nil {
				return false, err
			}
			continue
		}

		block, ok, err := it.reader.ReadBlock(it.blockIdx)
		if err == io.EOF {
			continue
		}
		if err != nil {
			return false, err
		}
		if !ok {
			// already warned by ReadBlock; skip and keep scanning
			continue
		}

		it.block = block
		it.bitPos = 0
		it.lastBlockWasFinal = block.IsLastBlock
		return true, nil
	}
}

// Next advances to the next set bit and reports it. The second return
// value is false once the iterator has passed hiLSN on a batch-final
// block, or has exhausted every file in range.
func (it *Iterator) Next() (Advance, bool, error) {
	for !it.done {
		if it.block == nil {
			more, err := it.loadNextBlock()
			if err != nil {
				return Advance{}, false, err
			}
			if !more {
				it.done = true
				break
			}
		}

		for it.bitPos < bitmap.BitmapBits {
			pos := it.bitPos
			it.bitPos++
			if it.block.Bitmap[pos/8]&(1<<(pos%8)) == 0 {
				continue
			}
			adv := Advance{
				StartLSN: it.block.StartLSN,
				EndLSN:   it.block.EndLSN,
				SpaceID:  it.block.SpaceID,
				PageNo:   it.block.FirstPageID + uint32(pos),
			}
			return adv, true, nil
		}

		// block exhausted
		if it.block.EndLSN >= it.hiLSN && it.lastBlockWasFinal {
			it.done = true
			break
		}
		it.block = nil
	}
	return Advance{}, false, nil
}

// Close releases the currently open file handle, if any.
func (it *Iterator) Close() error {
	if it.reader != nil {
		return it.reader.Close()
	}
	return nil
}
