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
	"os"

	"github.com/pkg/errors"

	"github.com/dbtools/pagetracker/track/bitmap"
	"github.com/dbtools/pagetracker/track/logs"
	"github.com/dbtools/pagetracker/track/trackerr"
)

// Reader opens one bitmap file read-only for sequential consumption by
// the iterator or by recovery's backward scan.
//
// TODO: advise the OS for sequential, no-reuse access (posix_fadvise
// SEQUENTIAL|NOREUSE on the original) once a build-tagged syscall wrapper
// is worth the platform-specific code; today this is a plain *os.File.
type Reader struct {
	file *os.File
	path string
	size int64
}

// Open opens path read-only and reports (via a warning, not an error) if
// its size is not a multiple of the block size.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open bitmap file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat bitmap file")
	}
	size := info.Size()
	if size%bitmap.BlockSize != 0 {
		logs.Warn("bitmap file size is not a multiple of block size", path, size)
	}
	return &Reader{file: f, path: path, size: size}, nil
}

// Size returns the file size observed at open time.
func (r *Reader) Size() int64 { return r.size }

// NumBlocks returns how many whole blocks the file holds.
func (r *Reader) NumBlocks() int64 { return r.size / bitmap.BlockSize }

// ReadBlock reads the block at index idx (0-based) and reports whether its
// checksum verified. A checksum failure is not an error: ReadBlock logs a
// warning and the caller skips the block. Reading past the last whole block returns
// io.EOF.
func (r *Reader) ReadBlock(idx int64) (*bitmap.Block, bool, error) {
	offset := idx * bitmap.BlockSize
	if offset+bitmap.BlockSize > r.size {
		return nil, false, io.EOF
	}

	buf := make([]byte, bitmap.BlockSize)
	if _, err := r.file.ReadAt(buf, offset); err != nil {
		return nil, false, errors.Wrapf(trackerr.ErrBitmapReadError, "read block %d of %s: %v", idx, r.path, err)
	}

	block, ok := bitmap.Decode(buf)
	if !ok {
		logs.Warn("bitmap block checksum mismatch", r.path, idx)
	}
	return block, ok, nil
}

// WarnIfTailIncomplete logs a warning if the last whole block in the file
// is not marked IsLastBlock, which would mean the file was torn mid-batch
// and never got a clean trailing write.
func (r *Reader) WarnIfTailIncomplete() {
	n := r.NumBlocks()
	if n == 0 {
		return
	}
	block, ok, err := r.ReadBlock(n - 1)
	if err != nil || !ok {
		logs.Warn("bitmap file tail block unreadable or corrupt", r.path)
		return
	}
	if !block.IsLastBlock {
		logs.Warn("bitmap file tail block is not marked as the last of its batch", r.path)
	}
}

// Close closes the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}
