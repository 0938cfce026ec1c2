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

// Package bitmapfile implements the bitmap file writer (C4), reader (C5),
// file range resolver (C6), and forward iterator (C9) — everything that
// deals with bitmap blocks once they are organized into named,
// sequence-numbered files on disk.
package bitmapfile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/dbtools/pagetracker/track/bitmap"
	"github.com/dbtools/pagetracker/track/logs"
	"github.com/dbtools/pagetracker/track/metrics"
	"github.com/dbtools/pagetracker/track/trackerr"
)

const namePrefix = "ib_modified_log_"
const nameSuffix = ".xdb"

var nameRE = regexp.MustCompile(`^ib_modified_log_(\d+)_(\d+)\.xdb$`)

// FileName composes the on-disk name for sequence seq starting at startLSN.
func FileName(seq, startLSN uint64) string {
	return fmt.Sprintf("%s%d_%d%s", namePrefix, seq, startLSN, nameSuffix)
}

// FileInfo is one bitmap file discovered by a directory scan.
type FileInfo struct {
	Seq      uint64
	StartLSN uint64
	Name     string
}

// ListFiles enumerates the bitmap files in dir, ordered by sequence
// number. Used by lifecycle/recovery to find the latest file at startup
// and by purge to decide what to delete.
func ListFiles(dir string) ([]FileInfo, error) {
	return listFiles(dir)
}

func listFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "list bitmap directory")
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := nameRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		seq, err1 := strconv.ParseUint(m[1], 10, 64)
		lsn, err2 := strconv.ParseUint(m[2], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, FileInfo{Seq: seq, StartLSN: lsn, Name: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Writer is the append-only bitmap file output stream: one named file per
// sequence number, rotated before the next flush once it has reached
// MaxFileSize.
type Writer struct {
	dir         string
	seq         uint64
	maxFileSize int64

	file   *os.File
	offset int64
	metric *metrics.Metrics
}

// SetMetrics attaches the collectors Append and Rotate update. Passing nil
// disables instrumentation, which is the zero-value behavior.
func (w *Writer) SetMetrics(m *metrics.Metrics) {
	w.metric = m
}

// NewWriter returns a writer with no file open yet; call Open to create
// the first output file.
func NewWriter(dir string, startSeq uint64, maxFileSize int64) *Writer {
	return &Writer{dir: dir, seq: startSeq, maxFileSize: maxFileSize}
}

// Seq reports the writer's current sequence number.
func (w *Writer) Seq() uint64 { return w.seq }

// Offset reports how many bytes have been written to the current file.
func (w *Writer) Offset() int64 { return w.offset }

// Open creates the file named by the writer's current sequence and
// startLSN. A pre-existing zero-length file with that name may be
// overwritten (it is the remnant of a prior crash before any block was
// written); a non-empty existing file is a fatal condition, since bitmap
// sequence numbers are never reused for distinct content.
func (w *Writer) Open(startLSN uint64) error {
	path := filepath.Join(w.dir, FileName(w.seq, startLSN))

	if info, err := os.Stat(path); err == nil {
		if info.Size() != 0 {
			return errors.Errorf("bitmap file %s already exists and is not empty", path)
		}
		if err := os.Remove(path); err != nil {
			return errors.Wrap(err, "remove stale empty bitmap file")
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "stat bitmap file")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return errors.Wrap(err, "create bitmap file")
	}

	w.file = f
	w.offset = 0
	return nil
}

// OpenForAppend reopens an existing file for continued appending, used by
// lifecycle recovery when the latest file still has a usable tail: size is
// the offset (already truncated to a whole number of blocks) to resume
// writing at.
func OpenForAppend(dir string, seq, startLSN uint64, maxFileSize, size int64) (*Writer, error) {
	path := filepath.Join(dir, FileName(seq, startLSN))
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "reopen bitmap file for append")
	}
	return &Writer{dir: dir, seq: seq, maxFileSize: maxFileSize, file: f, offset: size}, nil
}

// Append writes one encoded block at the current offset and fsyncs it.
// Any failure here is a BitmapWriteError: the caller disables further
// tracking but every block flushed before this one remains valid.
func (w *Writer) Append(b *bitmap.Block) error {
	buf := b.Encode()

	n, err := w.file.WriteAt(buf, w.offset)
	if err != nil {
		return errors.Wrapf(trackerr.ErrBitmapWriteError, "write block at offset %d: %v", w.offset, err)
	}
	if n != len(buf) {
		return errors.Wrapf(trackerr.ErrBitmapWriteError, "short write at offset %d: wrote %d of %d bytes", w.offset, n, len(buf))
	}
	if err := w.file.Sync(); err != nil {
		return errors.Wrapf(trackerr.ErrBitmapWriteError, "fsync bitmap file: %v", err)
	}

	w.offset += bitmap.BlockSize
	if w.metric != nil {
		w.metric.BytesFlushed.Add(float64(len(buf)))
		w.metric.BlocksWritten.Inc()
	}
	return nil
}

// NeedsRotation reports whether the writer has crossed MaxFileSize and
// should be rotated before the next flush begins.
func (w *Writer) NeedsRotation() bool {
	return w.maxFileSize > 0 && w.offset >= w.maxFileSize
}

// Rotate closes the current file, advances the sequence number, and opens
// a new file named with nextStartLSN.
func (w *Writer) Rotate(nextStartLSN uint64) error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			logs.Warn("closing bitmap file during rotation", err)
		}
	}
	w.seq++
	if err := w.Open(nextStartLSN); err != nil {
		return err
	}
	if w.metric != nil {
		w.metric.FilesRotated.Inc()
	}
	return nil
}

// Close closes the current output file, if any.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
