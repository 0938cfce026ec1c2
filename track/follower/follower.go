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

// Package follower implements the log follower (C7): per checkpoint, it
// reads newly-written redo in fixed chunks, classifies records, updates
// the modified-page set, and flushes a write batch to the bitmap file
// writer.
package follower

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dbtools/pagetracker/track/bitmapfile"
	"github.com/dbtools/pagetracker/track/classify"
	"github.com/dbtools/pagetracker/track/external"
	"github.com/dbtools/pagetracker/track/logs"
	"github.com/dbtools/pagetracker/track/metrics"
	"github.com/dbtools/pagetracker/track/pageset"
	"github.com/dbtools/pagetracker/track/trackerr"
)

// DefaultChunkSize is 4 * the largest InnoDB page size (16 KiB), matching
// the original's CHUNK_SIZE constant.
const DefaultChunkSize = 4 * 16384

// Deps bundles everything one Follow call needs; the tracker owns all of
// it and passes it in under its mutex.
type Deps struct {
	Redo    external.RedoReader
	Parser  external.RecordParser
	Spaces  external.SpaceMetadata
	Clock   external.CheckpointClock
	Sink    external.PublishedStateSink
	Writer  *bitmapfile.Writer
	Set     *pageset.Set
	Metrics *metrics.Metrics

	ChunkSize int64 // defaults to DefaultChunkSize if zero
}

// Follow runs one follower invocation starting at startLSN and returns the
// new start_lsn. On any failure, it returns startLSN unchanged so the next
// tick retries the same interval; callers should check
// errors.Is(err, trackerr.ErrBitmapWriteError) to decide whether to
// disable further tracking, per the write-error policy.
func Follow(ctx context.Context, d Deps, startLSN uint64) (uint64, error) {
	chunkSize := d.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	endLSN, err := d.Clock.LastCheckpointLSN()
	if err != nil {
		return startLSN, errors.Wrap(err, "read checkpoint lsn")
	}
	if endLSN == startLSN {
		return startLSN, nil
	}
	if endLSN < startLSN {
		return startLSN, errors.Errorf("checkpoint lsn %d moved backwards from %d", endLSN, startLSN)
	}

	contiguousStart := startLSN - startLSN%OSLogBlockSize
	nextParseLSN := startLSN
	var parseBuf []byte

	readBuf := make([]byte, chunkSize)
	for chunkStart := contiguousStart; chunkStart < endLSN; chunkStart += uint64(chunkSize) {
		chunkEnd := chunkStart + uint64(chunkSize)
		if chunkEnd > endLSN {
			chunkEnd = endLSN
		}
		// round chunkEnd up to a block boundary so we never read a
		// partial trailing block.
		if rem := chunkEnd % OSLogBlockSize; rem != 0 {
			chunkEnd += OSLogBlockSize - rem
		}

		n, err := d.Redo.ReadLogSegment(ctx, readBuf, chunkStart, chunkEnd)
		if err != nil {
			return startLSN, errors.Wrap(err, "read redo log segment")
		}

		for off := 0; off+OSLogBlockSize <= n; off += OSLogBlockSize {
			block := readBuf[off : off+OSLogBlockSize]
			blockLSN := chunkStart + uint64(off)

			if isAllZero(block) {
				continue
			}
			if !blockChecksumValid(block) {
				if d.Metrics != nil {
					d.Metrics.ChecksumFailures.Inc()
				}
				return startLSN, errors.Wrapf(trackerr.ErrLogBlockChecksum, "block at lsn %d", blockLSN)
			}

			skip := 0
			if nextParseLSN > blockLSN {
				off64 := nextParseLSN - blockLSN
				if off64 > LogBlockHdrSize {
					skip = int(off64) - LogBlockHdrSize
				}
			}

			payload := block[LogBlockHdrSize : OSLogBlockSize-LogBlockTrlSize]
			if skip < len(payload) {
				parseBuf = append(parseBuf, payload[skip:]...)
			}
		}

		parseBuf, nextParseLSN, err = drainRecords(d, parseBuf, nextParseLSN)
		if err != nil {
			return startLSN, err
		}
	}

	if len(parseBuf) != 0 {
		logs.Warn("follower: parse buffer not empty at end of interval", len(parseBuf))
	}

	if d.Writer.NeedsRotation() {
		if err := d.Writer.Rotate(startLSN); err != nil {
			return startLSN, errors.Wrap(trackerr.ErrBitmapWriteError, err.Error())
		}
	}

	nodes := d.Set.Nodes()
	for i, n := range nodes {
		n.Block.StartLSN = startLSN
		n.Block.EndLSN = endLSN
		n.Block.IsLastBlock = i == len(nodes)-1
		if err := d.Writer.Append(n.Block); err != nil {
			return startLSN, err
		}
	}
	d.Set.Clear()

	d.Sink.SetTrackedLSN(endLSN)
	return endLSN, nil
}

// drainRecords runs the classifier in a loop over buf, applying complete
// records to the modified-page set and returning the unconsumed tail
// (shifted to the front) plus the LSN reached.
func drainRecords(d Deps, buf []byte, lsn uint64) ([]byte, uint64, error) {
	pos := 0
	for pos < len(buf) {
		res, err := classify.Classify(d.Parser, d.Spaces, buf[pos:])
		if err != nil {
			return nil, lsn, err
		}

		switch res.Outcome {
		case classify.Incomplete:
			return append([]byte(nil), buf[pos:]...), lsn, nil

		case classify.NoPage:
			pos += res.LengthConsumed
			lsn = AdvanceLSN(lsn, res.LengthConsumed)

		case classify.WithPage:
			d.Set.SetBit(res.Space, res.Page)
			pos += res.LengthConsumed
			lsn = AdvanceLSN(lsn, res.LengthConsumed)

		case classify.IndexLoadExpand:
			for p := uint32(0); p < res.PageCount; p++ {
				d.Set.SetBit(res.Space, p)
			}
			pos += res.LengthConsumed
			lsn = AdvanceLSN(lsn, res.LengthConsumed)
		}
	}
	return nil, lsn, nil
}
