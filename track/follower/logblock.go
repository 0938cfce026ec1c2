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

package follower

import "encoding/binary"

// Layout of one raw redo log block, matching the reference project's
// LogBlock struct (HeaderNumber/BlockSize/Offset/CurrentActiveCheckpoint
// header, a payload region, and a trailing checksum) collapsed to the two
// offsets the follower actually needs: where payload starts and ends.
const (
	OSLogBlockSize  = 512
	LogBlockHdrSize = 12
	LogBlockTrlSize = 4
	logBlockPayload = OSLogBlockSize - LogBlockHdrSize - LogBlockTrlSize
	logBlockCkOff   = OSLogBlockSize - LogBlockTrlSize
)

func isAllZero(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

// blockChecksum applies the same rolling additive-shift formula used for
// bitmap blocks (the one bit-exact checksum this module's source material
// actually specifies) to a raw redo log block's header+payload bytes, to
// decide whether the block was corrupted in transit. Real InnoDB log
// blocks carry their own distinct checksum algorithm, but that algorithm
// is not part of this module's external contract (the redo log itself is
// an external collaborator); reusing the one specified formula keeps
// corruption detection deterministic and testable without inventing an
// unspecified one.
func blockChecksum(block []byte) uint32 {
	var sum uint32 = 1
	var sh uint32
	for _, b := range block[:logBlockCkOff] {
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

func blockChecksumValid(block []byte) bool {
	return binary.BigEndian.Uint32(block[logBlockCkOff:]) == blockChecksum(block)
}

// AdvanceLSN advances lsn by dataLen logical payload bytes, accounting for
// any log block header/trailer crossed along the way. This is essential
// to re-enter mid-block on the next follow cycle without re-reporting
// records: start_lsn is rounded down to a block boundary for reading, but
// next_parse_lsn must stay at the exact record boundary.
func AdvanceLSN(lsn uint64, dataLen int) uint64 {
	blockStart := lsn - lsn%OSLogBlockSize
	offset := int64(lsn%OSLogBlockSize) - LogBlockHdrSize
	if offset < 0 {
		offset = 0
	}

	remaining := int64(dataLen)
	for remaining > 0 {
		avail := int64(logBlockPayload) - offset
		if remaining <= avail {
			offset += remaining
			remaining = 0
		} else {
			remaining -= avail
			blockStart += OSLogBlockSize
			offset = 0
		}
	}
	return blockStart + uint64(LogBlockHdrSize) + uint64(offset)
}
